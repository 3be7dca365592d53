package queue

import (
	"context"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
)

// broker is the primitive lease-queue transport. Each named queue is a ZSET
// of handles scored by visible-at time (unix ms) plus a companion HASH of
// handle -> message body.
type broker interface {
	Claim(ctx context.Context, queue string, lease time.Duration) (handle, body string, ok bool, err error)
	Extend(ctx context.Context, queue, handle string, lease time.Duration) (bool, error)
	Release(ctx context.Context, queue, handle string) error
	Delete(ctx context.Context, queue, handle string) error
	Depth(ctx context.Context, queue string) (int64, error)
}

// claimScript atomically pops the earliest visible handle and pushes its
// visibility deadline one lease into the future. Redis runs scripts
// serially, so two workers can never claim the same handle.
var claimScript = r.NewScript(`
local m = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #m == 0 then return false end
redis.call('ZADD', KEYS[1], ARGV[2], m[1])
local body = redis.call('HGET', KEYS[2], m[1])
return {m[1], body}
`)

type redisBroker struct{ rdb *r.Client }

func newRedisBroker(rdb *r.Client) *redisBroker { return &redisBroker{rdb} }

func bodiesKey(queue string) string { return queue + ":bodies" }

func (b *redisBroker) Claim(ctx context.Context, queue string, lease time.Duration) (string, string, bool, error) {
	now := time.Now().UnixMilli()
	res, err := claimScript.Run(ctx, b.rdb,
		[]string{queue, bodiesKey(queue)},
		now, now+lease.Milliseconds(),
	).Result()
	if err == r.Nil {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, errors.Wrapf(err, "claim from %s", queue)
	}
	pair, ok := res.([]interface{})
	if !ok || len(pair) != 2 {
		return "", "", false, errors.Errorf("claim from %s: unexpected reply %v", queue, res)
	}
	handle, _ := pair[0].(string)
	body, _ := pair[1].(string)
	return handle, body, true, nil
}

func (b *redisBroker) Extend(ctx context.Context, queue, handle string, lease time.Duration) (bool, error) {
	deadline := float64(time.Now().Add(lease).UnixMilli())
	n, err := b.rdb.ZAddArgs(ctx, queue, r.ZAddArgs{
		XX:      true,
		Ch:      true,
		Members: []r.Z{{Score: deadline, Member: handle}},
	}).Result()
	if err != nil {
		return false, errors.Wrapf(err, "extend %s on %s", handle, queue)
	}
	return n > 0, nil
}

func (b *redisBroker) Release(ctx context.Context, queue, handle string) error {
	// Score zero makes the handle immediately claimable again.
	err := b.rdb.ZAddArgs(ctx, queue, r.ZAddArgs{
		XX:      true,
		Members: []r.Z{{Score: 0, Member: handle}},
	}).Err()
	return errors.Wrapf(err, "release %s on %s", handle, queue)
}

func (b *redisBroker) Delete(ctx context.Context, queue, handle string) error {
	pipe := b.rdb.TxPipeline()
	pipe.ZRem(ctx, queue, handle)
	pipe.HDel(ctx, bodiesKey(queue), handle)
	_, err := pipe.Exec(ctx)
	return errors.Wrapf(err, "delete %s from %s", handle, queue)
}

func (b *redisBroker) Depth(ctx context.Context, queue string) (int64, error) {
	n, err := b.rdb.ZCard(ctx, queue).Result()
	return n, errors.Wrapf(err, "depth of %s", queue)
}

// Push enqueues a message body under a caller-chosen handle, immediately
// visible. Producers live elsewhere; this exists for tooling and tests.
func (b *redisBroker) Push(ctx context.Context, queue, handle, body string) error {
	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, bodiesKey(queue), handle, body)
	pipe.ZAdd(ctx, queue, r.Z{Score: float64(time.Now().UnixMilli()), Member: handle})
	_, err := pipe.Exec(ctx)
	return errors.Wrapf(err, "push to %s", queue)
}
