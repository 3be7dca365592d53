// Package objstore wraps the S3-compatible object-storage transport. Byte
// transfer, retries and backoff all live inside the minio client.
package objstore

import (
	"context"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

type Client struct {
	mc *minio.Client
}

func New(endpoint, accessKey, secretKey string, useSSL bool) (*Client, error) {
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "object storage client for %s", endpoint)
	}
	return &Client{mc: mc}, nil
}

func (c *Client) Download(ctx context.Context, bucket, key, localPath string) error {
	err := c.mc.FGetObject(ctx, bucket, key, localPath, minio.GetObjectOptions{})
	return errors.Wrapf(err, "download %s/%s", bucket, key)
}

func (c *Client) Upload(ctx context.Context, bucket, key, localPath string) error {
	_, err := c.mc.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{})
	return errors.Wrapf(err, "upload %s/%s", bucket, key)
}
