// Package workspace derives object-storage coordinates and unique local
// scratch paths from resource URLs, and cleans up the scratch files.
package workspace

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/you/slicerd/internal/domain"
)

type Workspace struct {
	dir string
}

func New(dir string) *Workspace {
	return &Workspace{dir: dir}
}

// Resource splits scheme://host/bucket/key... into bucket and key and
// assigns a local path unique per call, so two concurrent jobs slicing the
// same object never collide on disk.
func (w *Workspace) Resource(rawURL string) (domain.Resource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return domain.Resource{}, errors.Wrapf(err, "parse resource url %q", rawURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return domain.Resource{}, errors.Errorf("resource url %q: missing scheme or host", rawURL)
	}
	trimmed := strings.TrimPrefix(u.Path, "/")
	bucket, key, found := strings.Cut(trimmed, "/")
	if !found || bucket == "" || key == "" {
		return domain.Resource{}, errors.Errorf("resource url %q: path must be /bucket/key", rawURL)
	}
	local := filepath.Join(w.dir, uuid.NewString()+"-"+path.Base(key))
	return domain.Resource{
		URL:       rawURL,
		Bucket:    bucket,
		Key:       key,
		LocalPath: local,
	}, nil
}

// Cleanup removes the local copies of the given resources. A file that was
// never created is not an error; anything else is aggregated and returned
// for logging only.
func (w *Workspace) Cleanup(resources ...domain.Resource) error {
	var errs error
	for _, r := range resources {
		if r.LocalPath == "" {
			continue
		}
		if err := os.Remove(r.LocalPath); err != nil && !os.IsNotExist(err) {
			errs = multierr.Append(errs, errors.Wrapf(err, "remove %s", r.LocalPath))
		}
	}
	return errs
}
