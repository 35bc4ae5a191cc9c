// Package media removes product images stored in Cloud Storage.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
)

var ErrForeignURL = errors.New("url does not point into the bucket")

type Bucket struct {
	client *storage.Client
	name   string
}

func NewBucket(client *storage.Client, name string) *Bucket {
	return &Bucket{client: client, name: name}
}

// Remove deletes the object behind imageURL. URLs that point elsewhere (an
// external CDN, a placeholder service) are left alone, as are objects that
// are already gone.
func (b *Bucket) Remove(ctx context.Context, imageURL string) error {
	bucket, object, err := ObjectPath(imageURL)
	if err != nil || bucket != b.name {
		return nil
	}
	err = b.client.Bucket(bucket).Object(object).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete gs://%s/%s: %w", bucket, object, err)
	}
	return nil
}

// ObjectPath extracts bucket and object name from the URL forms product
// images are stored under:
//
//	https://firebasestorage.googleapis.com/v0/b/<bucket>/o/<escaped object>?alt=media&token=...
//	https://storage.googleapis.com/<bucket>/<object>
//	gs://<bucket>/<object>
func ObjectPath(raw string) (bucket, object string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", err
	}
	switch {
	case u.Scheme == "gs":
		bucket, object = u.Host, strings.TrimPrefix(u.Path, "/")
	case u.Host == "storage.googleapis.com":
		bucket, object, _ = strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	case u.Host == "firebasestorage.googleapis.com":
		rest, ok := strings.CutPrefix(u.EscapedPath(), "/v0/b/")
		if !ok {
			return "", "", ErrForeignURL
		}
		var escaped string
		bucket, escaped, ok = strings.Cut(rest, "/o/")
		if !ok {
			return "", "", ErrForeignURL
		}
		if object, err = url.PathUnescape(escaped); err != nil {
			return "", "", err
		}
	default:
		return "", "", ErrForeignURL
	}
	if bucket == "" || object == "" {
		return "", "", ErrForeignURL
	}
	return bucket, object, nil
}
