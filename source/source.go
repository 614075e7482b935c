// Package source provides the random access byte sources images are read
// from: memory mapped local files, HTTP servers accepting range requests
// and cloud buckets.
package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// Source is a sized, concurrency safe io.ReaderAt that must be closed.
type Source interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Open opens uri. http and https URLs are read with range requests, other
// URLs with a scheme (s3://bucket/key, file:///dir/key, mem://) name an
// object in a gocloud bucket, anything else is a local file mapped into
// memory.
func Open(ctx context.Context, uri string) (Source, error) {
	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return NewHTTPRangeReader(ctx, uri, nil)
	case strings.Contains(uri, "://"):
		bucketURL, key, err := splitBlobURL(uri)
		if err != nil {
			return nil, err
		}
		bucket, err := blob.OpenBucket(ctx, bucketURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open bucket %s: %w", bucketURL, err)
		}
		r, err := NewBlobReader(ctx, bucket, key)
		if err != nil {
			bucket.Close()
			return nil, err
		}
		r.ownsBucket = true
		return r, nil
	default:
		return OpenFile(uri)
	}
}

// splitBlobURL separates the object key, the last path element, from the
// bucket URL. Query parameters stay with the bucket.
func splitBlobURL(uri string) (string, string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid blob url %q: %w", uri, err)
	}
	if u.Scheme == "s3" || u.Scheme == "gs" || u.Scheme == "azblob" {
		// The host is the bucket, the whole path is the key.
		key := strings.TrimPrefix(u.Path, "/")
		if key == "" {
			return "", "", fmt.Errorf("blob url %q has no key", uri)
		}
		u.Path = ""
		return u.String(), key, nil
	}
	i := strings.LastIndex(u.Path, "/")
	key := u.Path[i+1:]
	if key == "" {
		return "", "", fmt.Errorf("blob url %q has no key", uri)
	}
	u.Path = u.Path[:max(i, 0)]
	return u.String(), key, nil
}
