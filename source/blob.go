package source

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
)

// BlobReader reads an object of a gocloud bucket (S3, GCS, Azure, local
// directory, memory) with ranged reads.
type BlobReader struct {
	ctx    context.Context
	bucket *blob.Bucket
	key    string
	size   int64

	// ownsBucket is set when Close must close the bucket too.
	ownsBucket bool
}

// NewBlobReader creates a new reader for a blob in a bucket.
func NewBlobReader(ctx context.Context, bucket *blob.Bucket, key string) (*BlobReader, error) {
	// Get attributes to determine file size and existence.
	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get attributes for key %s: %w", key, err)
	}

	return &BlobReader{
		ctx:    ctx,
		bucket: bucket,
		key:    key,
		size:   attrs.Size,
	}, nil
}

func (r *BlobReader) Size() int64 { return r.size }

// Close closes the bucket when the reader opened it.
func (r *BlobReader) Close() error {
	if r.ownsBucket {
		return r.bucket.Close()
	}
	return nil
}

// ReadAt reads len(p) bytes at off with one range reader.
func (r *BlobReader) ReadAt(p []byte, off int64) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("blob.readAt: invalid offset %d", off)
	}
	if off >= r.size {
		return 0, io.EOF
	}

	length := int64(len(p))
	if off+length > r.size {
		length = r.size - off
	}

	// gocloud.dev/blob takes an offset and a length, not an end byte.
	reader, err := r.bucket.NewRangeReader(r.ctx, r.key, off, length, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create range reader: %w", err)
	}
	defer reader.Close()

	n, err = io.ReadFull(reader, p[:length])
	if err == nil && length < int64(len(p)) {
		err = io.EOF
	}
	return n, err
}
