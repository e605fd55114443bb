// Package store abstracts the namespaced content store that holds published
// site files.
package store

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound indicates no object exists at the requested key.
var ErrNotFound = errors.New("store: object not found")

// Object is one stored file with the metadata the store assigned on write.
type Object struct {
	Body         io.ReadCloser
	ContentType  string
	ETag         string
	LastModified time.Time
	Size         int64
}

// ContentStore persists published files under {namespace}/{path} keys.
// Objects are written once and never mutated in place; a redeploy publishes
// under a fresh namespace.
type ContentStore interface {
	Put(ctx context.Context, namespace, path string, body io.Reader, contentType string) error
	Get(ctx context.Context, namespace, path string) (*Object, error)
}

// Key joins a namespace and a relative path into a store key.
func Key(namespace, path string) string {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	return namespace + "/" + path
}
