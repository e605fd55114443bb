// Package publisher pushes a build's output tree into the content store
// under the deployment's namespace.
package publisher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/skiffhq/skiff/internal/contenttype"
	"github.com/skiffhq/skiff/internal/store"
)

// PublicationError marks a failed publication. A deployment whose artifacts
// did not fully publish must never be marked deployed.
type PublicationError struct {
	Err error
}

func (e *PublicationError) Error() string {
	return fmt.Sprintf("publication failed: %v", e.Err)
}

func (e *PublicationError) Unwrap() error { return e.Err }

// UploadReport summarizes a successful publication.
type UploadReport struct {
	Files int
	Bytes int64
}

// Publisher uploads build artifacts.
type Publisher struct {
	store  store.ContentStore
	logger *slog.Logger
}

// New constructs a Publisher.
func New(contentStore store.ContentStore, logger *slog.Logger) *Publisher {
	return &Publisher{store: contentStore, logger: logger}
}

// Publish walks outputRoot recursively and uploads every regular file to
// {namespace}/{path relative to outputRoot}. A missing root or an empty tree
// fails the publication: an empty build is a build failure, not a successful
// empty deployment. The first file failure aborts the whole operation.
func (p *Publisher) Publish(ctx context.Context, outputRoot, ns string) (UploadReport, error) {
	info, err := os.Stat(outputRoot)
	if err != nil || !info.IsDir() {
		return UploadReport{}, &PublicationError{Err: fmt.Errorf("output directory %s not found", outputRoot)}
	}

	var report UploadReport
	err = filepath.WalkDir(outputRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(outputRoot, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", rel, err)
		}
		defer f.Close()

		ct := contenttype.FromPath(key)
		if err := p.store.Put(ctx, ns, key, f, ct); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}

		if fi, err := d.Info(); err == nil {
			report.Bytes += fi.Size()
		}
		report.Files++
		p.logger.Debug("uploaded artifact", "namespace", ns, "path", key, "content_type", ct)
		return nil
	})
	if err != nil {
		return UploadReport{}, &PublicationError{Err: err}
	}
	if report.Files == 0 {
		return UploadReport{}, &PublicationError{Err: fmt.Errorf("output directory %s contains no files", outputRoot)}
	}

	p.logger.Info("artifacts published", "namespace", ns, "files", report.Files, "bytes", report.Bytes)
	return report, nil
}
