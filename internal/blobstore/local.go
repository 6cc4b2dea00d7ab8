package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// chunkSize is the write granularity for progress reporting.
const chunkSize = 64 * 1024

// unsafeChars collapses anything outside a conservative filename alphabet.
var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// LocalStore implements Store on the local filesystem. Blobs live under
// baseDir/<ownerID>/<uuid>_<name>; the stored path never escapes baseDir.
type LocalStore struct {
	baseDir   string
	urlPrefix string
	logger    *zap.Logger
}

// NewLocalStore creates a local blob store rooted at baseDir. urlPrefix is
// prepended to the relative path to form the record-visible URL.
func NewLocalStore(baseDir, urlPrefix string, logger *zap.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &LocalStore{
		baseDir:   baseDir,
		urlPrefix: strings.TrimSuffix(urlPrefix, "/"),
		logger:    logger,
	}, nil
}

// Upload writes the file in chunks, reporting monotonic byte progress and
// honoring context cancellation between chunks.
func (s *LocalStore) Upload(ctx context.Context, ownerID string, file File, onProgress ProgressFunc) (*Object, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}

	relPath := filepath.Join(sanitize(ownerID), uuid.NewString()+"_"+sanitize(file.Name))
	fullPath := filepath.Join(s.baseDir, relPath)

	if err := s.validatePath(fullPath); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create owner directory: %w", err)
	}

	out, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob: %w", err)
	}

	total := len(file.Data)
	written := 0
	for written < total {
		if err := ctx.Err(); err != nil {
			out.Close()
			os.Remove(fullPath)
			return nil, fmt.Errorf("upload canceled: %w", err)
		}

		end := written + chunkSize
		if end > total {
			end = total
		}
		n, err := out.Write(file.Data[written:end])
		if err != nil {
			out.Close()
			os.Remove(fullPath)
			return nil, fmt.Errorf("failed to write blob: %w", err)
		}
		written += n

		if onProgress != nil {
			onProgress(written * 100 / max(total, 1))
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(fullPath)
		return nil, fmt.Errorf("failed to finalize blob: %w", err)
	}

	// Zero-byte files still report completion.
	if onProgress != nil && total == 0 {
		onProgress(100)
	}

	s.logger.Debug("Blob stored",
		zap.String("path", relPath),
		zap.Int("size", total))

	return &Object{
		URL:       s.urlPrefix + "/" + filepath.ToSlash(relPath),
		Path:      relPath,
		SizeBytes: int64(total),
	}, nil
}

// Delete removes a stored blob by its relative path.
func (s *LocalStore) Delete(_ context.Context, path string) error {
	fullPath := filepath.Join(s.baseDir, path)
	if err := s.validatePath(fullPath); err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	s.logger.Debug("Blob deleted", zap.String("path", path))
	return nil
}

// validatePath checks the resolved path stays inside baseDir.
func (s *LocalStore) validatePath(fullPath string) error {
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base path: %w", err)
	}
	if absPath != absBase && !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return fmt.Errorf("path escapes blob directory: %s", fullPath)
	}
	return nil
}

func sanitize(name string) string {
	name = filepath.Base(name)
	name = unsafeChars.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}
