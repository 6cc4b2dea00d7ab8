package blobstore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir(), "/blobs", zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestLocalStore_UploadAndDelete(t *testing.T) {
	store := newTestStore(t)
	data := bytes.Repeat([]byte("x"), 3*chunkSize+100)

	obj, err := store.Upload(context.Background(), "owner-1", File{
		Name:     "lab result.pdf",
		MimeType: "application/pdf",
		Data:     data,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(len(data)), obj.SizeBytes)
	assert.Contains(t, obj.URL, "/blobs/owner-1/")
	assert.Contains(t, obj.Path, "lab_result.pdf", "spaces are sanitized")

	stored, err := os.ReadFile(filepath.Join(store.baseDir, obj.Path))
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	require.NoError(t, store.Delete(context.Background(), obj.Path))
	_, err = os.Stat(filepath.Join(store.baseDir, obj.Path))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStore_ProgressMonotonicTo100(t *testing.T) {
	store := newTestStore(t)

	var reports []int
	_, err := store.Upload(context.Background(), "owner-1", File{
		Name: "scan.png",
		Data: bytes.Repeat([]byte("y"), 2*chunkSize+5),
	}, func(percent int) {
		reports = append(reports, percent)
	})
	require.NoError(t, err)

	require.NotEmpty(t, reports)
	last := -1
	for _, p := range reports {
		assert.GreaterOrEqual(t, p, last, "progress must be monotonic")
		assert.LessOrEqual(t, p, 100)
		last = p
	}
	assert.Equal(t, 100, reports[len(reports)-1])
}

func TestLocalStore_EmptyFileReportsCompletion(t *testing.T) {
	store := newTestStore(t)

	var reports []int
	obj, err := store.Upload(context.Background(), "owner-1", File{Name: "empty.txt"}, func(p int) {
		reports = append(reports, p)
	})
	require.NoError(t, err)

	assert.Zero(t, obj.SizeBytes)
	assert.Equal(t, []int{100}, reports)
}

func TestLocalStore_UploadCanceled(t *testing.T) {
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Upload(ctx, "owner-1", File{
		Name: "big.pdf",
		Data: bytes.Repeat([]byte("z"), chunkSize),
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// Nothing is left behind for the canceled upload.
	entries, err := os.ReadDir(filepath.Join(store.baseDir, "owner-1"))
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestLocalStore_DeleteRejectsEscapingPath(t *testing.T) {
	store := newTestStore(t)

	err := store.Delete(context.Background(), "../outside.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")
}

func TestLocalStore_DeleteMissingBlob(t *testing.T) {
	store := newTestStore(t)
	assert.Error(t, store.Delete(context.Background(), "owner-1/nope.pdf"))
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"my file (1).pdf", "my_file_1_.pdf"},
		{"../../etc/passwd", "passwd"},
		{"..", "file"},
		{"", "file"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitize(tt.in))
		})
	}
}
