package images

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plainDownloader struct{}

func (plainDownloader) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return http.DefaultClient.Do(req)
}

type fakeBlob struct {
	calls   atomic.Int32
	folders []string
	err     error
}

func (f *fakeBlob) Upload(_ context.Context, localPath, folder string) (string, string, error) {
	f.calls.Add(1)
	f.folders = append(f.folders, folder)
	if f.err != nil {
		return "", "", f.err
	}
	return "https://cdn.example/" + filepath.Base(localPath), "asset-1", nil
}

func TestPhotoFilename(t *testing.T) {
	assert.Equal(t, "F000000001234521.jpg", photoFilename("12345"))
	assert.Equal(t, "F111111111111121.jpg", photoFilename("1111111111111"))
}

func TestAcquire_DownloadsAndUploads(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/fotos/F000000000055521.jpg", r.URL.Path)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("\xff\xd8\xff jpeg bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	blob := &fakeBlob{}
	a := NewAcquirer(plainDownloader{}, blob, dir, srv.URL+"/fotos")

	ref, err := a.Acquire(context.Background(), "555", "SP", "São Paulo")
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, "asset-1", ref.ID)
	assert.Contains(t, ref.URL, "F000000000055521.jpg")
	assert.Equal(t, []string{"imoveis/SP/São Paulo"}, blob.folders)

	// The file landed in the per-state cache dir.
	_, statErr := os.Stat(filepath.Join(dir, "SP", "F000000000055521.jpg"))
	assert.NoError(t, statErr)

	// Second acquisition is a cache hit: no fetch, no upload, nil ref.
	ref, err = a.Acquire(context.Background(), "555", "SP", "São Paulo")
	require.NoError(t, err)
	assert.Nil(t, ref)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int32(1), blob.calls.Load())
}

func TestAcquire_RejectsNonImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>não encontrado</html>"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	blob := &fakeBlob{}
	a := NewAcquirer(plainDownloader{}, blob, dir, srv.URL)

	ref, err := a.Acquire(context.Background(), "1", "RJ", "Rio de Janeiro")
	require.Error(t, err)
	assert.Nil(t, ref)
	assert.Equal(t, int32(0), blob.calls.Load())

	// No cache file left behind: the next run must retry.
	entries, _ := os.ReadDir(filepath.Join(dir, "RJ"))
	assert.Empty(t, entries)
}

func TestAcquire_RejectsEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
	}))
	defer srv.Close()

	a := NewAcquirer(plainDownloader{}, &fakeBlob{}, t.TempDir(), srv.URL)
	_, err := a.Acquire(context.Background(), "2", "MG", "Belo Horizonte")
	assert.Error(t, err)
}

func TestAcquire_UploadFailureDropsCacheFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	blob := &fakeBlob{err: assert.AnError}
	a := NewAcquirer(plainDownloader{}, blob, dir, srv.URL)

	_, err := a.Acquire(context.Background(), "3", "BA", "Salvador")
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "BA", photoFilename("3")))
	assert.True(t, os.IsNotExist(statErr))
}

func TestAcquire_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	a := NewAcquirer(plainDownloader{}, &fakeBlob{}, t.TempDir(), srv.URL)
	ref, err := a.Acquire(context.Background(), "4", "CE", "Fortaleza")
	require.Error(t, err)
	assert.Nil(t, ref)
}
