// Package images downloads listing photos from the bank's photo server
// and mirrors them to a blob store, keeping a local per-state cache so a
// photo is fetched and uploaded at most once across runs.
package images

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// photoCodeWidth is the zero-padded width of the listing code in photo
// filenames on the origin server.
const photoCodeWidth = 13

// Downloader issues session GETs. Satisfied by fetcher.Client.
type Downloader interface {
	Get(ctx context.Context, rawURL string) (*http.Response, error)
}

// BlobStore uploads a local file into a named folder and returns its
// public URL and asset ID.
type BlobStore interface {
	Upload(ctx context.Context, localPath, folder string) (url, id string, err error)
}

// Ref points at an uploaded photo.
type Ref struct {
	URL string
	ID  string
}

// Acquirer fetches one photo per listing and pushes it to the blob store.
type Acquirer struct {
	http Downloader
	blob BlobStore

	// baseDir is the root of the local cache, one subdirectory per state.
	baseDir string
	// photoBaseURL is the origin directory the photo filenames hang off.
	photoBaseURL string
}

// NewAcquirer builds an acquirer. photoBaseURL is the origin photo
// directory without a trailing slash.
func NewAcquirer(d Downloader, blob BlobStore, baseDir, photoBaseURL string) *Acquirer {
	return &Acquirer{
		http:         d,
		blob:         blob,
		baseDir:      baseDir,
		photoBaseURL: strings.TrimSuffix(photoBaseURL, "/"),
	}
}

// photoFilename derives the origin filename for a listing code: the code
// zero-padded to thirteen digits between the "F" prefix and "21" suffix.
func photoFilename(code string) string {
	if pad := photoCodeWidth - len(code); pad > 0 {
		code = strings.Repeat("0", pad) + code
	}
	return "F" + code + "21.jpg"
}

// PhotoURL returns the origin URL of a listing's photo.
func (a *Acquirer) PhotoURL(code string) string {
	return a.photoBaseURL + "/" + photoFilename(code)
}

// Acquire fetches the photo for a listing and uploads it, caching the
// file under baseDir/region. A cache hit returns (nil, nil) with no
// network traffic: the blob store already has the asset from the run
// that populated the cache. Failures are returned for the caller to log;
// a missing photo never aborts a listing.
func (a *Acquirer) Acquire(ctx context.Context, code, region, city string) (*Ref, error) {
	filename := photoFilename(code)
	localDir := filepath.Join(a.baseDir, region)
	localPath := filepath.Join(localDir, filename)

	if _, err := os.Stat(localPath); err == nil {
		zap.L().Debug("photo already cached", zap.String("code", code), zap.String("path", localPath))
		return nil, nil
	}

	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "images: create cache dir %s", localDir)
	}
	if err := a.download(ctx, a.PhotoURL(code), localPath); err != nil {
		return nil, err
	}

	folder := fmt.Sprintf("imoveis/%s/%s", region, city)
	url, id, err := a.blob.Upload(ctx, localPath, folder)
	if err != nil {
		// Drop the local copy so the next run retries instead of
		// treating the failed upload as done.
		_ = os.Remove(localPath)
		return nil, eris.Wrapf(err, "images: upload %s", filename)
	}

	zap.L().Info("photo mirrored",
		zap.String("code", code),
		zap.String("folder", folder),
		zap.String("url", url),
	)
	return &Ref{URL: url, ID: id}, nil
}

// download streams the photo to localPath, rejecting non-image payloads.
// The origin answers missing photos with HTML error pages under a 200,
// so the content type and a non-empty body are both checked.
func (a *Acquirer) download(ctx context.Context, photoURL, localPath string) error {
	resp, err := a.http.Get(ctx, photoURL)
	if err != nil {
		return eris.Wrapf(err, "images: fetch %s", photoURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return eris.Errorf("images: fetch %s: status %d", photoURL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		_, _ = io.Copy(io.Discard, resp.Body)
		return eris.Errorf("images: fetch %s: not an image (%s)", photoURL, ct)
	}

	f, err := os.Create(localPath)
	if err != nil {
		return eris.Wrapf(err, "images: create %s", localPath)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(localPath)
		return eris.Wrapf(err, "images: write %s", localPath)
	}
	if n == 0 {
		_ = os.Remove(localPath)
		return eris.Errorf("images: fetch %s: empty body", photoURL)
	}
	return nil
}
