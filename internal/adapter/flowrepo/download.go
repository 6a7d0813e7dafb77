package flowrepo

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flywind2/t-cell-data/internal/domain"
	"github.com/flywind2/t-cell-data/internal/observability"
)

// archiveExts are the archive members worth extracting: acquisitions,
// gating templates, and workspace exports.
var archiveExts = map[string]bool{".fcs": true, ".csv": true, ".xml": true, ".wsp": true}

// DownloadCache fetches remote files into a local directory keyed by URL
// hash. A cached file is served as-is; downloads write to a temp file and
// rename into place so a partial download is never visible.
type DownloadCache struct {
	dir        string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewDownloadCache creates the cache rooted at dir, creating it if needed.
func NewDownloadCache(dir string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) (*DownloadCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("flowrepo: create cache dir: %w", err)
	}
	return &DownloadCache{
		dir:        dir,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// Fetch downloads one remote file, returning the local path. A prior
// download of the same URL is reused.
func (d *DownloadCache) Fetch(ctx context.Context, file domain.RemoteFile) (string, error) {
	local := filepath.Join(d.dir, cacheKey(file.URL)+sanitizeExt(file.Name))
	if _, err := os.Stat(local); err == nil {
		d.countCache("hit")
		return local, nil
	}
	d.countCache("miss")

	if err := d.download(ctx, file.URL, local); err != nil {
		d.countRequest("file", "error")
		return "", err
	}
	d.countRequest("file", "success")
	d.logger.Debug("file downloaded", "name", file.Name, "path", local)
	return local, nil
}

// FetchArchive downloads a zip export and extracts its recognized members
// into the cache, returning their paths. Member names that escape the
// extraction directory are rejected.
func (d *DownloadCache) FetchArchive(ctx context.Context, archiveURL string) ([]string, error) {
	local := filepath.Join(d.dir, cacheKey(archiveURL)+".zip")
	if _, err := os.Stat(local); err != nil {
		if err := d.download(ctx, archiveURL, local); err != nil {
			d.countRequest("archive", "error")
			return nil, err
		}
		d.countRequest("archive", "success")
	}

	destDir := strings.TrimSuffix(local, ".zip")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("flowrepo: create extract dir: %w", err)
	}

	zr, err := zip.OpenReader(local)
	if err != nil {
		return nil, fmt.Errorf("flowrepo: open archive: %w", err)
	}
	defer zr.Close()

	var paths []string
	for _, member := range zr.File {
		if member.FileInfo().IsDir() {
			continue
		}
		if !archiveExts[strings.ToLower(filepath.Ext(member.Name))] {
			continue
		}
		out, err := extractMember(member, destDir)
		if err != nil {
			return nil, err
		}
		paths = append(paths, out)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("flowrepo: archive %s contains no usable files", archiveURL)
	}
	d.logger.Debug("archive extracted", "url", archiveURL, "files", len(paths))
	return paths, nil
}

func extractMember(member *zip.File, destDir string) (string, error) {
	// Flatten the member path; datasets ship files at one level and a
	// flat layout keeps names addressable. Rel check guards traversal.
	out := filepath.Join(destDir, filepath.Base(member.Name))
	if rel, err := filepath.Rel(destDir, out); err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("flowrepo: archive member %q escapes extraction dir", member.Name)
	}
	if _, err := os.Stat(out); err == nil {
		return out, nil
	}

	rc, err := member.Open()
	if err != nil {
		return "", fmt.Errorf("flowrepo: open member %q: %w", member.Name, err)
	}
	defer rc.Close()

	f, err := os.CreateTemp(destDir, ".extract-*")
	if err != nil {
		return "", fmt.Errorf("flowrepo: temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return "", fmt.Errorf("flowrepo: extract %q: %w", member.Name, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(f.Name(), out); err != nil {
		return "", err
	}
	return out, nil
}

func (d *DownloadCache) download(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(d.dir, ".download-*")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("download %s: %w", rawURL, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

func (d *DownloadCache) countCache(result string) {
	if d.metrics != nil {
		d.metrics.FetchCache.WithLabelValues("file", result).Inc()
	}
}

func (d *DownloadCache) countRequest(kind, outcome string) {
	if d.metrics != nil {
		d.metrics.FetchRequests.WithLabelValues(kind, outcome).Inc()
	}
}

func cacheKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:24]
}

// sanitizeExt keeps the original extension on cached files so readers can
// tell acquisitions from templates by name.
func sanitizeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if archiveExts[ext] || ext == ".zip" {
		return ext
	}
	return ""
}
