// Package flowrepo talks to a public flow cytometry repository: dataset
// metadata lookups by accession, file downloads, and zip archive exports.
// Downloads land in a disk cache so repeated analyses of the same
// acquisition hit the network once.
package flowrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flywind2/t-cell-data/internal/domain"
)

// Client implements domain.Catalog against a flow repository HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a repository client. baseURL is the API root, e.g.
// "https://flowrepository.org/ajax/api".
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Dataset fetches the metadata for one accession, listing its files.
func (c *Client) Dataset(ctx context.Context, accession string) (*domain.Dataset, error) {
	if accession == "" {
		return nil, fmt.Errorf("flowrepo: empty accession")
	}
	u := fmt.Sprintf("%s/datasets/%s", c.baseURL, url.PathEscape(accession))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dataset request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("flowrepo: accession %s: %w", accession, domain.ErrDatasetNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("flowrepo API error: status %d: %s", resp.StatusCode, body)
	}

	var wire datasetResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	ds := &domain.Dataset{
		Accession: firstNonEmpty(wire.Accession, accession),
		Title:     wire.Name,
	}
	for _, f := range wire.Files {
		ds.Files = append(ds.Files, domain.RemoteFile{
			Name: f.Name,
			URL:  c.resolveURL(f.URL),
			Size: f.Size,
		})
	}
	c.logger.Debug("dataset resolved", "accession", ds.Accession, "files", len(ds.Files))
	return ds, nil
}

// resolveURL makes relative file URLs absolute against the API root.
func (c *Client) resolveURL(s string) string {
	if s == "" || strings.Contains(s, "://") {
		return s
	}
	return c.baseURL + "/" + strings.TrimPrefix(s, "/")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Repository API response types.

type datasetResponse struct {
	Accession string         `json:"accession"`
	Name      string         `json:"name"`
	Files     []fileResponse `json:"files"`
}

type fileResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}
