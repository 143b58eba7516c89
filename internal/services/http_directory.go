package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPDirectory looks identifiers up with GET {base}/{resource}/{id}.
// 200 means the id exists and 404 means it does not.
type HTTPDirectory struct {
	baseURL  string
	resource string
	client   *http.Client
}

// NewHTTPDirectory creates a directory client for one resource, e.g. "entities".
func NewHTTPDirectory(baseURL, resource string, client *http.Client) *HTTPDirectory {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPDirectory{
		baseURL:  strings.TrimRight(baseURL, "/"),
		resource: strings.Trim(resource, "/"),
		client:   client,
	}
}

// Exists reports whether id is present in the directory.
func (d *HTTPDirectory) Exists(ctx context.Context, id string) (bool, error) {
	endpoint := fmt.Sprintf("%s/%s/%s", d.baseURL, d.resource, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to look up %s %q: %w", d.resource, id, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("failed to look up %s %q: status code %d", d.resource, id, resp.StatusCode)
	}
}
