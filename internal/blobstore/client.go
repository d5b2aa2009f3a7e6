package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var ErrNotFound = errors.New("blob not found")

// Client stores submitted ATP files and hands back an opaque reference.
type Client interface {
	Store(ctx context.Context, name, contentType string, r io.Reader) (string, error)
	Fetch(ctx context.Context, ref string) (io.ReadCloser, error)
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *HTTPClient) newReq(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Agent-ID", "atpflow")
	return req, nil
}

type storeResponse struct {
	Ref string `json:"ref"`
}

func (c *HTTPClient) Store(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	req, err := c.newReq(ctx, http.MethodPost, "/api/v1/blobs", r)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-File-Name", name)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("blobstore store: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("blobstore store: %d %s", resp.StatusCode, string(body))
	}

	var out storeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("blobstore store: decode: %w", err)
	}
	if out.Ref == "" {
		return "", fmt.Errorf("blobstore store: empty ref")
	}
	return out.Ref, nil
}

// Fetch streams the blob behind ref. The caller closes the reader.
func (c *HTTPClient) Fetch(ctx context.Context, ref string) (io.ReadCloser, error) {
	req, err := c.newReq(ctx, http.MethodGet, "/api/v1/blobs/"+url.PathEscape(ref), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("blobstore fetch: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrNotFound
	case resp.StatusCode >= 400:
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("blobstore fetch: %d %s", resp.StatusCode, string(body))
	}
	return resp.Body, nil
}
