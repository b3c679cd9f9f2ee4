// Package supastorage provides a client for the Supabase Storage object API.
package supastorage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/koa-group/doc-pipeline/internal/resilience"
)

// Client defines the storage operations the pipeline needs.
type Client interface {
	// Download fetches an object from a bucket.
	Download(ctx context.Context, bucket, path string) ([]byte, error)
	// Upload writes an object to a bucket, overwriting any existing one.
	Upload(ctx context.Context, bucket, path string, content []byte, contentType string) error
	// SignedURL creates a time-limited public URL for an object.
	SignedURL(ctx context.Context, bucket, path string, expiresIn time.Duration) (string, error)
}

// Option configures the storage client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithMaxObjectBytes caps the size of downloaded objects.
func WithMaxObjectBytes(n int64) Option {
	return func(c *httpClient) {
		c.maxObjectBytes = n
	}
}

// WithRetryConfig overrides the retry behavior for storage calls.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	baseURL        string
	serviceKey     string
	maxObjectBytes int64
	retry          resilience.RetryConfig
	http           *http.Client
}

// NewClient creates a Supabase Storage client. baseURL is the project URL
// (https://<ref>.supabase.co) and serviceKey the service-role key.
func NewClient(baseURL, serviceKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		serviceKey:     serviceKey,
		maxObjectBytes: 25_000_000,
		retry:          resilience.DefaultRetryConfig(),
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) objectURL(kind, bucket, path string) string {
	return fmt.Sprintf("%s/storage/v1/%s/%s/%s", c.baseURL, kind, bucket, escapePath(path))
}

// escapePath escapes each segment of an object path, keeping the slashes.
func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

func (c *httpClient) do(ctx context.Context, method, reqURL string, body []byte, contentType string) ([]byte, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, eris.Wrap(err, "supastorage: create request")
		}
		req.Header.Set("Authorization", "Bearer "+c.serviceKey)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "supastorage: request failed")
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxObjectBytes+1))
		if err != nil {
			return nil, eris.Wrap(err, "supastorage: read response body")
		}
		if int64(len(respBody)) > c.maxObjectBytes {
			return nil, eris.Errorf("supastorage: object exceeds %d bytes", c.maxObjectBytes)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := eris.Errorf("supastorage: status %d: %s", resp.StatusCode, string(respBody))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}
		return respBody, nil
	})
}

func (c *httpClient) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	body, err := c.do(ctx, http.MethodGet, c.objectURL("object", bucket, path), nil, "")
	if err != nil {
		return nil, eris.Wrapf(err, "supastorage: download %s/%s", bucket, path)
	}
	return body, nil
}

func (c *httpClient) Upload(ctx context.Context, bucket, path string, content []byte, contentType string) error {
	reqURL := c.objectURL("object", bucket, path)
	_, err := c.upload(ctx, reqURL, content, contentType)
	if err != nil {
		return eris.Wrapf(err, "supastorage: upload %s/%s", bucket, path)
	}
	return nil
}

func (c *httpClient) upload(ctx context.Context, reqURL string, content []byte, contentType string) ([]byte, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(content))
		if err != nil {
			return nil, eris.Wrap(err, "supastorage: create request")
		}
		req.Header.Set("Authorization", "Bearer "+c.serviceKey)
		req.Header.Set("Content-Type", contentType)
		// Re-running a project rewrites the output under the same path.
		req.Header.Set("x-upsert", "true")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "supastorage: request failed")
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "supastorage: read response body")
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := eris.Errorf("supastorage: status %d: %s", resp.StatusCode, string(respBody))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}
		return respBody, nil
	})
}

type signRequest struct {
	ExpiresIn int `json:"expiresIn"`
}

type signResponse struct {
	SignedURL string `json:"signedURL"`
}

func (c *httpClient) SignedURL(ctx context.Context, bucket, path string, expiresIn time.Duration) (string, error) {
	reqBody, err := json.Marshal(signRequest{ExpiresIn: int(expiresIn.Seconds())})
	if err != nil {
		return "", eris.Wrap(err, "supastorage: marshal sign request")
	}

	body, err := c.do(ctx, http.MethodPost, c.objectURL("object/sign", bucket, path), reqBody, "application/json")
	if err != nil {
		return "", eris.Wrapf(err, "supastorage: sign %s/%s", bucket, path)
	}

	var signed signResponse
	if err := json.Unmarshal(body, &signed); err != nil {
		return "", eris.Wrap(err, "supastorage: unmarshal sign response")
	}
	if signed.SignedURL == "" {
		return "", eris.New("supastorage: sign response missing signedURL")
	}
	return c.baseURL + "/storage/v1" + signed.SignedURL, nil
}
