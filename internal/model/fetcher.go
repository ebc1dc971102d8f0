package model

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ManifestFetcher checks that a model artifact can be fetched.
type ManifestFetcher interface {
	Check(ctx context.Context, url string) error
}

type HTTPFetcher struct {
	c *http.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{c: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) Check(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := f.c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
