package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Downloader fetches provider artifacts onto local disk.
type Downloader struct {
	client   *http.Client
	maxBytes int64
}

// NewDownloader returns a Downloader. A nil client gets a 10 minute timeout;
// maxBytes <= 0 means 2 GiB.
func NewDownloader(client *http.Client, maxBytes int64) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	if maxBytes <= 0 {
		maxBytes = 2 << 30
	}
	return &Downloader{client: client, maxBytes: maxBytes}
}

// Fetch streams rawURL into dst and returns the number of bytes written.
func (d *Downloader) Fetch(ctx context.Context, rawURL, dst string) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return 0, fmt.Errorf("storage: invalid artifact url %q", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("storage: download artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("storage: download artifact: status %d", resp.StatusCode)
	}

	f, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("storage: create %s: %w", dst, err)
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, d.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("storage: write artifact: %w", err)
	}
	if n > d.maxBytes {
		return n, errors.New("storage: artifact exceeds size limit")
	}
	if n == 0 {
		return 0, errors.New("storage: artifact is empty")
	}
	return n, nil
}
