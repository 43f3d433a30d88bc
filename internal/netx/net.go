// Package netx holds small HTTP helpers for presigned object URLs.
package netx

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// maxDownload caps presigned downloads.
const maxDownload = 512 << 20

// DownloadFromPresignedURL fetches the object behind a presigned GET link.
func DownloadFromPresignedURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("download failed: %s; body: %s", resp.Status, string(b))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxDownload {
		return nil, fmt.Errorf("download failed: object larger than %d bytes", maxDownload)
	}
	return body, nil
}
