package netx

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDownloadFromPresignedURL(t *testing.T) {
	archive := []byte("CSB1 sealed archive")

	t.Run("success 200 OK", func(t *testing.T) {
		var gotMethod, gotQuery string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotQuery = r.URL.RawQuery
			_, _ = w.Write(archive)
		}))
		defer ts.Close()

		got, err := DownloadFromPresignedURL(context.Background(), ts.URL+"/backups/k1?X-Amz-Signature=abc")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gotMethod != http.MethodGet {
			t.Fatalf("method = %q, want GET", gotMethod)
		}
		if gotQuery != "X-Amz-Signature=abc" {
			t.Fatalf("query = %q", gotQuery)
		}
		if !bytes.Equal(got, archive) {
			t.Fatalf("body = %q, want %q", got, archive)
		}
	})

	t.Run("non-200 -> error", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("<Error>AccessDenied</Error>"))
		}))
		defer ts.Close()

		_, err := DownloadFromPresignedURL(context.Background(), ts.URL)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "AccessDenied") {
			t.Fatalf("error should mention status and body, got: %v", err)
		}
	})

	t.Run("bad url -> error", func(t *testing.T) {
		if _, err := DownloadFromPresignedURL(context.Background(), "http://[::1]:namedport"); err == nil {
			t.Fatal("expected error for malformed url")
		}
	})

	t.Run("canceled context -> error", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer ts.Close()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := DownloadFromPresignedURL(ctx, ts.URL); err == nil {
			t.Fatal("expected error for canceled context")
		}
	})
}
