package cloud

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cutout-cli/cutout/pkg/errors"
)

func fakePNG(size int) []byte {
	body := make([]byte, size)
	copy(body, pngSignature)
	return body
}

func TestTransformURL(t *testing.T) {
	c := NewClient(Config{CloudName: "demo!", DeliveryBaseURL: "https://res.example.com/"}, nil)

	got, err := c.TransformURL("folder/cat.v2", Methods[1])
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	want := "https://res.example.com/demo/image/upload/e_bgremoval:auto/f_png/folder/cat.v2.png"
	if got != want {
		t.Errorf("url = %q, want %q", got, want)
	}

	for _, bad := range []string{"../../admin", "a//b", "", "?"} {
		if _, err := c.TransformURL(bad, Methods[0]); err == nil {
			t.Errorf("asset id %q accepted", bad)
		}
	}
}

func TestCheckImageBody(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want string
	}{
		{"png", fakePNG(2000), ""},
		{"small png", fakePNG(200), ""},
		{"large non-png", bytes.Repeat([]byte{0xff}, 5000), ""},
		{"empty", nil, "Received empty response from image host"},
		{"html page", []byte("<HTML><body>Oops</body></HTML>"), "Received error page instead of image"},
		{"error text", append([]byte("Error: resource not available "), bytes.Repeat([]byte{'x'}, 2000)...), "Received error page instead of image"},
		{"not found", []byte("Not Found"), "Received error page instead of image"},
		{"tiny garbage", []byte("GIF89a...."), "Invalid response: GIF89a...."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckImageBody(tt.body)
			if tt.want == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.want {
				t.Errorf("error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestRemoveBackground_StatusHandling(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		want        string
	}{
		{"locked", http.StatusLocked, "", "Background removal is still processing, please try again in a few seconds"},
		{"html error", http.StatusBadRequest, "text/html; charset=utf-8", `Background removal method "AI Background Removal" not available or failed`},
		{"other", http.StatusBadGateway, "application/json", "Background removal failed (502): Bad Gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.contentType != "" {
					w.Header().Set("Content-Type", tt.contentType)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := newTestClient(srv).RemoveBackground(context.Background(), "abc", Methods[0])
			if err == nil || err.Error() != tt.want {
				t.Errorf("error = %v, want %q", err, tt.want)
			}
			if !errors.Is(err, errors.KindTransform) {
				t.Errorf("kind = %s", errors.KindOf(err))
			}
		})
	}
}

func TestTryBackgroundRemoval_FirstSuccessShortCircuits(t *testing.T) {
	var mu sync.Mutex
	var requested []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requested = append(requested, r.URL.Path)
		mu.Unlock()

		if strings.Contains(r.URL.Path, "/e_background_removal/") {
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(fakePNG(4096))
	}))
	defer srv.Close()

	var attempts []string
	body, method, err := newTestClient(srv).TryBackgroundRemoval(context.Background(), "abc", func(m Method) {
		attempts = append(attempts, m.Label)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(body) != 4096 {
		t.Errorf("body size = %d", len(body))
	}
	if method.Code != "e_bgremoval:auto" {
		t.Errorf("method = %s", method.Code)
	}
	if len(requested) != 2 {
		t.Errorf("expected 2 requests, got %v", requested)
	}
	if len(attempts) != 2 || attempts[1] != "Auto-detect Background" {
		t.Errorf("attempts = %v", attempts)
	}
}

func TestTryBackgroundRemoval_TooSmallFallsThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/e_make_transparent/") {
			w.Write(fakePNG(1000))
			return
		}
		w.Write(fakePNG(999))
	}))
	defer srv.Close()

	body, method, err := newTestClient(srv).TryBackgroundRemoval(context.Background(), "abc", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(body) != 1000 || method.Code != "e_make_transparent" {
		t.Errorf("got %d bytes from %s", len(body), method.Code)
	}
}

func TestTryBackgroundRemoval_AllTimeOut(t *testing.T) {
	var mu sync.Mutex
	count := 0
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Config{
		CloudName:        "demo",
		DeliveryBaseURL:  srv.URL,
		TransformTimeout: 50 * time.Millisecond,
	}, nil)

	_, _, err := c.TryBackgroundRemoval(context.Background(), "abc", nil)
	if err == nil {
		t.Fatal("expected aggregate error")
	}
	if !errors.Is(err, errors.KindAggregateTransform) {
		t.Errorf("kind = %s", errors.KindOf(err))
	}

	want := "All background removal methods failed:\n" +
		"AI Background Removal: Background removal timeout - processing took too long\n" +
		"Auto-detect Background: Background removal timeout - processing took too long\n" +
		"Edge-based Removal: Background removal timeout - processing took too long"
	if err.Error() != want {
		t.Errorf("error =\n%s\nwant\n%s", err, want)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Errorf("expected exactly 3 requests, got %d", count)
	}
}

func TestTryBackgroundRemoval_MixedFailuresInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/e_background_removal/"):
			w.WriteHeader(http.StatusLocked)
		case strings.Contains(r.URL.Path, "/e_bgremoval:auto/"):
			w.Write([]byte("<html>nope</html>"))
		default:
			w.Write(fakePNG(10))
		}
	}))
	defer srv.Close()

	_, _, err := newTestClient(srv).TryBackgroundRemoval(context.Background(), "abc", nil)
	if err == nil {
		t.Fatal("expected error")
	}

	lines := strings.Split(err.Error(), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasPrefix(lines[1], "AI Background Removal: Background removal is still processing") ||
		lines[2] != "Auto-detect Background: Received error page instead of image" ||
		lines[3] != "Edge-based Removal: Result too small (likely failed)" {
		t.Errorf("unexpected reasons: %q", lines[1:])
	}
}

func TestTryBackgroundRemoval_TimeoutThenErrorPageThenPNG(t *testing.T) {
	var mu sync.Mutex
	var requested []string
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requested = append(requested, r.URL.Path)
		mu.Unlock()

		switch {
		case strings.Contains(r.URL.Path, "/e_background_removal/"):
			select {
			case <-r.Context().Done():
			case <-release:
			}
		case strings.Contains(r.URL.Path, "/e_bgremoval:auto/"):
			w.Write([]byte("<html><body>404</body></html>"))
		default:
			w.Header().Set("Content-Type", "image/png")
			w.Write(fakePNG(2000))
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Config{
		CloudName:        "demo",
		DeliveryBaseURL:  srv.URL,
		TransformTimeout: 50 * time.Millisecond,
	}, nil)

	body, method, err := c.TryBackgroundRemoval(context.Background(), "abc", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(body) != 2000 {
		t.Errorf("body size = %d", len(body))
	}
	if method.Code != "e_make_transparent" {
		t.Errorf("method = %s", method.Code)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(requested) != 3 {
		t.Errorf("expected exactly 3 requests, got %v", requested)
	}
}

func TestRemoveBackground_OversizedBodyRejected(t *testing.T) {
	orig := maxResultSize
	maxResultSize = 4096
	defer func() { maxResultSize = orig }()

	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"at cap", 4096, false},
		{"over cap", 4097, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write(fakePNG(tt.size))
			}))
			defer srv.Close()

			body, err := newTestClient(srv).RemoveBackground(context.Background(), "abc", Methods[0])
			if tt.wantErr {
				if err == nil {
					t.Fatalf("accepted %d-byte body", len(body))
				}
				if !strings.Contains(err.Error(), "too large") {
					t.Errorf("error = %v", err)
				}
				return
			}
			if err != nil || len(body) != tt.size {
				t.Errorf("body = %d bytes, err = %v", len(body), err)
			}
		})
	}
}
