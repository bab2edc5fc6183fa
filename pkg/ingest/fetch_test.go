package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

const storyHTML = `<!DOCTYPE html>
<html><head><title>The Elder's Story</title></head>
<body>
<nav><a href="/">Home</a> <a href="/about">About</a></nav>
<article>
<h1>The Elder's Story</h1>
<p>%s</p>
<p>%s</p>
</article>
<footer>Copyright</footer>
</body></html>`

func storyServer(t *testing.T) *httptest.Server {
	t.Helper()
	p1 := strings.Repeat("The elder spoke of welapemkanni by the river in the evening. ", 12)
	p2 := strings.Repeat("Children listened and repeated every word after her. ", 12)
	mux := http.NewServeMux()
	mux.HandleFunc("/story", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "lexlink-test" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, storyHTML, p1, p2)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchExtractsArticle(t *testing.T) {
	srv := storyServer(t)
	f := NewFetcher("lexlink-test", 0, 0)
	art, err := f.Fetch(context.Background(), srv.URL+"/story")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.Contains(art.Title, "Elder") {
		t.Errorf("unexpected title %q", art.Title)
	}
	if !strings.Contains(art.Content, "welapemkanni") {
		t.Errorf("unexpected content %q", art.Content)
	}
	if len(SplitLines(art.Content)) == 0 {
		t.Errorf("expected paragraphs in extracted content")
	}
}

func TestFetchErrors(t *testing.T) {
	srv := storyServer(t)
	ctx := context.Background()

	f := NewFetcher("lexlink-test", 0, 0)
	if _, err := f.Fetch(ctx, srv.URL+"/missing"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected status error, got %v", err)
	}
	if _, err := f.Fetch(ctx, "not a url"); err == nil {
		t.Fatalf("expected invalid url error")
	}

	small := NewFetcher("lexlink-test", 0, 64)
	if _, err := small.Fetch(ctx, srv.URL+"/story"); err == nil || !strings.Contains(err.Error(), "limit") {
		t.Fatalf("expected size limit error, got %v", err)
	}
}

func TestFetchHonorsLimiter(t *testing.T) {
	srv := storyServer(t)
	f := NewFetcher("lexlink-test", 0, 0)
	f.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	if _, err := f.Fetch(context.Background(), srv.URL+"/story"); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := f.Fetch(ctx, srv.URL+"/story"); err == nil {
		t.Fatalf("expected limiter to refuse the second request")
	}
}
