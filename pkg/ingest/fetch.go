package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-shiori/go-readability"
	"golang.org/x/time/rate"
)

// DefaultMaxBodyBytes caps the size of fetched pages.
const DefaultMaxBodyBytes = 10 * 1024 * 1024

// DefaultUserAgent is sent when Fetcher.UserAgent is empty.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Article is the readable part of a fetched web page.
type Article struct {
	URL      string
	Title    string
	Byline   string
	SiteName string
	Content  string
}

// Fetcher downloads web pages and extracts their main text.
type Fetcher struct {
	Client       *http.Client
	UserAgent    string
	MaxBodyBytes int64
	// Limiter throttles requests. nil means unlimited.
	Limiter *rate.Limiter
}

// NewFetcher returns a Fetcher allowing requestsPerSecond requests (0 for no limit).
func NewFetcher(userAgent string, requestsPerSecond float64, maxBodyBytes int64) *Fetcher {
	f := &Fetcher{
		Client:       &http.Client{Timeout: 30 * time.Second},
		UserAgent:    userAgent,
		MaxBodyBytes: maxBodyBytes,
	}
	if requestsPerSecond > 0 {
		f.Limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return f
}

// Fetch downloads rawURL and extracts the article text with readability.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Article, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Host == "" {
		return Article{}, fmt.Errorf("invalid url %q", rawURL)
	}
	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return Article{}, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Article{}, fmt.Errorf("failed to create request: %w", err)
	}
	ua := f.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Article{}, fmt.Errorf("failed to fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Article{}, fmt.Errorf("got status code %d", resp.StatusCode)
	}

	limit := f.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	if resp.ContentLength > limit {
		return Article{}, fmt.Errorf("content-length %d exceeds limit of %d bytes", resp.ContentLength, limit)
	}
	// Read one byte past the limit to tell a full body from a truncated one.
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return Article{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > limit {
		return Article{}, fmt.Errorf("response body exceeded maximum size limit of %d bytes", limit)
	}

	article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
	if err != nil {
		return Article{}, fmt.Errorf("failed to extract article: %w", err)
	}
	return Article{
		URL:      rawURL,
		Title:    article.Title,
		Byline:   article.Byline,
		SiteName: article.SiteName,
		Content:  article.TextContent,
	}, nil
}
