package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/set-night/memochat/internal/config"
)

const userAgent = "Mozilla/5.0 (compatible; memochat/1.0)"

// PageReader downloads web pages and extracts their readable text.
type PageReader struct {
	httpClient *http.Client
	maxBytes   int64
	maxText    int
}

func NewPageReader(timeout time.Duration) *PageReader {
	return &PageReader{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   config.MaxPageBytes,
		maxText:    config.MaxPageText,
	}
}

type Page struct {
	URL   string
	Title string
	Text  string
}

// IsURL reports whether s is a single absolute http(s) URL.
func IsURL(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, " \t\n") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (r *PageReader) Read(ctx context.Context, rawURL string) (*Page, error) {
	rawURL = strings.TrimSpace(rawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch page: status %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, r.maxBytes)
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("read page: %w", err)
		}
		return &Page{URL: rawURL, Text: clip(collapseSpace(string(data)), r.maxText)}, nil
	}

	title, text, err := ExtractHTML(body)
	if err != nil {
		return nil, err
	}
	return &Page{URL: rawURL, Title: title, Text: clip(text, r.maxText)}, nil
}

// ExtractHTML returns the title and visible text of an HTML document.
func ExtractHTML(r io.Reader) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, iframe, svg, nav, footer").Remove()

	title := collapseSpace(doc.Find("title").First().Text())
	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var parts []string
	root.Find("h1, h2, h3, h4, p, li, pre, td").Each(func(_ int, s *goquery.Selection) {
		if t := collapseSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		parts = append(parts, collapseSpace(root.Text()))
	}
	return title, strings.Join(parts, "\n"), nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// clip cuts s to n runes.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
