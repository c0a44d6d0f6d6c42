package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFirecrawlScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/scrape" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]interface{}
		json.NewDecoder(r.Body).Decode(&req)
		if req["url"] != "https://flatfox.ch/flat/1" {
			t.Errorf("scraped url = %v", req["url"])
		}
		fmt.Fprint(w, `{
			"success": true,
			"data": {
				"markdown": "# 3.5 room flat in Zurich",
				"html": "<h1>ignored</h1>",
				"metadata": {"title": "3.5 room flat", "description": "Nice flat"}
			}
		}`)
	}))
	defer srv.Close()

	client := NewFirecrawlClient("test-key", srv.URL)
	got, err := client.Scrape(context.Background(), "https://flatfox.ch/flat/1")
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}

	if got.Content != "# 3.5 room flat in Zurich" {
		t.Errorf("content = %q, want markdown", got.Content)
	}
	if got.Title != "3.5 room flat" {
		t.Errorf("title = %q", got.Title)
	}
	if got.URL != "https://flatfox.ch/flat/1" {
		t.Errorf("url = %q", got.URL)
	}
}

func TestFirecrawlScrapeHTMLFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success": true, "data": {"markdown": "", "html": "<h1>flat</h1>"}}`)
	}))
	defer srv.Close()

	client := NewFirecrawlClient("test-key", srv.URL)
	got, err := client.Scrape(context.Background(), "https://flatfox.ch/flat/2")
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if got.Content != "<h1>flat</h1>" {
		t.Errorf("content = %q, want html fallback", got.Content)
	}
}

func TestFirecrawlScrapeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"success": false, "error": "this site is not allowed"}`)
	}))
	defer srv.Close()

	client := NewFirecrawlClient("test-key", srv.URL)
	if _, err := client.Scrape(context.Background(), "https://flatfox.ch/flat/3"); err == nil {
		t.Fatal("Scrape() = nil error, want failure")
	}
}
