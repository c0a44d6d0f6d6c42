package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const scrapeTimeout = 30 * time.Second

// ScrapeResult is the scraped content of one listing page. Markdown is
// preferred; HTML is the fallback the API returns when markdown is empty.
type ScrapeResult struct {
	Content     string            `json:"content"`
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// FirecrawlClient scrapes listing URLs into text via the Firecrawl API.
type FirecrawlClient struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

func NewFirecrawlClient(apiKey, baseURL string) *FirecrawlClient {
	return &FirecrawlClient{
		APIKey:     apiKey,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
	}
}

type firecrawlResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Markdown string `json:"markdown"`
		HTML     string `json:"html"`
		Metadata struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"metadata"`
	} `json:"data"`
	Error string `json:"error"`
}

// Scrape fetches a listing URL as markdown/HTML. A remote-side failure is
// returned as an error so the caller can persist it as a listing-level error.
func (f *FirecrawlClient) Scrape(ctx context.Context, url string) (*ScrapeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, scrapeTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]interface{}{
		"url":     url,
		"formats": []string{"markdown", "html"},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.BaseURL+"/scrape", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+f.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed firecrawlResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unexpected scrape response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || !parsed.Success {
		msg := parsed.Error
		if msg == "" {
			msg = fmt.Sprintf("scrape API returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("scrape failed: %s", msg)
	}

	content := parsed.Data.Markdown
	if content == "" {
		content = parsed.Data.HTML
	}

	return &ScrapeResult{
		Content:     content,
		URL:         url,
		Title:       parsed.Data.Metadata.Title,
		Description: parsed.Data.Metadata.Description,
	}, nil
}
