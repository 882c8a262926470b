// Package market implements market_worker: web search followed by structured
// generation of market intelligence.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// Brave queries the Brave Search API.
type Brave struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewBrave(apiKey string) *Brave {
	return &Brave{
		baseURL: "https://api.search.brave.com",
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *Brave) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	reqURL := fmt.Sprintf("%s/res/v1/web/search?q=%s&count=%d", b.baseURL, url.QueryEscape(query), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Subscription-Token", b.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave api error: %d", resp.StatusCode)
	}

	var braveResp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&braveResp); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(braveResp.Web.Results))
	for _, r := range braveResp.Web.Results {
		results = append(results, SearchResult{
			Title:   stripTags(r.Title),
			Link:    r.URL,
			Snippet: stripTags(r.Description),
		})
	}
	return results, nil
}

// DuckDuckGo scrapes the non-JS HTML endpoint.
type DuckDuckGo struct {
	baseURL string
	client  *http.Client
}

func NewDuckDuckGo() *DuckDuckGo {
	return &DuckDuckGo{
		baseURL: "https://html.duckduckgo.com",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

var (
	reLink    = regexp.MustCompile(`<a[^>]+class="[^"]*result__a[^"]*"[^>]+href="([^"]+)"[^>]*>(.*?)</a>`)
	reSnippet = regexp.MustCompile(`<a[^>]+class="[^"]*result__snippet[^"]*"[^>]*>(.*?)</a>`)
	reTag     = regexp.MustCompile(`<[^>]+>`)
)

func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/html/?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	// a desktop user agent avoids the blocked / mobile variants
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ddg error: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, err
	}
	return parseDuckDuckGo(string(body), limit), nil
}

func parseDuckDuckGo(page string, limit int) []SearchResult {
	links := reLink.FindAllStringSubmatch(page, -1)
	snippets := reSnippet.FindAllStringSubmatch(page, -1)

	var results []SearchResult
	for i, match := range links {
		if limit > 0 && len(results) >= limit {
			break
		}
		link := match[1]
		// redirect links look like //duckduckgo.com/l/?uddg=<target>
		if strings.Contains(link, "uddg=") {
			if u, err := url.Parse(link); err == nil {
				if target := u.Query().Get("uddg"); target != "" {
					link = target
				}
			}
		}

		title := stripTags(match[2])
		snippet := ""
		if i < len(snippets) {
			snippet = stripTags(snippets[i][1])
		}
		if title != "" && link != "" {
			results = append(results, SearchResult{Title: title, Link: link, Snippet: snippet})
		}
	}
	return results
}

func stripTags(s string) string {
	return strings.TrimSpace(html.UnescapeString(reTag.ReplaceAllString(s, "")))
}
