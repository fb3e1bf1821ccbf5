package augment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hypernetix/foundry-chat-go/pkg/config"
	"github.com/hypernetix/foundry-chat-go/pkg/logging"
)

const (
	duckDuckGoEndpoint = "https://api.duckduckgo.com/"
	userAgent          = "foundry-chat-go/1.0"
)

// DuckDuckGo queries the keyless Instant Answer API.
type DuckDuckGo struct {
	logger     logging.Logger
	client     *http.Client
	endpoint   string
	maxResults int
}

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Name     string     `json:"Name"`
	Topics   []ddgTopic `json:"Topics"`
}

type ddgResponse struct {
	Heading       string     `json:"Heading"`
	Abstract      string     `json:"Abstract"`
	AbstractText  string     `json:"AbstractText"`
	AbstractURL   string     `json:"AbstractURL"`
	Answer        string     `json:"Answer"`
	Definition    string     `json:"Definition"`
	DefinitionURL string     `json:"DefinitionURL"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

func NewDuckDuckGo(cfg config.SearchConfig, client *http.Client, logger logging.Logger) *DuckDuckGo {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = duckDuckGoEndpoint
	}
	return &DuckDuckGo{
		logger:     logging.OrDefault(logger),
		client:     client,
		endpoint:   endpoint,
		maxResults: cfg.MaxResults,
	}
}

func (d *DuckDuckGo) Name() string { return config.ProviderDuckDuckGo }

func (d *DuckDuckGo) Augment(ctx context.Context, query string) Result {
	doc, err := d.fetch(ctx, query)
	if err != nil {
		d.logger.Warn("DuckDuckGo lookup failed: %v", err)
		return Unavailable(err.Error())
	}
	snippets := doc.snippets()
	if d.maxResults > 0 && len(snippets) > d.maxResults {
		snippets = snippets[:d.maxResults]
	}
	d.logger.Debug("DuckDuckGo returned %d snippets for %q", len(snippets), query)
	return fromSnippets(snippets)
}

func (d *DuckDuckGo) fetch(ctx context.Context, query string) (*ddgResponse, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned status %d", resp.StatusCode)
	}
	var doc ddgResponse
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode duckduckgo response: %w", err)
	}
	return &doc, nil
}

// snippets lists the direct answer, abstract, definition and related topics,
// in that order.
func (r *ddgResponse) snippets() []Snippet {
	var out []Snippet
	if s := strings.TrimSpace(r.Answer); s != "" {
		out = append(out, Snippet{Title: "Answer", Value: s})
	}
	abstract := r.AbstractText
	if abstract == "" {
		abstract = r.Abstract
	}
	if s := strings.TrimSpace(abstract); s != "" {
		out = append(out, Snippet{Title: r.Heading, Value: s, Link: r.AbstractURL})
	}
	if s := strings.TrimSpace(r.Definition); s != "" {
		out = append(out, Snippet{Title: "Definition", Value: s, Link: r.DefinitionURL})
	}
	var walk func(topics []ddgTopic)
	walk = func(topics []ddgTopic) {
		for _, t := range topics {
			if s := strings.TrimSpace(t.Text); s != "" {
				out = append(out, Snippet{Value: s, Link: t.FirstURL})
			}
			walk(t.Topics)
		}
	}
	walk(r.RelatedTopics)
	return out
}
