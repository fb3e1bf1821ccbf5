package augment

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"

	"github.com/hypernetix/foundry-chat-go/pkg/config"
	"github.com/hypernetix/foundry-chat-go/pkg/logging"
)

// googleMaxNum is the largest page size the Custom Search API accepts.
const googleMaxNum = 10

// Google queries the Programmable Search Engine (Custom Search JSON API).
// It needs an API key and a search engine ID.
type Google struct {
	logger     logging.Logger
	svc        *customsearch.Service
	engineID   string
	maxResults int
}

// apiKeyTransport adds the API key to every request. option.WithHTTPClient
// disables the library's own credential handling, so the key travels here.
type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	q := r.URL.Query()
	q.Set("key", t.key)
	r.URL.RawQuery = q.Encode()
	return t.base.RoundTrip(r)
}

// NewGoogle builds the credentialed strategy. Blank credentials are not an
// error here; Augment reports them as missing configuration.
func NewGoogle(cfg config.SearchConfig, client *http.Client, logger logging.Logger) (*Google, error) {
	g := &Google{
		logger:     logging.OrDefault(logger),
		engineID:   strings.TrimSpace(cfg.SearchEngineID),
		maxResults: cfg.MaxResults,
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" || g.engineID == "" {
		return g, nil
	}

	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	keyed := &http.Client{
		Transport: &apiKeyTransport{key: key, base: base},
		Timeout:   client.Timeout,
	}
	opts := []option.ClientOption{option.WithHTTPClient(keyed)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := customsearch.NewService(context.Background(), opts...)
	if err != nil {
		return nil, err
	}
	g.svc = svc
	return g, nil
}

func (g *Google) Name() string { return config.ProviderGoogle }

func (g *Google) Augment(ctx context.Context, query string) Result {
	if g.svc == nil {
		return Unavailable(ReasonMissingConfiguration)
	}
	num := g.maxResults
	if num <= 0 || num > googleMaxNum {
		num = googleMaxNum
	}

	res, err := g.svc.Cse.List().Cx(g.engineID).Q(query).Num(int64(num)).Context(ctx).Do()
	if err != nil {
		g.logger.Warn("Google search failed: %v", err)
		return Unavailable(err.Error())
	}

	snippets := make([]Snippet, 0, len(res.Items))
	for _, item := range res.Items {
		if item == nil {
			continue
		}
		snippets = append(snippets, Snippet{Title: item.Title, Value: item.Snippet, Link: item.Link})
	}
	g.logger.Debug("Google search returned %d results for %q", len(snippets), query)
	return fromSnippets(snippets)
}
