// Package augment folds web search results into chat prompts.
//
// Exactly one Strategy is active per deployment. A strategy never fails the
// caller: every problem is reported as an unavailable Result with a reason,
// and the chat send continues unaugmented.
package augment

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hypernetix/foundry-chat-go/pkg/apperr"
	"github.com/hypernetix/foundry-chat-go/pkg/config"
	"github.com/hypernetix/foundry-chat-go/pkg/logging"
)

// Reasons reported for unavailable results.
const (
	ReasonMissingConfiguration = "missing configuration"
	ReasonNoResults            = "no results"
	ReasonDisabled             = "web search disabled"
)

// Snippet is one citable search hit.
type Snippet struct {
	Title string
	Value string
	Link  string
}

// Result is the outcome of one augmentation. It is available when it carries
// at least one snippet; otherwise Reason explains why not.
type Result struct {
	Snippets []Snippet
	Reason   string
}

// Available reports whether the result adds anything to the prompt.
func (r Result) Available() bool {
	return len(r.Snippets) > 0
}

// Err returns an AugmentationUnavailable error for unavailable results, nil otherwise.
func (r Result) Err() error {
	if r.Available() {
		return nil
	}
	return apperr.New(apperr.ErrAugmentationUnavailable, "web search unavailable: %s", r.Reason)
}

// Unavailable builds an unavailable result.
func Unavailable(reason string) Result {
	return Result{Reason: reason}
}

func fromSnippets(snippets []Snippet) Result {
	if len(snippets) == 0 {
		return Unavailable(ReasonNoResults)
	}
	return Result{Snippets: snippets}
}

// Strategy queries one search provider.
type Strategy interface {
	Name() string
	Augment(ctx context.Context, query string) Result
}

// Disabled is the strategy used when web search is turned off.
type Disabled struct{}

func (Disabled) Name() string { return config.ProviderNone }

func (Disabled) Augment(context.Context, string) Result {
	return Unavailable(ReasonDisabled)
}

// New selects the strategy named by cfg. The HTTP client is shared with the
// rest of the session for connection reuse.
func New(cfg config.SearchConfig, client *http.Client, logger logging.Logger) (Strategy, error) {
	logger = logging.OrDefault(logger)
	if client == nil {
		client = http.DefaultClient
	}
	switch cfg.Provider {
	case config.ProviderNone:
		return Disabled{}, nil
	case config.ProviderGoogle:
		return NewGoogle(cfg, client, logger)
	case config.ProviderDuckDuckGo, "":
		return NewDuckDuckGo(cfg, client, logger), nil
	}
	return nil, fmt.Errorf("unknown search provider %q", cfg.Provider)
}

// FormatBlock renders snippets as a numbered list in provider order. The
// numbers are the citation indexes.
func FormatBlock(snippets []Snippet) string {
	var sb strings.Builder
	for i, s := range snippets {
		fmt.Fprintf(&sb, "[%d] ", i+1)
		if s.Title != "" {
			sb.WriteString(s.Title)
			sb.WriteString(": ")
		}
		sb.WriteString(strings.TrimSpace(s.Value))
		if s.Link != "" {
			fmt.Fprintf(&sb, " (%s)", s.Link)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Inline prefixes the user's text with the result block.
func Inline(text string, r Result) string {
	if !r.Available() {
		return text
	}
	return "Web search results (cite by number):\n" + FormatBlock(r.Snippets) + "\n" + text
}

// Instruction builds a system instruction carrying the result block.
func Instruction(r Result) string {
	if !r.Available() {
		return ""
	}
	return "Answer the next user message using the web search results below. " +
		"Cite sources by their number, for example [1].\n\n" + FormatBlock(r.Snippets)
}
