package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"time"

	"github.com/Sternrassler/airtable-backup/pkg/logging"
	"github.com/rs/zerolog"
)

// OffsetParam is the query parameter and response field carrying the cursor.
const OffsetParam = "offset"

// Getter issues one API request and decodes the JSON response into out.
// *client.Client implements it.
type Getter interface {
	Get(ctx context.Context, path string, params map[string]string, out any) error
}

// Config holds pager configuration.
type Config struct {
	// PageDelay is the pause between two page requests.
	PageDelay time.Duration

	// OnPage is called after every page with the 1-based page number and the
	// number of items on that page.
	OnPage func(page, items int)
}

// DefaultConfig returns safe default configuration for Airtable (5 req/s).
func DefaultConfig() Config {
	return Config{
		PageDelay: 200 * time.Millisecond,
	}
}

type state int

const (
	stateNotStarted state = iota
	stateHasCursor
	stateExhausted
)

func (s state) String() string {
	switch s {
	case stateNotStarted:
		return "not_started"
	case stateHasCursor:
		return "has_cursor"
	case stateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Pager walks one paginated endpoint forward, page by page.
type Pager struct {
	getter   Getter
	path     string
	itemsKey string
	params   map[string]string
	config   Config
	logger   zerolog.Logger

	state  state
	cursor string
	pages  int

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a pager over path. itemsKey names the response field holding
// the page items ("records" or "comments"); params are sent on every request.
func New(getter Getter, path, itemsKey string, params map[string]string, config Config) *Pager {
	if config.PageDelay < 0 {
		config.PageDelay = 0
	}

	return &Pager{
		getter:   getter,
		path:     path,
		itemsKey: itemsKey,
		params:   maps.Clone(params),
		config:   config,
		logger:   logging.NewLogger("paginator"),
		state:    stateNotStarted,
		sleep:    sleepContext,
	}
}

// Pages returns the number of pages fetched so far.
func (p *Pager) Pages() int {
	return p.pages
}

// Done reports whether the endpoint is exhausted (or the walk failed).
func (p *Pager) Done() bool {
	return p.state == stateExhausted
}

// Next fetches the next page. It returns ok=false once the endpoint is
// exhausted. After an error the pager is exhausted as well.
func (p *Pager) Next(ctx context.Context) (items []json.RawMessage, ok bool, err error) {
	params := maps.Clone(p.params)
	if params == nil {
		params = make(map[string]string, 1)
	}

	switch p.state {
	case stateExhausted:
		return nil, false, nil
	case stateNotStarted:
		delete(params, OffsetParam)
	case stateHasCursor:
		if err := p.sleep(ctx, p.config.PageDelay); err != nil {
			p.state = stateExhausted
			return nil, false, err
		}
		params[OffsetParam] = p.cursor
	}

	var resp map[string]json.RawMessage
	if err := p.getter.Get(ctx, p.path, params, &resp); err != nil {
		p.state = stateExhausted
		return nil, false, err
	}

	rawItems, found := resp[p.itemsKey]
	if !found {
		p.state = stateExhausted
		return nil, false, fmt.Errorf("response for %s has no %q field", p.path, p.itemsKey)
	}
	if err := json.Unmarshal(rawItems, &items); err != nil {
		p.state = stateExhausted
		return nil, false, fmt.Errorf("decode %s %s: %w", p.path, p.itemsKey, err)
	}

	var next string
	if rawOffset, found := resp[OffsetParam]; found {
		if err := json.Unmarshal(rawOffset, &next); err != nil {
			p.state = stateExhausted
			return nil, false, fmt.Errorf("decode %s offset: %w", p.path, err)
		}
	}

	p.pages++
	if next == "" {
		p.state = stateExhausted
		p.cursor = ""
	} else {
		p.state = stateHasCursor
		p.cursor = next
	}

	p.logger.Debug().
		Str("endpoint", p.path).
		Int("page", p.pages).
		Int("items", len(items)).
		Str("state", p.state.String()).
		Msg("Page fetched")

	if p.config.OnPage != nil {
		p.config.OnPage(p.pages, len(items))
	}

	return items, true, nil
}

// All returns the remaining items as a lazy sequence in server order. On
// failure the sequence yields the error once and stops.
func (p *Pager) All(ctx context.Context) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		for {
			items, ok, err := p.Next(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !ok {
				return
			}
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
		}
	}
}

// Collect drains the pager and decodes every item into T.
func Collect[T any](ctx context.Context, p *Pager) ([]T, error) {
	var out []T
	for item, err := range p.All(ctx) {
		if err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			return nil, fmt.Errorf("decode %s item: %w", p.itemsKey, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
