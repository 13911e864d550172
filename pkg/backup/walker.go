package backup

import (
	"context"
	"fmt"
	"net/url"

	"github.com/Sternrassler/airtable-backup/pkg/logging"
	"github.com/Sternrassler/airtable-backup/pkg/metrics"
	"github.com/Sternrassler/airtable-backup/pkg/pagination"
	"github.com/rs/zerolog"
)

// Resource names as they appear in list responses.
const (
	ResourceRecords  = "records"
	ResourceComments = "comments"
)

// Sink receives one table at a time: its schema and its final record list.
// *archive.Writer implements it.
type Sink interface {
	Write(baseName, tableName string, schema, records any) error
}

// Options select what a run exports.
type Options struct {
	// IgnoreTables lists table ids that are neither fetched nor written.
	IgnoreTables []string

	// IncludeComments fetches record comments. Every record with a non-zero
	// commentCount costs at least one extra request.
	IncludeComments bool
}

func (o Options) ignored() map[string]struct{} {
	set := make(map[string]struct{}, len(o.IgnoreTables))
	for _, id := range o.IgnoreTables {
		set[id] = struct{}{}
	}
	return set
}

// Config holds walker configuration.
type Config struct {
	// Pagination configures record and comment paging.
	Pagination pagination.Config

	// Metrics receives walk metrics (default: a private metric set).
	Metrics *metrics.Metrics

	// Progress receives progress events (optional).
	Progress ProgressFunc
}

// DefaultConfig returns the default walker configuration.
func DefaultConfig() Config {
	return Config{
		Pagination: pagination.DefaultConfig(),
	}
}

// Walker traverses bases, tables, records and comments strictly sequentially.
type Walker struct {
	api      pagination.Getter
	config   Config
	metrics  *metrics.Metrics
	progress ProgressFunc
	logger   zerolog.Logger
}

// NewWalker creates a walker issuing requests through api.
func NewWalker(api pagination.Getter, cfg Config) *Walker {
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	progress := cfg.Progress
	if progress == nil {
		progress = func(Event) {}
	}

	return &Walker{
		api:      api,
		config:   cfg,
		metrics:  m,
		progress: progress,
		logger:   logging.NewLogger("walker"),
	}
}

// Run exports every non-ignored table of every base to sink, in listing
// order. The first failure aborts the run; tables finished before it stay written.
func (w *Walker) Run(ctx context.Context, sink Sink, opts Options) (Summary, error) {
	var summary Summary
	ignored := opts.ignored()

	bases, err := w.ListBases(ctx)
	if err != nil {
		return summary, fmt.Errorf("list bases: %w", err)
	}
	w.progress(Event{Kind: EventBasesFound, Total: len(bases)})

	for i, base := range bases {
		w.progress(Event{Kind: EventBaseStarted, Index: i, Total: len(bases), Base: base})
		summary.Bases++
		w.metrics.BasesTotal.Inc()

		tables, err := w.ListTables(ctx, base.ID)
		if err != nil {
			return summary, fmt.Errorf("base %q: list tables: %w", base.Name, err)
		}

		for j, table := range tables {
			ev := Event{Index: j, Total: len(tables), Base: base, Table: table}

			if _, skip := ignored[table.ID]; skip {
				ev.Kind = EventTableSkipped
				w.progress(ev)
				summary.TablesSkipped++
				w.metrics.TablesTotal.WithLabelValues("skipped").Inc()
				w.logger.Warn().
					Str("base_id", base.ID).
					Str("table_id", table.ID).
					Msg("Skipping ignored table")
				continue
			}

			ev.Kind = EventTableStarted
			w.progress(ev)

			records, comments, err := w.LoadTable(ctx, base, table, opts.IncludeComments)
			if err != nil {
				return summary, fmt.Errorf("base %q: table %q: %w", base.Name, table.Name, err)
			}

			if err := sink.Write(base.Name, table.Name, table, records); err != nil {
				return summary, fmt.Errorf("base %q: table %q: %w", base.Name, table.Name, err)
			}

			summary.TablesWritten++
			summary.Records += len(records)
			summary.Comments += comments
			w.metrics.TablesTotal.WithLabelValues("written").Inc()
			w.metrics.RecordsTotal.Add(float64(len(records)))
			w.metrics.CommentsTotal.Add(float64(comments))

			w.progress(Event{Kind: EventTableWritten, Index: j, Total: len(tables), Base: base, Table: table, Count: len(records)})
			w.logger.Info().
				Str("base_id", base.ID).
				Str("table_id", table.ID).
				Int("records", len(records)).
				Int("comments", comments).
				Msg("Table written")
		}
	}

	w.logger.Info().
		Int("bases", summary.Bases).
		Int("tables_written", summary.TablesWritten).
		Int("tables_skipped", summary.TablesSkipped).
		Int("records", summary.Records).
		Int("comments", summary.Comments).
		Msg("Backup complete")

	return summary, nil
}

// ListBases fetches the bases listing (a single request).
func (w *Walker) ListBases(ctx context.Context) ([]Base, error) {
	var resp struct {
		Bases []Base `json:"bases"`
	}
	if err := w.api.Get(ctx, "/meta/bases", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Bases, nil
}

// ListTables fetches the table schemas of a base (a single request).
func (w *Walker) ListTables(ctx context.Context, baseID string) ([]Table, error) {
	var resp struct {
		Tables []Table `json:"tables"`
	}
	if err := w.api.Get(ctx, "/meta/bases/"+url.PathEscape(baseID)+"/tables", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tables, nil
}

// LoadTable loads a table's records sorted by createdTime and, when
// includeComments is set, merges every record's sorted comments into it.
// It returns the records and the number of comments merged.
func (w *Walker) LoadTable(ctx context.Context, base Base, table Table, includeComments bool) ([]Record, int, error) {
	records, err := w.LoadRecords(ctx, base.ID, table.ID, includeComments)
	if err != nil {
		return nil, 0, fmt.Errorf("load records: %w", err)
	}

	withComments := 0
	if includeComments {
		for _, r := range records {
			if r.HasComments() {
				withComments++
			}
		}
		if withComments > 0 {
			w.progress(Event{Kind: EventCommentsStarted, Base: base, Table: table, Count: withComments})
		} else {
			w.progress(Event{Kind: EventNoComments, Base: base, Table: table})
		}
	}

	total := 0
	for i := range records {
		records[i].Comments = []Comment{}
		if !includeComments || !records[i].HasComments() {
			continue
		}

		comments, err := w.LoadComments(ctx, base.ID, table.ID, records[i].ID)
		if err != nil {
			return nil, 0, fmt.Errorf("record %q: load comments: %w", records[i].ID, err)
		}
		records[i].Comments = comments
		total += len(comments)
	}

	return records, total, nil
}

// LoadRecords drains a table's records sorted by ascending createdTime.
// withCommentCount asks the API to include commentCount on every record.
func (w *Walker) LoadRecords(ctx context.Context, baseID, tableID string, withCommentCount bool) ([]Record, error) {
	var params map[string]string
	if withCommentCount {
		params = map[string]string{"recordMetadata": "commentCount"}
	}

	path := "/" + url.PathEscape(baseID) + "/" + url.PathEscape(tableID)
	pager := pagination.New(w.api, path, ResourceRecords, params, w.pageConfig(ResourceRecords))

	records, err := pagination.Collect[Record](ctx, pager)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []Record{}
	}
	SortRecords(records)
	return records, nil
}

// LoadComments drains a record's comments sorted by ascending createdTime.
func (w *Walker) LoadComments(ctx context.Context, baseID, tableID, recordID string) ([]Comment, error) {
	path := "/" + url.PathEscape(baseID) + "/" + url.PathEscape(tableID) + "/" + url.PathEscape(recordID) + "/comments"
	pager := pagination.New(w.api, path, ResourceComments, nil, w.pageConfig(ResourceComments))

	comments, err := pagination.Collect[Comment](ctx, pager)
	if err != nil {
		return nil, err
	}
	if comments == nil {
		comments = []Comment{}
	}
	SortComments(comments)
	return comments, nil
}

func (w *Walker) pageConfig(resource string) pagination.Config {
	cfg := w.config.Pagination
	next := cfg.OnPage
	cfg.OnPage = func(page, items int) {
		w.metrics.PagesTotal.WithLabelValues(resource).Inc()
		w.progress(Event{Kind: EventPageFetched, Resource: resource, Index: page - 1, Count: items})
		if next != nil {
			next(page, items)
		}
	}
	return cfg
}
