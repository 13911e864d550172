package backup

// EventKind identifies a progress event.
type EventKind int

const (
	// EventBasesFound fires once the base listing arrived. Total is set.
	EventBasesFound EventKind = iota

	// EventBaseStarted fires before a base's tables are listed. Index, Total, Base are set.
	EventBaseStarted

	// EventTableSkipped fires for tables in the ignore set. Index, Total, Base, Table are set.
	EventTableSkipped

	// EventTableStarted fires before a table's records are loaded. Index, Total, Base, Table are set.
	EventTableStarted

	// EventPageFetched fires per page. Resource is "records" or "comments", Count the page size.
	EventPageFetched

	// EventCommentsStarted fires when records of a table have comments. Count is the number of such records.
	EventCommentsStarted

	// EventNoComments fires when comments are enabled but no record of the table has any.
	EventNoComments

	// EventTableWritten fires after the sink accepted a table. Count is the number of records.
	EventTableWritten
)

// String returns the event name used in logs.
func (k EventKind) String() string {
	switch k {
	case EventBasesFound:
		return "bases_found"
	case EventBaseStarted:
		return "base_started"
	case EventTableSkipped:
		return "table_skipped"
	case EventTableStarted:
		return "table_started"
	case EventPageFetched:
		return "page_fetched"
	case EventCommentsStarted:
		return "comments_started"
	case EventNoComments:
		return "no_comments"
	case EventTableWritten:
		return "table_written"
	default:
		return "unknown"
	}
}

// Event reports walk progress. Index is 0-based.
type Event struct {
	Kind     EventKind
	Index    int
	Total    int
	Base     Base
	Table    Table
	Resource string
	Count    int
}

// ProgressFunc receives progress events in program order.
type ProgressFunc func(Event)

// Summary counts what a run did.
type Summary struct {
	Bases         int
	TablesWritten int
	TablesSkipped int
	Records       int
	Comments      int
}
