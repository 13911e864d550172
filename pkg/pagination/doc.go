// Package pagination walks Airtable's offset-paginated list endpoints.
//
// Airtable list endpoints return a page of items plus an opaque "offset"
// token when more items exist. The first request carries no offset at all;
// every following request carries the token of the previous response, and the
// walk ends with the first response that has no token.
//
// A Pager is a small state machine:
//
//	NotStarted --request--> HasCursor(token) --request--> ... --request--> Exhausted
//
// NotStarted and HasCursor issue a request, Exhausted stops. Pages are
// fetched strictly one after another with a fixed delay between two requests
// (never before the first or after the last), which keeps a single walk under
// Airtable's 5 requests per second limit.
//
// Example usage:
//
//	pager := pagination.New(client, "/app123/tbl123", "records", nil, pagination.DefaultConfig())
//	for item, err := range pager.All(ctx) {
//		if err != nil {
//			return err
//		}
//		// item is one raw JSON record
//	}
//
// A Pager cannot be rewound; create a new one to walk the endpoint again.
package pagination
