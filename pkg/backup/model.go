// Package backup walks an Airtable account (bases, tables, records and
// optionally record comments) and hands every table's schema and complete,
// ordered record set to a Sink.
package backup

import (
	"encoding/json"
	"maps"
	"sort"
)

// Base is one entry of the bases listing.
type Base struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	PermissionLevel string `json:"permissionLevel"`
}

// Table is a table schema as returned by the base schema endpoint. The
// original JSON is kept and written back verbatim; Fields is never interpreted.
type Table struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	PrimaryFieldID string            `json:"primaryFieldId"`
	Fields         []json.RawMessage `json:"fields"`

	raw json.RawMessage
}

type tableFields Table

// UnmarshalJSON decodes the known fields and keeps the raw object.
func (t *Table) UnmarshalJSON(data []byte) error {
	var v tableFields
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*t = Table(v)
	t.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the schema exactly as received.
func (t Table) MarshalJSON() ([]byte, error) {
	if t.raw != nil {
		return t.raw, nil
	}
	return json.Marshal(tableFields(t))
}

// Record is one table row. The original JSON object is kept and written
// back with its comments attached; Comments is always present in the output
// and is an empty list when comments were not fetched or the record has none.
// Struct fields are declared in JSON key order.
type Record struct {
	CommentCount *int            `json:"commentCount,omitempty"`
	Comments     []Comment       `json:"comments"`
	CreatedTime  string          `json:"createdTime"`
	Fields       json.RawMessage `json:"fields"`
	ID           string          `json:"id"`

	raw map[string]json.RawMessage
}

type recordFields Record

// UnmarshalJSON decodes the known fields and keeps every top-level key.
func (r *Record) UnmarshalJSON(data []byte) error {
	var v recordFields
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Record(v)
	r.raw = raw
	return nil
}

// MarshalJSON returns the record as received, with "comments" set.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.raw == nil {
		return json.Marshal(recordFields(r))
	}

	comments := r.Comments
	if comments == nil {
		comments = []Comment{}
	}
	encoded, err := json.Marshal(comments)
	if err != nil {
		return nil, err
	}

	out := maps.Clone(r.raw)
	out["comments"] = encoded
	return json.Marshal(out)
}

// HasComments reports whether the API said the record has at least one comment.
func (r Record) HasComments() bool {
	return r.CommentCount != nil && *r.CommentCount != 0
}

// Comment is a record comment. Only createdTime is read; the object is
// otherwise passed through untouched.
type Comment struct {
	CreatedTime string

	raw json.RawMessage
}

// UnmarshalJSON keeps the raw comment and reads its createdTime.
func (c *Comment) UnmarshalJSON(data []byte) error {
	var v struct {
		CreatedTime string `json:"createdTime"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	c.CreatedTime = v.CreatedTime
	c.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the comment exactly as received.
func (c Comment) MarshalJSON() ([]byte, error) {
	if c.raw != nil {
		return c.raw, nil
	}
	return json.Marshal(struct {
		CreatedTime string `json:"createdTime"`
	}{c.CreatedTime})
}

// SortRecords orders records by ascending createdTime. Ties keep server order.
func SortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedTime < records[j].CreatedTime
	})
}

// SortComments orders comments by ascending createdTime. Ties keep server order.
func SortComments(comments []Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].CreatedTime < comments[j].CreatedTime
	})
}
