package testutil

// Account is the full content of a fake Airtable account.
type Account struct {
	Bases []BaseFixture
}

// BaseFixture is one base with its tables.
type BaseFixture struct {
	Info   map[string]any
	Tables []TableFixture
}

// TableFixture is one table. Records are in server order; Comments are keyed
// by record id, also in server order.
type TableFixture struct {
	Info     map[string]any
	Records  []map[string]any
	Comments map[string][]map[string]any
}

func schemaFields() []any {
	return []any{
		map[string]any{"type": "singleLineText", "id": "fld123", "name": "Name"},
		map[string]any{
			"type":    "checkbox",
			"options": map[string]any{"icon": "check", "color": "greenBright"},
			"id":      "fld456",
			"name":    "Done?",
		},
	}
}

func recordFields(name, weird string, size int, checked bool) map[string]any {
	return map[string]any{
		"name":                      name,
		"address":                   "Address line 1\nAddress line 2",
		"weird name: what is this?": weird,
		"size":                      size,
		"some_checkbox":             checked,
	}
}

func comment(id, created, text string) map[string]any {
	return map[string]any{
		"author": map[string]any{
			"email": "email@website.com",
			"id":    "usrOrn2etJhbw2dem",
			"name":  "Bruce Wayne",
		},
		"createdTime":     created,
		"id":              id,
		"lastUpdatedTime": nil,
		"text":            text,
	}
}

// DefaultAccount returns two bases with three tables. Records and comments
// are deliberately served out of createdTime order, and the second table has
// a name that needs normalizing.
func DefaultAccount() Account {
	return Account{
		Bases: []BaseFixture{
			{
				Info: map[string]any{"id": "app123", "name": "Base the First", "permissionLevel": "create"},
				Tables: []TableFixture{
					{
						Info: map[string]any{
							"id":             "tbl123",
							"name":           "Cool Table",
							"primaryFieldId": "fld123",
							"fields":         schemaFields(),
						},
						Records: []map[string]any{
							{
								"id":           "rec1",
								"commentCount": 2,
								"fields":       recordFields("This is the name", "hello", 441, true),
								"createdTime":  "2020-04-19T18:50:27.000Z",
							},
							{
								"id":           "rec2",
								"commentCount": 0,
								"fields":       recordFields("This is the name 2", "there", 442, false),
								"createdTime":  "2020-04-18T18:58:27.000Z",
							},
						},
						Comments: map[string][]map[string]any{
							"rec1": {
								comment("comx1KUhmPiHYX11w", "2025-02-21T08:15:25.000Z", "another cool comment!"),
								comment("comx1KUhmPiHYX10w", "2025-02-21T08:05:25.000Z", "cool comment!"),
							},
						},
					},
					{
						Info: map[string]any{
							"id":             "tbl456",
							"name":           "Tough: name? / neat",
							"primaryFieldId": "fld456",
							"fields":         schemaFields(),
						},
						Records: []map[string]any{
							{
								"id":           "rec1",
								"commentCount": 0,
								"fields":       recordFields("This is the name", "hello", 441, true),
								"createdTime":  "2020-04-18T18:50:27.000Z",
							},
							{
								"id":           "rec2",
								"commentCount": 0,
								"fields":       recordFields("This is the name 2", "there", 442, false),
								"createdTime":  "2020-04-18T18:58:27.000Z",
							},
						},
					},
				},
			},
			{
				Info: map[string]any{"id": "app456", "name": "Base the Second", "permissionLevel": "create"},
				Tables: []TableFixture{
					{
						Info: map[string]any{
							"id":             "tbl789",
							"name":           "Cool Table",
							"primaryFieldId": "fld123",
							"fields":         schemaFields(),
						},
						Records: []map[string]any{
							{
								"id":           "rec1",
								"commentCount": 0,
								"fields":       recordFields("This is the name", "hello", 441, true),
								"createdTime":  "2020-04-18T18:50:27.000Z",
							},
							{
								"id":           "rec2",
								"commentCount": 0,
								"fields":       recordFields("This is the name 2", "there", 442, false),
								"createdTime":  "2020-04-18T18:58:27.000Z",
							},
						},
					},
				},
			},
		},
	}
}
