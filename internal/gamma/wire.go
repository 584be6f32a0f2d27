// Package gamma ingests market metadata from the Gamma API: the events
// feed, the tag dictionary, and the sports tag mapping.
package gamma

// Field types follow the wire, which is loose: numbers and arrays often
// arrive as strings, booleans are sometimes omitted, and market-level
// fields fall back to their event-level counterparts. Anything duck-typed
// is declared as `any` and handed to the parse helpers.

// Event is one element of the /events response.
type Event struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Slug      string   `json:"slug"`
	NegRisk   *bool    `json:"negRisk"`
	Active    *bool    `json:"active"`
	Closed    *bool    `json:"closed"`
	StartDate string   `json:"startDate"`
	EndDate   string   `json:"endDate"`
	CreatedAt string   `json:"createdAt"`
	UpdatedAt string   `json:"updatedAt"`
	Tags      []Tag    `json:"tags"`
	Markets   []Market `json:"markets"`
}

// Market is one market nested in an event.
type Market struct {
	ID           string `json:"id"`
	ConditionID  string `json:"conditionId"`
	Slug         string `json:"slug"`
	Question     string `json:"question"`
	Outcomes     any    `json:"outcomes"`     // JSON array or encoded string
	ClobTokenIDs any    `json:"clobTokenIds"` // JSON array or encoded string
	VolumeNum    any    `json:"volumeNum"`
	Volume       any    `json:"volume"`
	LiquidityNum any    `json:"liquidityNum"`
	Liquidity    any    `json:"liquidity"`
	NegRisk      *bool  `json:"negRisk"`
	Active       *bool  `json:"active"`
	Closed       *bool  `json:"closed"`
	StartDate    string `json:"startDate"`
	EndDate      string `json:"endDate"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

// Tag is one entry of /tags, also nested in events.
type Tag struct {
	ID    any    `json:"id"` // string or number
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

// Sport is one entry of /sports; Tags is a comma-separated ID list.
type Sport struct {
	ID   string `json:"id"`
	Tags string `json:"tags"`
}
