package audit

import "time"

// Entry is one recorded authorization decision.
type Entry struct {
	ID           string    `json:"id"`
	At           time.Time `json:"at"`
	Subject      string    `json:"subject"`
	Kind         string    `json:"kind,omitempty"`
	ResourceID   int64     `json:"resource_id"`
	Action       string    `json:"action"`
	Allowed      bool      `json:"allowed"`
	Reason       string    `json:"reason"`
	Rank         int       `json:"rank"`
	MatchedType  string    `json:"matched_type,omitempty"`
	MatchedScope int64     `json:"matched_scope,omitempty"`
	MatchedRole  int64     `json:"matched_role,omitempty"`
	Source       string    `json:"source,omitempty"`
}

// Filters narrow a trail query. Zero values leave the dimension unfiltered.
type Filters struct {
	From     time.Time
	To       time.Time
	Subject  string
	Action   string
	Allowed  *bool
	Page     int
	PageSize int
}

// PagingInfo carries simple pagination metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"has_next"`
	PageSize int  `json:"page_size"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result bundles one trail page with its paging info.
type Result struct {
	Rows   []Entry    `json:"rows"`
	Paging PagingInfo `json:"paging"`
}
