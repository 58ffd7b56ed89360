package coursework

import "time"

// Limits are the submission constraints configured on one content node.
// Zero values disable the corresponding check: no attempt cap, no opening
// time, no closing time.
type Limits struct {
	ContentID      int64     `json:"content_id"`
	MaxSubmissions int       `json:"max_submissions"`
	AvailableFrom  time.Time `json:"available_from,omitempty"`
	AvailableUntil time.Time `json:"available_until,omitempty"`
}
