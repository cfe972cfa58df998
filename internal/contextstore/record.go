package contextstore

import "time"

// Record kinds. The store accepts arbitrary kinds; these are the ones the
// core reads and writes itself.
const (
	KindPersonalFact = "personal-fact"
	KindEpisodicNote = "episodic-note"
	KindCalendarItem = "calendar-item"
	KindListItem     = "list-item"
	KindDeviceState  = "device-state"
)

// Record is a typed fact owned by the external memory store. The core only
// reads and ranks copies.
type Record struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope"`
	Kind      string    `json:"kind"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Source    string    `json:"source,omitempty"`
	Relevance float64   `json:"relevance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Query describes a record lookup against the store.
type Query struct {
	Scope string   `json:"scope"`
	Text  string   `json:"text"`
	Kinds []string `json:"kinds,omitempty"`
	Limit int      `json:"limit,omitempty"`
}
