// Package harvest defines the core types and interfaces for the listing
// harvesting engine. It includes the record model, the collaborator
// interfaces for parsing and fetching, and the Engine orchestrator.
package harvest

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the calendar date format used throughout the harvester,
// both on the wire (search queries) and in persisted state.
const DateLayout = "2006-01-02"

// Endpoint is an opaque identifier naming a single fetchable resource,
// relative to the configured base URL. It doubles as the dedup key in the
// record store.
type Endpoint string

// Record is one harvested listing: the endpoint it came from, the search
// date it was found under, and the extracted payload. Records are created
// exactly once per successful fetch and never mutated.
type Record struct {
	ID      Endpoint        `json:"id"`
	Date    string          `json:"date"`
	Payload json.RawMessage `json:"payload"`
}

// ListingRef identifies one listing referenced by a search-results page.
type ListingRef struct {
	Type string
	ID   string
}

// Endpoint returns the fetchable endpoint for the referenced listing.
func (r ListingRef) Endpoint() Endpoint {
	return Endpoint(fmt.Sprintf("%s/%s", r.Type, r.ID))
}

// Config holds the settings for a harvest run. It is decoupled from Viper
// so the engine can be constructed and tested independently.
type Config struct {
	BackStopDate time.Time
	RunBudget    time.Duration
}

// Yesterday returns the day before t, truncated to a calendar date in UTC.
// The search source only has finalized results up to yesterday.
func Yesterday(t time.Time) time.Time {
	y := t.UTC().AddDate(0, 0, -1)
	return time.Date(y.Year(), y.Month(), y.Day(), 0, 0, 0, 0, time.UTC)
}
