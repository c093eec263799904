package harvest

import (
	"context"
	"encoding/json"
	"time"
)

// Fetcher performs one logical fetch of an endpoint, returning the raw
// response body. Implementations own rate limiting and retries; errors
// surfaced here are terminal for this fetch.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint Endpoint) ([]byte, error)
}

// SearchSource knows how the upstream site shapes its date-keyed search
// pages: how to address one, and how to read the listing references off it.
type SearchSource interface {
	// SearchEndpoint builds the endpoint for one page of a date's results.
	// Pages are numbered from zero.
	SearchEndpoint(date string, page int) Endpoint
	// ParseSearchPage extracts the ordered listing references from raw
	// search-page content. An empty slice means the date's results are
	// exhausted.
	ParseSearchPage(content []byte) ([]ListingRef, error)
}

// ListingParser turns raw listing-page content into a structured payload.
// A schema mismatch is reported as an *ExtractionError.
type ListingParser interface {
	ParseListing(content []byte) (json.RawMessage, error)
}

// Store is the durable ledger of harvested records.
type Store interface {
	// IsScraped reports whether the endpoint already has a record.
	IsScraped(endpoint Endpoint) bool
	// Append durably writes one record. Failures are fatal to the run.
	Append(endpoint Endpoint, date string, payload json.RawMessage) error
}

// DateCursor is a restartable sequence of calendar dates still requiring a
// crawl pass. Next returns false once the sequence is exhausted.
type DateCursor interface {
	Next() (string, bool)
}

// Planner tracks date coverage and plans which dates still need visiting.
type Planner interface {
	// Plan returns the dates to visit between backStop and today, skipping
	// every date already covered.
	Plan(backStop, today time.Time) DateCursor
	// MarkCovered durably records that every page of the date's results has
	// been walked.
	MarkCovered(date string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
