package harvest

import "fmt"

// FetchErrorKind classifies why a fetch ultimately failed.
type FetchErrorKind string

// Fetch failure causes.
const (
	FetchNetwork       FetchErrorKind = "network"
	FetchHTTPStatus    FetchErrorKind = "http-status"
	FetchEmptyResponse FetchErrorKind = "empty-response"
)

// FetchError is the typed failure a Fetcher surfaces after exhausting its
// retry budget. It keeps the orchestrator's error taxonomy stable across
// transport libraries.
type FetchError struct {
	Endpoint   Endpoint
	Kind       FetchErrorKind
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: %s (status %d) after %d attempts: %v",
			e.Endpoint, e.Kind, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s after %d attempts: %v", e.Endpoint, e.Kind, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionError reports a schema mismatch while parsing fetched content.
// It is contained per listing and never aborts a run.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extract: %s", e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
