package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hemdata/listingharvester/internal/metrics"
)

// Engine drives the crawl: per planned date it pages through the search
// results, skips endpoints already in the store, fetches and parses new
// listings, persists them, and advances coverage once a date's pages are
// exhausted. A single goroutine drives the loop.
type Engine struct {
	cfg     Config
	fetcher Fetcher
	source  SearchSource
	parser  ListingParser
	store   Store
	planner Planner
	clock   Clock
	logger  *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(
	cfg Config,
	fetcher Fetcher,
	source SearchSource,
	parser ListingParser,
	store Store,
	planner Planner,
	clock Clock,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		fetcher: fetcher,
		source:  source,
		parser:  parser,
		store:   store,
		planner: planner,
		clock:   clock,
		logger:  logger,
	}
}

// Run harvests until the wall-clock budget expires, the planner's dates
// are exhausted, or the context is canceled. Per-listing and per-page
// failures are contained and logged; only storage failures abort the run.
func (e *Engine) Run(ctx context.Context) error {
	if e.cfg.RunBudget <= 0 {
		return fmt.Errorf("run budget must be positive, got %s", e.cfg.RunBudget)
	}

	logger := e.logger.With(zap.String("run_id", uuid.NewString()))
	deadline := e.clock.Now().Add(e.cfg.RunBudget)
	cursor := e.planner.Plan(e.cfg.BackStopDate, e.clock.Now())

	scraped := 0
	for {
		if done, why := e.shouldStop(ctx, deadline); done {
			logger.Info("run stopped", zap.String("reason", why), zap.Int("listings_scraped", scraped))
			return nil
		}
		date, ok := cursor.Next()
		if !ok {
			break
		}

		logger.Info("starting date", zap.String("date", date))
		covered, err := e.harvestDate(ctx, logger, date, deadline, &scraped)
		if err != nil {
			return err
		}
		if covered {
			if err := e.planner.MarkCovered(date); err != nil {
				return fmt.Errorf("mark date covered: %w", err)
			}
			metrics.ObserveDateCovered()
			logger.Info("finished date", zap.String("date", date), zap.Int("listings_scraped", scraped))
		}
	}

	logger.Info("run finished, no dates left to visit", zap.Int("listings_scraped", scraped))
	return nil
}

func (e *Engine) shouldStop(ctx context.Context, deadline time.Time) (bool, string) {
	if ctx.Err() != nil {
		return true, "canceled"
	}
	if !e.clock.Now().Before(deadline) {
		return true, "duration budget exhausted"
	}
	return false, ""
}

// harvestDate pages through one date's search results. It reports
// covered=true only after a page yields zero listings; abandoning the date
// early (budget, cancellation, search-page failure) leaves it uncovered so
// a later run revisits it.
func (e *Engine) harvestDate(
	ctx context.Context,
	logger *zap.Logger,
	date string,
	deadline time.Time,
	scraped *int,
) (bool, error) {
	for page := 0; ; page++ {
		if done, _ := e.shouldStop(ctx, deadline); done {
			return false, nil
		}

		refs, ok := e.fetchSearchPage(ctx, logger, date, page)
		if !ok {
			return false, nil
		}
		if len(refs) == 0 {
			metrics.ObserveSearchPage("empty")
			return true, nil
		}
		metrics.ObserveSearchPage("listings")

		for _, ref := range refs {
			if err := e.processListing(ctx, logger, date, ref, scraped); err != nil {
				return false, err
			}
		}
	}
}

// fetchSearchPage fetches and parses one search-results page. ok=false
// means the page could not be read; the date is retried on a later run.
func (e *Engine) fetchSearchPage(
	ctx context.Context,
	logger *zap.Logger,
	date string,
	page int,
) ([]ListingRef, bool) {
	endpoint := e.source.SearchEndpoint(date, page)
	content, err := e.fetcher.Fetch(ctx, endpoint)
	if err != nil {
		metrics.ObserveSearchPage("error")
		logger.Warn("search page fetch failed, abandoning date",
			zap.String("date", date),
			zap.Int("page", page),
			zap.Error(err),
		)
		return nil, false
	}
	refs, err := e.source.ParseSearchPage(content)
	if err != nil {
		metrics.ObserveSearchPage("error")
		logger.Warn("search page parse failed, abandoning date",
			zap.String("date", date),
			zap.Int("page", page),
			zap.Error(err),
		)
		return nil, false
	}
	return refs, true
}

// processListing fetches, parses, and persists a single listing. A
// previously captured endpoint is skipped without any network call; that
// guarantee is what keeps restarts from repeating work. Fetch and
// extraction failures skip the listing (it was never marked scraped, so
// the next full run retries it); storage failures are fatal.
func (e *Engine) processListing(
	ctx context.Context,
	logger *zap.Logger,
	date string,
	ref ListingRef,
	scraped *int,
) error {
	endpoint := ref.Endpoint()
	if e.store.IsScraped(endpoint) {
		metrics.ObserveListingSkipped("already_scraped")
		logger.Debug("endpoint already scraped", zap.String("endpoint", string(endpoint)))
		return nil
	}

	content, err := e.fetcher.Fetch(ctx, endpoint)
	if err != nil {
		metrics.ObserveListingSkipped("fetch_error")
		logger.Warn("listing fetch failed, skipping",
			zap.String("endpoint", string(endpoint)),
			zap.Error(err),
		)
		return nil
	}

	payload, err := e.parser.ParseListing(content)
	if err != nil {
		var extractionErr *ExtractionError
		if errors.As(err, &extractionErr) {
			metrics.ObserveListingSkipped("extraction_error")
			logger.Warn("listing extraction failed, skipping",
				zap.String("endpoint", string(endpoint)),
				zap.Error(err),
			)
			return nil
		}
		return fmt.Errorf("parse listing %s: %w", endpoint, err)
	}

	if err := e.store.Append(endpoint, date, payload); err != nil {
		return fmt.Errorf("persist listing %s: %w", endpoint, err)
	}
	*scraped++
	metrics.ObserveListingScraped()
	return nil
}
