package coverage

import (
	"time"

	"github.com/hemdata/listingharvester/internal/harvest"
)

// dateRange is an inclusive run of calendar days.
type dateRange struct {
	cur, end time.Time
}

// Cursor walks the planned date ranges, ascending within each range,
// skipping any date that has become covered since planning. It implements
// harvest.DateCursor and is restartable by calling Plan again.
type Cursor struct {
	ranges  []dateRange
	covered func(date string) bool
}

// Next yields the next date still requiring a crawl pass.
func (c *Cursor) Next() (string, bool) {
	for len(c.ranges) > 0 {
		r := &c.ranges[0]
		if r.cur.After(r.end) {
			c.ranges = c.ranges[1:]
			continue
		}
		date := r.cur.Format(harvest.DateLayout)
		r.cur = r.cur.AddDate(0, 0, 1)
		if c.covered != nil && c.covered(date) {
			continue
		}
		return date, true
	}
	return "", false
}

// Plan computes the dates still requiring a crawl pass between backStop
// and yesterday (the source only has finalized results up to yesterday).
//
// With empty coverage the whole backStop..yesterday span is planned.
// Otherwise two disjoint forward-growing ranges are planned relative to
// the coverage frontier: latest-covered+1..yesterday closes the recent
// gap, and backStop..earliest-covered-1 backfills history. The recent
// range runs first so the harvester keeps up with new listings before
// backfilling. A covered date is never yielded.
func (t *Tracker) Plan(backStop, today time.Time) harvest.DateCursor {
	yesterday := harvest.Yesterday(today)
	backStop = truncate(backStop)

	earliest, latest, ok := t.frontier()
	if !ok {
		return &Cursor{
			ranges:  []dateRange{{cur: backStop, end: yesterday}},
			covered: t.IsCovered,
		}
	}

	ranges := make([]dateRange, 0, 2)
	if recent := (dateRange{cur: latest.AddDate(0, 0, 1), end: yesterday}); !recent.cur.After(recent.end) {
		ranges = append(ranges, recent)
	}
	if backfill := (dateRange{cur: backStop, end: earliest.AddDate(0, 0, -1)}); !backfill.cur.After(backfill.end) {
		ranges = append(ranges, backfill)
	}
	return &Cursor{ranges: ranges, covered: t.IsCovered}
}

func truncate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
