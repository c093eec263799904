// Package booli parses search and listing pages from the booli.se sold
// listings archive. It implements the harvest.SearchSource and
// harvest.ListingParser collaborator interfaces; the core engine never
// depends on this page schema.
package booli

import (
	"fmt"
	"regexp"

	"github.com/hemdata/listingharvester/internal/harvest"
)

// Listing types appearing in result URLs.
const (
	ListingAnnons = "annons"
	ListingBostad = "bostad"
)

// listingURLPattern matches listing links on a search-results page. Links
// appear both absolute and relative; the type/id tail is what identifies
// the listing.
var listingURLPattern = regexp.MustCompile(`(annons|bostad)/(\d+)`)

// Source implements harvest.SearchSource for the sold-listings search.
type Source struct{}

// NewSource returns a Source.
func NewSource() *Source {
	return &Source{}
}

// SearchEndpoint builds the endpoint for one page of a date's finalized
// sale results. Pages are numbered from zero.
func (*Source) SearchEndpoint(date string, page int) harvest.Endpoint {
	return harvest.Endpoint(fmt.Sprintf(
		"sok/slutpriser?maxSoldDate=%s&minSoldDate=%s&page=%d", date, date, page,
	))
}

// ParseSearchPage extracts the ordered, deduplicated listing references
// from raw search-page content. An empty result means the date's listings
// are exhausted.
func (*Source) ParseSearchPage(content []byte) ([]harvest.ListingRef, error) {
	matches := listingURLPattern.FindAllSubmatch(content, -1)

	refs := make([]harvest.ListingRef, 0, len(matches))
	seen := make(map[harvest.ListingRef]struct{}, len(matches))
	for _, m := range matches {
		ref := harvest.ListingRef{Type: string(m[1]), ID: string(m[2])}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	return refs, nil
}
