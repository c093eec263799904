package booli

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hemdata/listingharvester/internal/harvest"
)

// marketStatusClass is the class list of the status badge on a listing
// page. The badge has no stable id, so it is located by its exact class
// attribute.
const marketStatusClass = "py-1 rounded w-fit bg-bui-color-black text-bui-color-white " +
	"inline-flex items-center justify-center font-semibold rounded px-2 text-sm"

// Parser implements harvest.ListingParser for listing pages.
type Parser struct{}

// NewParser returns a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseListing keeps only the relevant slice of a listing page: the Apollo
// state embedded in the __NEXT_DATA__ script, minus the query cache,
// enriched with the page's market status. Any schema mismatch is reported
// as a *harvest.ExtractionError.
func (*Parser) ParseListing(content []byte) (json.RawMessage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, &harvest.ExtractionError{Reason: "parse listing html", Err: err}
	}

	raw := doc.Find("script#__NEXT_DATA__").First().Text()
	if strings.TrimSpace(raw) == "" {
		return nil, &harvest.ExtractionError{Reason: "script tag __NEXT_DATA__ not found"}
	}

	status, err := marketStatus(doc)
	if err != nil {
		return nil, err
	}

	var page struct {
		Props struct {
			PageProps struct {
				ApolloState map[string]json.RawMessage `json:"__APOLLO_STATE__"`
			} `json:"pageProps"`
		} `json:"props"`
	}
	if err := json.Unmarshal([]byte(raw), &page); err != nil {
		return nil, &harvest.ExtractionError{Reason: "decode __NEXT_DATA__ json", Err: err}
	}

	state := page.Props.PageProps.ApolloState
	if len(state) == 0 {
		return nil, &harvest.ExtractionError{Reason: "apollo state missing from __NEXT_DATA__"}
	}
	delete(state, "ROOT_QUERY")

	statusJSON, err := json.Marshal(status)
	if err != nil {
		return nil, &harvest.ExtractionError{Reason: "encode market status", Err: err}
	}
	state["market_status"] = statusJSON

	payload, err := json.Marshal(state)
	if err != nil {
		return nil, &harvest.ExtractionError{Reason: "encode listing payload", Err: err}
	}
	return payload, nil
}

func marketStatus(doc *goquery.Document) (string, error) {
	badge := doc.Find("div").FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		return class == marketStatusClass
	}).First()

	if badge.Length() == 0 {
		return "", &harvest.ExtractionError{Reason: "entry missing market status tag"}
	}
	return strings.TrimSpace(badge.Text()), nil
}
