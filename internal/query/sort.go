package query

import "net/url"

// Sort is a whitelisted ORDER BY clause. The zero value sorts by auction id,
// which is also appended to every clause as a deterministic tiebreaker.
type Sort struct {
	clause string
}

// Nullable sort columns order their NULLs as the smallest value in both
// directions: first when ascending, last when descending.
var sortClauses = map[string]string{
	"startPriceAsc":      "auction.start_price ASC",
	"startPriceDesc":     "auction.start_price DESC",
	"currentBidAsc":      colMaxBid + " ASC NULLS FIRST",
	"currentBidDesc":     colMaxBid + " DESC NULLS LAST",
	"minNewBidPriceAsc":  colMinNewBid + " ASC",
	"minNewBidPriceDesc": colMinNewBid + " DESC",
	"startTimeAsc":       "auction.start_time ASC NULLS FIRST",
	"startTimeDesc":      "auction.start_time DESC NULLS LAST",
	"endTimeAsc":         "auction.end_time ASC NULLS FIRST",
	"endTimeDesc":        "auction.end_time DESC NULLS LAST",
	"numBidsAsc":         "COALESCE(bid_agg.num_bids, 0) ASC",
	"numBidsDesc":        "COALESCE(bid_agg.num_bids, 0) DESC",
}

// ParseSort maps a sortBy value to its clause. Unknown or absent keys fall
// back to the default order instead of failing.
func ParseSort(values url.Values) Sort {
	if clause, ok := sortClauses[values.Get("sortBy")]; ok {
		return Sort{clause: clause}
	}
	return Sort{}
}

// OrderBy renders the full ORDER BY expression.
func (s Sort) OrderBy() string {
	if s.clause == "" {
		return "auction.auction_id ASC"
	}
	return s.clause + ", auction.auction_id ASC"
}

// Page is a clamped, 1-indexed pagination window.
type Page struct {
	Number int
	Size   int
}

// ParsePage clamps page and pageSize into valid bounds; malformed values take
// the defaults rather than erroring.
func ParsePage(values url.Values, defaultSize, maxSize int) Page {
	p := Page{Number: 1, Size: defaultSize}
	if n := atoiOr(values.Get("page"), 1); n >= 1 {
		p.Number = n
	}
	if s := atoiOr(values.Get("pageSize"), defaultSize); s >= 1 {
		p.Size = s
	}
	if p.Size > maxSize {
		p.Size = maxSize
	}
	return p
}

// Offset is the number of rows skipped before this page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n := 0
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return fallback
		}
		n = n*10 + int(ch-'0')
		if n > 1<<30 {
			return fallback
		}
	}
	return n
}
