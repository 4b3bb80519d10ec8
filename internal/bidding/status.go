// Package bidding derives viewer-relative bid statuses and schedule-relative
// auction statuses. Both are pure functions over already-fetched state.
package bidding

import (
	"fmt"
	"time"

	"github.com/bidhaus/auction-server/pkg/errors"
	"github.com/bidhaus/auction-server/pkg/types"
	"github.com/shopspring/decimal"
)

// Resolve classifies an auction for one viewer given the viewer's highest bid
// and the auction-wide highest bid.
//
//	viewer max   auction max   ended   result
//	nil          any           false   NotBid
//	nil          any           true    NotBidEnded
//	== max       == max        false   Leading
//	== max       == max        true    Won
//	< max        > viewer      false   Outbid
//	< max        > viewer      true    Lost
//
// Equality of amounts is the determinant: a bidder tied at the maximum is
// Leading/Won even when an earlier bid holds the display slot. A viewer max
// above the auction max violates the top-bid invariant and is reported as a
// Conflict, never coerced into a guessed status.
func Resolve(viewerMax, auctionMax *decimal.Decimal, ended bool) (types.BidStatus, error) {
	if viewerMax == nil {
		if ended {
			return types.BidStatusNotBidEnded, nil
		}
		return types.BidStatusNotBid, nil
	}

	if auctionMax == nil || viewerMax.GreaterThan(*auctionMax) {
		max := "none"
		if auctionMax != nil {
			max = auctionMax.String()
		}
		return "", errors.Conflict("inconsistent bid state",
			fmt.Errorf("viewer max bid %s exceeds auction max bid %s", viewerMax, max))
	}

	if viewerMax.Equal(*auctionMax) {
		if ended {
			return types.BidStatusWon, nil
		}
		return types.BidStatusLeading, nil
	}

	if ended {
		return types.BidStatusLost, nil
	}
	return types.BidStatusOutbid, nil
}

// StatusAt derives the auction's schedule status at the given instant.
// A nil start time means the auction has not been scheduled yet.
func StatusAt(start, end *time.Time, now time.Time) types.AuctionStatus {
	switch {
	case start == nil:
		return types.AuctionNotScheduled
	case now.Before(*start):
		return types.AuctionScheduled
	case end != nil && !now.Before(*end):
		return types.AuctionEnded
	default:
		return types.AuctionOngoing
	}
}

// MinNewBid is the lowest amount a new bid must reach:
// the current top amount (or the start price when unbid) plus the spread.
func MinNewBid(topAmount *decimal.Decimal, startPrice, spread decimal.Decimal) decimal.Decimal {
	base := startPrice
	if topAmount != nil && topAmount.GreaterThan(base) {
		base = *topAmount
	}
	return base.Add(spread)
}
