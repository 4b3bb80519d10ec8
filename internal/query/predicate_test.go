package query

import (
	"testing"
	"time"

	"github.com/bidhaus/auction-server/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileCmp(t *testing.T) {
	sql, args := Compile(Cmp{Column: "auction.name", Op: OpILike, Value: "%magic%"}, 1)
	assert.Equal(t, "auction.name ILIKE $1", sql)
	assert.Equal(t, []any{"%magic%"}, args)
}

func TestCompileRenumbering(t *testing.T) {
	// Parameters start where the caller says, so the store can reserve
	// leading placeholders for its own bindings.
	expr := And{
		Cmp{Column: "auction.start_price", Op: OpGte, Value: 5},
		Cmp{Column: "auction.start_price", Op: OpLte, Value: 50},
	}
	sql, args := Compile(expr, 4)
	assert.Equal(t, "(auction.start_price >= $4) AND (auction.start_price <= $5)", sql)
	assert.Equal(t, []any{5, 50}, args)
}

func TestCompileOrWithinKey(t *testing.T) {
	sql, args := Compile(anyOf("card.game", OpEq, []string{"MTG", "Pokemon"}), 1)
	assert.Equal(t, "(card.game = $1) OR (card.game = $2)", sql)
	assert.Equal(t, []any{"MTG", "Pokemon"}, args)
}

func TestCompileEmptyGroups(t *testing.T) {
	sql, args := Compile(And{}, 1)
	assert.Equal(t, "TRUE", sql)
	assert.Empty(t, args)

	sql, _ = Compile(Or{}, 1)
	assert.Equal(t, "FALSE", sql)
}

func TestCompileRawPlaceholders(t *testing.T) {
	now := time.Now()
	sql, args := Compile(Raw{SQL: "auction.start_time <= ? AND auction.end_time > ?", Args: []any{now, now}}, 7)
	assert.Equal(t, "auction.start_time <= $7 AND auction.end_time > $8", sql)
	assert.Len(t, args, 2)
}

func TestCompileExists(t *testing.T) {
	sql, args := Compile(Exists{
		Table: "saved_auction",
		Cond:  Cmp{Column: "saved_auction.account_id", Op: OpEq, Value: "acct-1"},
	}, 2)
	assert.Equal(t,
		"EXISTS (SELECT 1 FROM saved_auction WHERE saved_auction.auction_id = auction.auction_id AND (saved_auction.account_id = $2))",
		sql)
	assert.Equal(t, []any{"acct-1"}, args)

	sql, args = Compile(Exists{Table: "bundle", Negate: true}, 2)
	assert.Equal(t, "NOT EXISTS (SELECT 1 FROM bundle WHERE bundle.auction_id = auction.auction_id)", sql)
	assert.Empty(t, args)
}

func TestCardFilterKeepsBundles(t *testing.T) {
	// A card attribute filter must not silently exclude bundle auctions: the
	// compiled condition matches cards OR bundle membership.
	f := Filters{CardGames: []string{"MTG"}}
	sql, args := Compile(f.ToExpr(time.Now()), 2)

	assert.Contains(t, sql, "EXISTS (SELECT 1 FROM card WHERE card.auction_id = auction.auction_id AND ((card.game = $2)))")
	assert.Contains(t, sql, "OR (EXISTS (SELECT 1 FROM bundle WHERE bundle.auction_id = auction.auction_id))")
	assert.Equal(t, []any{"MTG"}, args)
}

func TestBundleFilterKeepsCardAuctions(t *testing.T) {
	f := Filters{BundleSets: []string{"Alpha"}}
	sql, _ := Compile(f.ToExpr(time.Now()), 2)

	assert.Contains(t, sql, "EXISTS (SELECT 1 FROM bundle WHERE bundle.auction_id = auction.auction_id AND ((bundle.set = $2)))")
	assert.Contains(t, sql, "OR (EXISTS (SELECT 1 FROM card WHERE card.auction_id = auction.auction_id))")
}

func TestMinNewBidBoundsDegradeGracefully(t *testing.T) {
	// Only a lower bound supplied; the condition compares against the moving
	// floor, not the start price.
	min := mustDec(t, "15.00")
	f := Filters{MinNewBidPriceMin: &min}
	sql, args := Compile(f.ToExpr(time.Now()), 2)

	assert.Equal(t,
		"(GREATEST(COALESCE(bid_agg.max_amount, auction.start_price), auction.start_price) + auction.spread >= $2)",
		sql)
	require.Len(t, args, 1)
}

func TestQualityFilterMixesScales(t *testing.T) {
	// Graded and ungraded quality filters are alternatives, not a silent
	// exclusion of one scale.
	min, max := 7, 10
	f := Filters{CardQualities: []string{"Near Mint"}, CardQualityPSAMin: &min, CardQualityPSAMax: &max}
	sql, args := Compile(f.ToExpr(time.Now()), 2)

	assert.Contains(t, sql, "card.quality_ungraded = $2")
	assert.Contains(t, sql, "(card.quality_psa >= $3) AND (card.quality_psa <= $4)")
	assert.Equal(t, []any{"Near Mint", 7, 10}, args)
}

func TestAuctionStatusFilterAnchorsOneInstant(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := Filters{AuctionStatuses: []types.AuctionStatus{types.AuctionOngoing, types.AuctionEnded}}
	sql, args := Compile(f.ToExpr(now), 2)

	assert.Contains(t, sql, "auction.start_time <= $2 AND auction.end_time > $3")
	assert.Contains(t, sql, "auction.end_time <= $4")
	for _, a := range args {
		assert.Equal(t, now, a)
	}
}

func TestBidStatusFilterCompiles(t *testing.T) {
	f := Filters{BidStatuses: []types.BidStatus{types.BidStatusLeading}}
	sql, args := Compile(f.ToExpr(time.Now()), 2)

	assert.Contains(t, sql, "viewer_bid.max_amount IS NOT NULL")
	assert.Contains(t, sql, "viewer_bid.max_amount = bid_agg.max_amount")
	assert.Contains(t, sql, "auction.end_time IS NULL OR auction.end_time > $2")
	assert.Len(t, args, 1)
}

func TestAbsentFiltersCompileToTrue(t *testing.T) {
	var f Filters
	sql, args := Compile(f.ToExpr(time.Now()), 2)
	assert.Equal(t, "TRUE", sql)
	assert.Empty(t, args)
}
