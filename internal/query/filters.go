package query

import (
	"net/url"
	"strconv"
	"time"

	"github.com/bidhaus/auction-server/pkg/types"
	"github.com/shopspring/decimal"
)

// Column expressions the compiler is allowed to touch. The aliases match the
// base search query in internal/database.
const (
	colAuctioneerID = "auction.auctioneer_id"
	colAuctionName  = "auction.name"
	colStartTime    = "auction.start_time"
	colEndTime      = "auction.end_time"
	colMaxBid       = "bid_agg.max_amount"
	colViewerMaxBid = "viewer_bid.max_amount"

	// Minimum viable new bid: once bidding has begun the floor moves with the
	// top bid, not the start price.
	colMinNewBid = "GREATEST(COALESCE(bid_agg.max_amount, auction.start_price), auction.start_price) + auction.spread"
)

// Filters holds every optional search criterion. Nil/empty fields contribute
// no condition.
type Filters struct {
	AuctioneerID *string
	SavedBy      *string
	Name         *string

	MinNewBidPriceMin *decimal.Decimal
	MinNewBidPriceMax *decimal.Decimal

	StartTimeAfter  *time.Time
	StartTimeBefore *time.Time
	EndTimeAfter    *time.Time
	EndTimeBefore   *time.Time

	AuctionStatuses []types.AuctionStatus
	BidStatuses     []types.BidStatus

	CardGames         []string
	CardName          *string
	CardManufacturers []string
	CardQualities     []string
	CardQualityPSAMin *int
	CardQualityPSAMax *int
	CardRarities      []string
	CardSets          []string
	CardIsFoil        *bool

	BundleGames         []string
	BundleName          *string
	BundleManufacturers []string
	BundleSets          []string

	IsBundle *bool
}

// NeedsViewer reports whether the filter set only makes sense relative to an
// authenticated viewer.
func (f *Filters) NeedsViewer() bool {
	return len(f.BidStatuses) > 0
}

// ToExpr compiles the filter set into one conjunction. now anchors the
// derived auction-status conditions so one listing query sees one instant.
func (f *Filters) ToExpr(now time.Time) Expr {
	conds := And{}

	if f.AuctioneerID != nil {
		conds = append(conds, Cmp{Column: colAuctioneerID, Op: OpEq, Value: *f.AuctioneerID})
	}
	if f.SavedBy != nil {
		conds = append(conds, Exists{
			Table: "saved_auction",
			Cond:  Cmp{Column: "saved_auction.account_id", Op: OpEq, Value: *f.SavedBy},
		})
	}
	if f.Name != nil {
		conds = append(conds, Cmp{Column: colAuctionName, Op: OpILike, Value: contains(*f.Name)})
	}

	if f.MinNewBidPriceMin != nil {
		conds = append(conds, Cmp{Column: colMinNewBid, Op: OpGte, Value: *f.MinNewBidPriceMin})
	}
	if f.MinNewBidPriceMax != nil {
		conds = append(conds, Cmp{Column: colMinNewBid, Op: OpLte, Value: *f.MinNewBidPriceMax})
	}

	if f.StartTimeAfter != nil {
		conds = append(conds, Cmp{Column: colStartTime, Op: OpGte, Value: *f.StartTimeAfter})
	}
	if f.StartTimeBefore != nil {
		conds = append(conds, Cmp{Column: colStartTime, Op: OpLte, Value: *f.StartTimeBefore})
	}
	if f.EndTimeAfter != nil {
		conds = append(conds, Cmp{Column: colEndTime, Op: OpGte, Value: *f.EndTimeAfter})
	}
	if f.EndTimeBefore != nil {
		conds = append(conds, Cmp{Column: colEndTime, Op: OpLte, Value: *f.EndTimeBefore})
	}

	if len(f.AuctionStatuses) > 0 {
		or := make(Or, 0, len(f.AuctionStatuses))
		for _, s := range f.AuctionStatuses {
			if e := auctionStatusExpr(s, now); e != nil {
				or = append(or, e)
			}
		}
		conds = append(conds, or)
	}

	if len(f.BidStatuses) > 0 {
		or := make(Or, 0, len(f.BidStatuses))
		for _, s := range f.BidStatuses {
			if e := bidStatusExpr(s, now); e != nil {
				or = append(or, e)
			}
		}
		conds = append(conds, or)
	}

	if card := f.cardExpr(); card != nil {
		// A card filter must not silently drop bundle auctions: an auction
		// passes when its cards match or it is a bundle auction.
		conds = append(conds, Or{card, Exists{Table: "bundle"}})
	}
	if bundle := f.bundleExpr(); bundle != nil {
		conds = append(conds, Or{bundle, Exists{Table: "card"}})
	}

	if f.IsBundle != nil {
		conds = append(conds, Exists{Table: "bundle", Negate: !*f.IsBundle})
	}

	return conds
}

// cardExpr builds the EXISTS condition over card attributes, or nil when no
// card filter was supplied.
func (f *Filters) cardExpr() Expr {
	attrs := And{}
	if len(f.CardGames) > 0 {
		attrs = append(attrs, anyOf("card.game", OpEq, f.CardGames))
	}
	if f.CardName != nil {
		attrs = append(attrs, Cmp{Column: "card.name", Op: OpILike, Value: contains(*f.CardName)})
	}
	if len(f.CardManufacturers) > 0 {
		attrs = append(attrs, anyOf("card.manufacturer", OpEq, f.CardManufacturers))
	}
	if q := f.qualityExpr(); q != nil {
		attrs = append(attrs, q)
	}
	if len(f.CardRarities) > 0 {
		attrs = append(attrs, anyOf("card.rarity", OpEq, f.CardRarities))
	}
	if len(f.CardSets) > 0 {
		attrs = append(attrs, anyOf("card.set", OpEq, f.CardSets))
	}
	if f.CardIsFoil != nil {
		attrs = append(attrs, Cmp{Column: "card.is_foil", Op: OpEq, Value: *f.CardIsFoil})
	}
	if len(attrs) == 0 {
		return nil
	}
	return Exists{Table: "card", Cond: attrs}
}

// qualityExpr treats the graded and ungraded scales as alternatives: a card
// matches when its ungraded quality is among the requested ones, or its PSA
// grade falls inside the requested bounds. Each bound degrades gracefully
// when supplied alone.
func (f *Filters) qualityExpr() Expr {
	or := Or{}
	if len(f.CardQualities) > 0 {
		or = append(or, anyOf("card.quality_ungraded", OpEq, f.CardQualities))
	}
	psa := And{}
	if f.CardQualityPSAMin != nil {
		psa = append(psa, Cmp{Column: "card.quality_psa", Op: OpGte, Value: *f.CardQualityPSAMin})
	}
	if f.CardQualityPSAMax != nil {
		psa = append(psa, Cmp{Column: "card.quality_psa", Op: OpLte, Value: *f.CardQualityPSAMax})
	}
	if len(psa) > 0 {
		or = append(or, psa)
	}
	if len(or) == 0 {
		return nil
	}
	return or
}

func (f *Filters) bundleExpr() Expr {
	attrs := And{}
	if len(f.BundleGames) > 0 {
		attrs = append(attrs, anyOf("bundle.game", OpEq, f.BundleGames))
	}
	if f.BundleName != nil {
		attrs = append(attrs, Cmp{Column: "bundle.name", Op: OpILike, Value: contains(*f.BundleName)})
	}
	if len(f.BundleManufacturers) > 0 {
		attrs = append(attrs, anyOf("bundle.manufacturer", OpEq, f.BundleManufacturers))
	}
	if len(f.BundleSets) > 0 {
		attrs = append(attrs, anyOf("bundle.set", OpEq, f.BundleSets))
	}
	if len(attrs) == 0 {
		return nil
	}
	return Exists{Table: "bundle", Cond: attrs}
}

func auctionStatusExpr(s types.AuctionStatus, now time.Time) Expr {
	switch s {
	case types.AuctionNotScheduled:
		return Raw{SQL: "auction.start_time IS NULL"}
	case types.AuctionScheduled:
		return Cmp{Column: colStartTime, Op: OpGt, Value: now}
	case types.AuctionOngoing:
		return Raw{SQL: "auction.start_time <= ? AND auction.end_time > ?", Args: []any{now, now}}
	case types.AuctionEnded:
		return Cmp{Column: colEndTime, Op: OpLte, Value: now}
	default:
		return nil
	}
}

func bidStatusExpr(s types.BidStatus, now time.Time) Expr {
	ended := Raw{SQL: "auction.end_time IS NOT NULL AND auction.end_time <= ?", Args: []any{now}}
	notEnded := Raw{SQL: "(auction.end_time IS NULL OR auction.end_time > ?)", Args: []any{now}}
	hasBid := Raw{SQL: colViewerMaxBid + " IS NOT NULL"}
	noBid := Raw{SQL: colViewerMaxBid + " IS NULL"}
	leading := Raw{SQL: colViewerMaxBid + " = " + colMaxBid}
	trailing := Raw{SQL: colViewerMaxBid + " < " + colMaxBid}

	switch s {
	case types.BidStatusNotBid:
		return And{noBid, notEnded}
	case types.BidStatusNotBidEnded:
		return And{noBid, ended}
	case types.BidStatusLeading:
		return And{hasBid, leading, notEnded}
	case types.BidStatusWon:
		return And{hasBid, leading, ended}
	case types.BidStatusOutbid:
		return And{hasBid, trailing, notEnded}
	case types.BidStatusLost:
		return And{hasBid, trailing, ended}
	default:
		return nil
	}
}

func contains(s string) string {
	return "%" + s + "%"
}

// ParseFilters reads the supported filter keys from a query string. Malformed
// scalar values are dropped rather than rejected, per the defaulting error
// policy.
func ParseFilters(values url.Values) Filters {
	var f Filters

	f.AuctioneerID = optString(values, "auctioneerId")
	f.SavedBy = optString(values, "savedBy")
	f.Name = optString(values, "name")

	f.MinNewBidPriceMin = optDecimal(values, "minMinNewBidPrice")
	f.MinNewBidPriceMax = optDecimal(values, "maxMinNewBidPrice")

	f.StartTimeAfter = optTime(values, "minStartTime")
	f.StartTimeBefore = optTime(values, "maxStartTime")
	f.EndTimeAfter = optTime(values, "minEndTime")
	f.EndTimeBefore = optTime(values, "maxEndTime")

	for _, v := range values["auctionStatus"] {
		switch s := types.AuctionStatus(v); s {
		case types.AuctionNotScheduled, types.AuctionScheduled, types.AuctionOngoing, types.AuctionEnded:
			f.AuctionStatuses = append(f.AuctionStatuses, s)
		}
	}
	for _, v := range values["bidStatus"] {
		switch s := types.BidStatus(v); s {
		case types.BidStatusNotBid, types.BidStatusNotBidEnded, types.BidStatusLeading,
			types.BidStatusWon, types.BidStatusOutbid, types.BidStatusLost:
			f.BidStatuses = append(f.BidStatuses, s)
		}
	}

	f.CardGames = values["cardGame"]
	f.CardName = optString(values, "cardName")
	f.CardManufacturers = values["cardManufacturer"]
	f.CardQualities = values["cardQualityUngraded"]
	f.CardQualityPSAMin = optPSA(values, "minCardQualityPsa")
	f.CardQualityPSAMax = optPSA(values, "maxCardQualityPsa")
	f.CardRarities = values["cardRarity"]
	f.CardSets = values["cardSet"]
	f.CardIsFoil = optBool(values, "cardIsFoil")

	f.BundleGames = values["bundleGame"]
	f.BundleName = optString(values, "bundleName")
	f.BundleManufacturers = values["bundleManufacturer"]
	f.BundleSets = values["bundleSet"]

	f.IsBundle = optBool(values, "isBundle")

	return f
}

func optString(values url.Values, key string) *string {
	if v := values.Get(key); v != "" {
		return &v
	}
	return nil
}

func optDecimal(values url.Values, key string) *decimal.Decimal {
	v := values.Get(key)
	if v == "" {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil
	}
	return &d
}

func optTime(values url.Values, key string) *time.Time {
	v := values.Get(key)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}

func optBool(values url.Values, key string) *bool {
	v := values.Get(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}

// optPSA parses a graded-quality bound, clamped to the 0-10 scale.
func optPSA(values url.Values, key string) *int {
	v := values.Get(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	if n < 0 {
		n = 0
	}
	if n > 10 {
		n = 10
	}
	return &n
}
