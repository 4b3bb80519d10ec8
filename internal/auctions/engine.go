// Package auctions implements the read model for auction listings: filters,
// sorting and pagination compiled by the query package, joined bid aggregates
// from the store, and per-viewer derived statuses.
package auctions

import (
	"context"
	"time"

	"github.com/bidhaus/auction-server/internal/bidding"
	"github.com/bidhaus/auction-server/internal/database"
	"github.com/bidhaus/auction-server/internal/query"
	"github.com/bidhaus/auction-server/pkg/errors"
	"github.com/bidhaus/auction-server/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
)

// Options bound the listing queries.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	CountCeiling    int
}

type Engine struct {
	db   database.Service
	opts Options
	now  func() time.Time
}

func New(db database.Service, opts Options) *Engine {
	return &Engine{db: db, opts: opts, now: time.Now}
}

// ListRequest is a fully parsed listing query. Viewer is the account the
// caller asked bid statuses for; it must match the caller identity.
type ListRequest struct {
	Filters query.Filters
	Sort    query.Sort
	Page    query.Page
	Viewer  *string
}

// List runs the paged search and its capped count under one predicate.
func (e *Engine) List(ctx context.Context, req ListRequest, callerID *string) (types.AuctionPage, error) {
	if err := authorizeViewer(req.Viewer, callerID); err != nil {
		return types.AuctionPage{}, err
	}
	if req.Filters.SavedBy != nil {
		if callerID == nil || *req.Filters.SavedBy != *callerID {
			return types.AuctionPage{}, errors.Unauthorized("savedBy must match the authenticated account")
		}
	}
	if req.Filters.NeedsViewer() && req.Viewer == nil {
		// A bid-status filter without a viewer has no meaning; drop it rather
		// than fail, per the defaulting policy.
		log.Debug("dropping bid status filter without includeBidStatusFor")
		req.Filters.BidStatuses = nil
	}

	page := clampPage(req.Page, e.opts)
	now := e.now()

	where, args := query.Compile(req.Filters.ToExpr(now), 2)
	q := database.SearchQuery{
		ViewerID: req.Viewer,
		Where:    where,
		Args:     args,
		OrderBy:  req.Sort.OrderBy(),
		Limit:    page.Size,
		Offset:   page.Offset(),
	}

	rows, err := e.db.SearchAuctions(ctx, q)
	if err != nil {
		return types.AuctionPage{}, err
	}
	total, err := e.db.CountAuctions(ctx, q, e.opts.CountCeiling)
	if err != nil {
		return types.AuctionPage{}, err
	}

	auctions, err := e.assemble(ctx, rows, req.Viewer != nil, now)
	if err != nil {
		return types.AuctionPage{}, err
	}

	return types.AuctionPage{Auctions: auctions, TotalNumAuctions: total}, nil
}

// Get fetches a single auction with its sub-type payload and, when a viewer
// is given, the viewer's bid status.
func (e *Engine) Get(ctx context.Context, auctionID string, viewer, callerID *string) (types.Auction, error) {
	if err := authorizeViewer(viewer, callerID); err != nil {
		return types.Auction{}, err
	}

	row, err := e.db.GetAuctionRow(ctx, auctionID, viewer)
	if err != nil {
		return types.Auction{}, err
	}

	auctions, err := e.assemble(ctx, []database.AuctionRow{row}, viewer != nil, e.now())
	if err != nil {
		return types.Auction{}, err
	}
	return auctions[0], nil
}

func authorizeViewer(viewer, callerID *string) error {
	if viewer == nil {
		return nil
	}
	if callerID == nil || *viewer != *callerID {
		return errors.Unauthorized("includeBidStatusFor must match the authenticated account")
	}
	return nil
}

func clampPage(p query.Page, opts Options) query.Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = opts.DefaultPageSize
	}
	if p.Size > opts.MaxPageSize {
		p.Size = opts.MaxPageSize
	}
	return p
}

// assemble turns joined rows into API auctions: sub-type payloads loaded in
// one batch per side, derived statuses and the minimum viable new bid.
func (e *Engine) assemble(ctx context.Context, rows []database.AuctionRow, withBidStatus bool, now time.Time) ([]types.Auction, error) {
	var cardIDs, bundleIDs []string
	for _, row := range rows {
		if row.IsBundle {
			bundleIDs = append(bundleIDs, row.AuctionID)
		} else {
			cardIDs = append(cardIDs, row.AuctionID)
		}
	}

	cards, err := e.db.GetCardsByAuctionIDs(ctx, cardIDs)
	if err != nil {
		return nil, err
	}
	bundles, err := e.db.GetBundlesByAuctionIDs(ctx, bundleIDs)
	if err != nil {
		return nil, err
	}

	auctions := make([]types.Auction, 0, len(rows))
	for _, row := range rows {
		a, err := e.project(row, withBidStatus, now)
		if err != nil {
			return nil, err
		}
		if row.IsBundle {
			b, ok := bundles[row.AuctionID]
			if !ok {
				return nil, errors.Conflict("error fetching auction",
					errors.New(errors.ErrConflict, "bundle row missing for bundle auction "+row.AuctionID))
			}
			a.Bundle = &b
		} else {
			a.Cards = cards[row.AuctionID]
		}
		auctions = append(auctions, a)
	}
	return auctions, nil
}

func (e *Engine) project(row database.AuctionRow, withBidStatus bool, now time.Time) (types.Auction, error) {
	a := types.Auction{
		AuctionID:     row.AuctionID,
		AuctioneerID:  row.AuctioneerID,
		Name:          row.Name,
		Description:   row.Description,
		StartPrice:    row.StartPrice,
		Spread:        row.Spread,
		StartTime:     row.StartTime,
		EndTime:       row.EndTime,
		NumBids:       row.NumBids,
		AuctionStatus: bidding.StatusAt(row.StartTime, row.EndTime, now),
	}

	var topAmount *decimal.Decimal
	if row.TopBidID != nil {
		top := types.Bid{
			BidID:     *row.TopBidID,
			AuctionID: row.AuctionID,
			BidderID:  *row.TopBidderID,
			Amount:    row.TopAmount.Decimal,
		}
		if row.TopBidTime != nil {
			top.Timestamp = *row.TopBidTime
		}
		a.TopBid = &top
		topAmount = &top.Amount
	}

	a.MinNewBidPrice = bidding.MinNewBid(topAmount, row.StartPrice, row.Spread)

	if withBidStatus {
		var viewerMax, auctionMax *decimal.Decimal
		if row.ViewerMax.Valid {
			viewerMax = &row.ViewerMax.Decimal
		}
		if row.MaxAmount.Valid {
			auctionMax = &row.MaxAmount.Decimal
		}
		status, err := bidding.Resolve(viewerMax, auctionMax, a.AuctionStatus == types.AuctionEnded)
		if err != nil {
			// Integrity fault: log the detail, surface the generic message.
			log.Error("bid status integrity fault", "auctionId", row.AuctionID, "error", err)
			return types.Auction{}, err
		}
		a.BidStatus = &status
	}

	return a, nil
}
