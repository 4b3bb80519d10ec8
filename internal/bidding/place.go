package bidding

import (
	"context"
	"time"

	"github.com/bidhaus/auction-server/internal/database"
	"github.com/bidhaus/auction-server/internal/notify"
	"github.com/bidhaus/auction-server/pkg/errors"
	"github.com/bidhaus/auction-server/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
)

// Placer accepts bids. It is the collaborator that feeds the notification
// dispatcher: the dispatcher only runs once the bid row is committed, so a
// released long poll always sees the triggering bid.
type Placer struct {
	db         database.Service
	dispatcher *notify.Dispatcher
	now        func() time.Time
}

func NewPlacer(db database.Service, dispatcher *notify.Dispatcher) *Placer {
	return &Placer{db: db, dispatcher: dispatcher, now: time.Now}
}

// Place validates and appends one bid under a serializable transaction, then
// dispatches notifications for it.
func (p *Placer) Place(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (types.Bid, error) {
	tx, err := p.db.BeginTx(ctx)
	if err != nil {
		return types.Bid{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	lock, err := p.db.GetAuctionForBidTx(ctx, tx, auctionID)
	if err != nil {
		return types.Bid{}, err
	}

	if StatusAt(lock.StartTime, lock.EndTime, p.now()) != types.AuctionOngoing {
		err = errors.InvalidInput("auction is not open for bidding")
		return types.Bid{}, err
	}
	if lock.AuctioneerID == bidderID {
		err = errors.InvalidInput("cannot bid on your own auction")
		return types.Bid{}, err
	}

	var topAmount *decimal.Decimal
	if lock.TopBid != nil {
		topAmount = &lock.TopBid.Amount
	}
	if min := MinNewBid(topAmount, lock.StartPrice, lock.Spread); amount.LessThan(min) {
		err = errors.InvalidInput("bid amount must be at least " + min.StringFixed(2))
		return types.Bid{}, err
	}

	bid, err := p.db.InsertBidTx(ctx, tx, auctionID, bidderID, amount)
	if err != nil {
		return types.Bid{}, err
	}

	if err = tx.Commit(); err != nil {
		err = errors.Upstream(err, "error committing bid")
		return types.Bid{}, err
	}

	log.Info("bid accepted", "auctionId", auctionID, "bidderId", bidderID, "amount", amount.StringFixed(2))

	// Only after the commit: push notifications and long-poll release.
	p.dispatcher.BidPlaced(lock.AuctionID, lock.Name, lock.AuctioneerID, lock.TopBid, bid)

	return bid, nil
}
