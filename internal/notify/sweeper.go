package notify

import (
	"context"
	"sync"
	"time"

	"github.com/bidhaus/auction-server/internal/database"
	"github.com/bidhaus/auction-server/internal/query"
	"github.com/charmbracelet/log"
)

// Sweeper is the time-driven side of notifications: ending-soon warnings
// while an auction is still live, and won/lost/owning-ended once it closes.
type Sweeper struct {
	db         database.Service
	dispatcher *Dispatcher
	interval   time.Duration
	endingSoon time.Duration

	mu     sync.Mutex
	warned map[string]struct{} // auctions already sent an ending-soon warning
	last   time.Time
}

func NewSweeper(db database.Service, dispatcher *Dispatcher, interval, endingSoon time.Duration) *Sweeper {
	return &Sweeper{
		db:         db,
		dispatcher: dispatcher,
		interval:   interval,
		endingSoon: endingSoon,
		warned:     make(map[string]struct{}),
		last:       time.Now(),
	}
}

// Start runs the sweep loop until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Sweep processes one tick: auctions ending inside the warning window and
// auctions that ended since the previous tick.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	since := s.last
	s.last = now
	s.mu.Unlock()

	soonEnd := now.Add(s.endingSoon)
	s.sweepRange(ctx, now, soonEnd, s.warnEndingSoon)
	s.sweepRange(ctx, since, now, s.announceEnded)
}

// sweepRange fetches auctions whose end time falls in (from, to] using the
// same predicate compiler as the listing path.
func (s *Sweeper) sweepRange(ctx context.Context, from, to time.Time, handle func(ctx context.Context, row database.AuctionRow)) {
	f := query.Filters{EndTimeAfter: &from, EndTimeBefore: &to}
	where, args := query.Compile(f.ToExpr(to), 2)

	rows, err := s.db.SearchAuctions(ctx, database.SearchQuery{
		Where:   where,
		Args:    args,
		OrderBy: query.Sort{}.OrderBy(),
		Limit:   500,
	})
	if err != nil {
		log.Error("sweep query failed", "error", err)
		return
	}
	for _, row := range rows {
		handle(ctx, row)
	}
}

func (s *Sweeper) warnEndingSoon(ctx context.Context, row database.AuctionRow) {
	s.mu.Lock()
	_, seen := s.warned[row.AuctionID]
	if !seen {
		s.warned[row.AuctionID] = struct{}{}
	}
	s.mu.Unlock()
	if seen {
		return
	}

	bidders, err := s.db.GetBidderMaxAmounts(ctx, row.AuctionID)
	if err != nil {
		log.Error("error fetching bidders for ending-soon sweep", "auctionId", row.AuctionID, "error", err)
		return
	}
	for bidder := range bidders {
		s.dispatcher.Emit(bidder, AuctionEndingSoon, row.AuctionID, row.Name)
	}
}

func (s *Sweeper) announceEnded(ctx context.Context, row database.AuctionRow) {
	bidders, err := s.db.GetBidderMaxAmounts(ctx, row.AuctionID)
	if err != nil {
		log.Error("error fetching bidders for end sweep", "auctionId", row.AuctionID, "error", err)
		return
	}

	// Amount equality decides won/lost: a bidder tied at the maximum wins
	// even when an earlier bid holds the display slot.
	for bidder, max := range bidders {
		if row.MaxAmount.Valid && max.Equal(row.MaxAmount.Decimal) {
			s.dispatcher.Emit(bidder, AuctionBidWon, row.AuctionID, row.Name)
		} else {
			s.dispatcher.Emit(bidder, AuctionBidLost, row.AuctionID, row.Name)
		}
	}
	s.dispatcher.Emit(row.AuctioneerID, AuctionOwningEnded, row.AuctionID, row.Name)

	s.mu.Lock()
	delete(s.warned, row.AuctionID)
	s.mu.Unlock()
}
