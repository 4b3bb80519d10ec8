package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/bidhaus/auction-server/internal/query"
	"github.com/bidhaus/auction-server/pkg/errors"
	"github.com/bidhaus/auction-server/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres spins up a throwaway container, applies the schema and hands
// back the service plus a raw connection for seeding.
func startPostgres(t *testing.T) (Service, *sql.DB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("auctions"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	svc, err := NewFromDSN(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	require.NoError(t, Migrate(ctx, svc))

	raw, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	return svc, raw
}

type seed struct {
	seller, alice, bob string
	lotus, bundle      string
}

func seedAuctions(t *testing.T, db *sql.DB) seed {
	t.Helper()
	ctx := context.Background()

	s := seed{
		seller: uuid.NewString(),
		alice:  uuid.NewString(),
		bob:    uuid.NewString(),
		lotus:  uuid.NewString(),
		bundle: uuid.NewString(),
	}

	for id, name := range map[string]string{s.seller: "seller", s.alice: "alice", s.bob: "bob"} {
		_, err := db.ExecContext(ctx,
			`INSERT INTO account (account_id, email, username) VALUES ($1, $2, $3)`,
			id, name+"@example.com", name)
		require.NoError(t, err)
	}

	start := time.Now().Add(-time.Hour)
	end := time.Now().Add(time.Hour)
	for id, name := range map[string]string{s.lotus: "Black Lotus", s.bundle: "Alpha lot"} {
		_, err := db.ExecContext(ctx, `
            INSERT INTO auction (auction_id, auctioneer_id, name, start_price, spread, start_time, end_time)
            VALUES ($1, $2, $3, 10.00, 1.00, $4, $5)`,
			id, s.seller, name, start, end)
		require.NoError(t, err)
	}

	_, err := db.ExecContext(ctx, `
        INSERT INTO card (auction_id, game, name, manufacturer, quality_ungraded, rarity, set, is_foil)
        VALUES ($1, 'MTG', 'Black Lotus', 'WotC', 'Near Mint', 'Rare', 'Alpha', FALSE)`, s.lotus)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `
        INSERT INTO bundle (auction_id, game, name, manufacturer, set)
        VALUES ($1, 'MTG', 'Alpha lot', 'WotC', 'Alpha')`, s.bundle)
	require.NoError(t, err)

	// Two bids on the lotus: alice 11, bob 14.
	for _, b := range []struct {
		bidder string
		amount string
	}{{s.alice, "11.00"}, {s.bob, "14.00"}} {
		_, err := db.ExecContext(ctx,
			`INSERT INTO bid (auction_id, bidder_id, amount) VALUES ($1, $2, $3)`,
			s.lotus, b.bidder, b.amount)
		require.NoError(t, err)
	}

	return s
}

func compiled(t *testing.T, f query.Filters, viewer *string) SearchQuery {
	t.Helper()
	where, args := query.Compile(f.ToExpr(time.Now()), 2)
	return SearchQuery{
		ViewerID: viewer,
		Where:    where,
		Args:     args,
		OrderBy:  query.Sort{}.OrderBy(),
		Limit:    50,
	}
}

func TestSearchAuctionsAggregates(t *testing.T) {
	svc, raw := startPostgres(t)
	s := seedAuctions(t, raw)
	ctx := context.Background()

	rows, err := svc.SearchAuctions(ctx, compiled(t, query.Filters{}, nil))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byID := map[string]AuctionRow{}
	for _, r := range rows {
		byID[r.AuctionID] = r
	}

	lotus := byID[s.lotus]
	assert.Equal(t, 2, lotus.NumBids)
	require.True(t, lotus.MaxAmount.Valid)
	assert.True(t, lotus.MaxAmount.Decimal.Equal(decimal.RequireFromString("14.00")))
	require.NotNil(t, lotus.TopBidderID)
	assert.Equal(t, s.bob, *lotus.TopBidderID)
	assert.False(t, lotus.IsBundle)
	assert.False(t, lotus.ViewerMax.Valid)

	bundle := byID[s.bundle]
	assert.True(t, bundle.IsBundle)
	assert.Equal(t, 0, bundle.NumBids)
	assert.False(t, bundle.MaxAmount.Valid)
}

func TestSearchAuctionsBindsViewer(t *testing.T) {
	svc, raw := startPostgres(t)
	s := seedAuctions(t, raw)
	ctx := context.Background()

	row, err := svc.GetAuctionRow(ctx, s.lotus, &s.alice)
	require.NoError(t, err)
	require.True(t, row.ViewerMax.Valid)
	assert.True(t, row.ViewerMax.Decimal.Equal(decimal.RequireFromString("11.00")))

	// Leading filter matches bob, not alice.
	rows, err := svc.SearchAuctions(ctx, compiled(t,
		query.Filters{BidStatuses: []types.BidStatus{types.BidStatusLeading}}, &s.bob))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, s.lotus, rows[0].AuctionID)

	rows, err = svc.SearchAuctions(ctx, compiled(t,
		query.Filters{BidStatuses: []types.BidStatus{types.BidStatusLeading}}, &s.alice))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCardFilterStillMatchesBundles(t *testing.T) {
	svc, raw := startPostgres(t)
	s := seedAuctions(t, raw)
	ctx := context.Background()

	rows, err := svc.SearchAuctions(ctx, compiled(t, query.Filters{CardGames: []string{"MTG"}}, nil))
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, r := range rows {
		ids[r.AuctionID] = true
	}
	assert.True(t, ids[s.lotus])
	assert.True(t, ids[s.bundle], "bundle auctions must survive card attribute filters")
}

func TestCountAuctionsHonoursCeiling(t *testing.T) {
	svc, raw := startPostgres(t)
	seedAuctions(t, raw)
	ctx := context.Background()

	q := compiled(t, query.Filters{}, nil)

	total, err := svc.CountAuctions(ctx, q, 1000)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	capped, err := svc.CountAuctions(ctx, q, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, capped)
}

func TestGetAuctionRowNotFound(t *testing.T) {
	svc, raw := startPostgres(t)
	seedAuctions(t, raw)
	ctx := context.Background()

	_, err := svc.GetAuctionRow(ctx, uuid.NewString(), nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrNotFound, errors.StatusCode(err))

	// Garbage ids are a not-found, never a database error.
	_, err = svc.GetAuctionRow(ctx, "not-a-uuid", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrNotFound, errors.StatusCode(err))
}

func TestBidTransactionRoundTrip(t *testing.T) {
	svc, raw := startPostgres(t)
	s := seedAuctions(t, raw)
	ctx := context.Background()

	tx, err := svc.BeginTx(ctx)
	require.NoError(t, err)

	lock, err := svc.GetAuctionForBidTx(ctx, tx, s.lotus)
	require.NoError(t, err)
	assert.Equal(t, s.seller, lock.AuctioneerID)
	require.NotNil(t, lock.TopBid)
	assert.Equal(t, s.bob, lock.TopBid.BidderID)

	bid, err := svc.InsertBidTx(ctx, tx, s.lotus, s.alice, decimal.RequireFromString("15.00"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.NotEmpty(t, bid.BidID)
	assert.False(t, bid.Timestamp.IsZero())

	maxes, err := svc.GetBidderMaxAmounts(ctx, s.lotus)
	require.NoError(t, err)
	require.Len(t, maxes, 2)
	assert.True(t, maxes[s.alice].Equal(decimal.RequireFromString("15.00")))
	assert.True(t, maxes[s.bob].Equal(decimal.RequireFromString("14.00")))
}
