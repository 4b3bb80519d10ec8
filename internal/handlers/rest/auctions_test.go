package rest

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bidhaus/auction-server/internal/auctions"
	"github.com/bidhaus/auction-server/internal/database"
	"github.com/bidhaus/auction-server/internal/longpoll"
	"github.com/bidhaus/auction-server/pkg/errors"
	"github.com/bidhaus/auction-server/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore holds one mutable auction row behind a mutex so tests can commit a
// "bid" while a long poll is held.
type memStore struct {
	mu  sync.Mutex
	row database.AuctionRow
}

func (s *memStore) setTopBid(bidID, bidderID, amount string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := decimal.RequireFromString(amount)
	s.row.TopBidID = &bidID
	s.row.TopBidderID = &bidderID
	s.row.TopAmount = decimal.NullDecimal{Decimal: a, Valid: true}
	s.row.MaxAmount = decimal.NullDecimal{Decimal: a, Valid: true}
	s.row.NumBids++
}

func (s *memStore) Health() map[string]string { return map[string]string{"status": "up"} }
func (s *memStore) Close() error              { return nil }

func (s *memStore) GetAccountByEmail(ctx context.Context, email string) (types.Account, error) {
	return types.Account{}, errors.NotFound("account not found")
}

func (s *memStore) SearchAuctions(ctx context.Context, q database.SearchQuery) ([]database.AuctionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []database.AuctionRow{s.row}, nil
}

func (s *memStore) CountAuctions(ctx context.Context, q database.SearchQuery, ceiling int) (int, error) {
	return 1, nil
}

func (s *memStore) GetAuctionRow(ctx context.Context, auctionID string, viewerID *string) (database.AuctionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if auctionID != s.row.AuctionID {
		return database.AuctionRow{}, errors.NotFound("auction not found")
	}
	return s.row, nil
}

func (s *memStore) GetCardsByAuctionIDs(ctx context.Context, auctionIDs []string) (map[string][]types.Card, error) {
	out := make(map[string][]types.Card)
	for _, id := range auctionIDs {
		out[id] = []types.Card{{CardID: "c1", AuctionID: id}}
	}
	return out, nil
}

func (s *memStore) GetBundlesByAuctionIDs(ctx context.Context, auctionIDs []string) (map[string]types.Bundle, error) {
	return map[string]types.Bundle{}, nil
}

func (s *memStore) GetBidderMaxAmounts(ctx context.Context, auctionID string) (map[string]decimal.Decimal, error) {
	return nil, nil
}

func (s *memStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return nil, errors.New(errors.ErrInternalServer, "not supported")
}

func (s *memStore) GetAuctionForBidTx(ctx context.Context, tx *sql.Tx, auctionID string) (database.BidLock, error) {
	return database.BidLock{}, errors.New(errors.ErrInternalServer, "not supported")
}

func (s *memStore) InsertBidTx(ctx context.Context, tx *sql.Tx, auctionID, bidderID string, amount decimal.Decimal) (types.Bid, error) {
	return types.Bid{}, errors.New(errors.ErrInternalServer, "not supported")
}

var _ database.Service = (*memStore)(nil)

func newTestServer(t *testing.T) (*httptest.Server, *memStore, *longpoll.Registry) {
	t.Helper()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	store := &memStore{row: database.AuctionRow{
		AuctionID:    "a1",
		AuctioneerID: "seller",
		Name:         "Black Lotus",
		StartPrice:   decimal.RequireFromString("10.00"),
		Spread:       decimal.RequireFromString("1.00"),
		StartTime:    &past,
		EndTime:      &future,
	}}

	engine := auctions.New(store, auctions.Options{DefaultPageSize: 20, MaxPageSize: 100, CountCeiling: 1000})
	registry := longpoll.New(5 * time.Second)

	mux := http.NewServeMux()
	NewHandler(engine, registry, nil, store, 20, 100).Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store, registry
}

func getAuction(t *testing.T, url string) (types.Auction, int) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var a types.Auction
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&a))
	}
	return a, resp.StatusCode
}

func TestListAuctions(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/auctions?minMinNewBidPrice=5.00")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page types.AuctionPage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	require.Len(t, page.Auctions, 1)
	assert.Equal(t, 1, page.TotalNumAuctions)
	assert.Equal(t, "Black Lotus", page.Auctions[0].Name)
	assert.True(t, page.Auctions[0].MinNewBidPrice.Equal(decimal.RequireFromString("11.00")))
}

func TestListAuctionsRejectsForeignViewer(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/auctions?includeBidStatusFor=somebody")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGetAuctionImmediate(t *testing.T) {
	srv, _, _ := newTestServer(t)

	a, status := getAuction(t, srv.URL+"/auctions/a1")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "a1", a.AuctionID)
	assert.Nil(t, a.TopBid)
	assert.Equal(t, "null", a.TopBidIdentity())

	_, status = getAuction(t, srv.URL+"/auctions/missing")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestGetAuctionStaleCursorAnswersNow(t *testing.T) {
	srv, store, _ := newTestServer(t)
	store.setTopBid("b1", "victor", "11.00")

	// The caller last saw no bids; the state has moved on, so no hold.
	start := time.Now()
	a, status := getAuction(t, srv.URL+"/auctions/a1?longPollMaxBidId=null")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, a.TopBid)
	assert.Equal(t, "b1", a.TopBid.BidID)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGetAuctionLongPollReleasedByBid(t *testing.T) {
	srv, store, registry := newTestServer(t)

	type result struct {
		auction types.Auction
		status  int
	}
	done := make(chan result, 1)
	go func() {
		a, status := getAuction(t, srv.URL+"/auctions/a1?longPollMaxBidId=null")
		done <- result{a, status}
	}()

	// Wait for the poll to actually park before committing the bid.
	require.Eventually(t, func() bool { return registry.PendingFor("a1") == 1 },
		2*time.Second, 10*time.Millisecond)

	store.setTopBid("b1", "victor", "11.00")
	registry.NotifyChanged("a1")

	select {
	case r := <-done:
		require.Equal(t, http.StatusOK, r.status)
		require.NotNil(t, r.auction.TopBid)
		assert.Equal(t, "b1", r.auction.TopBid.BidID)
		assert.True(t, r.auction.MinNewBidPrice.Equal(decimal.RequireFromString("12.00")))
	case <-time.After(3 * time.Second):
		t.Fatal("long poll never completed")
	}
}

func TestPlaceBidRequiresAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/auctions/a1/bids", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "up", body["status"])
}
