package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/bidhaus/auction-server/configs"
	"github.com/bidhaus/auction-server/pkg/errors"
	"github.com/bidhaus/auction-server/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/joho/godotenv/autoload"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

// AuctionRow is one joined row of the auction search: the auction record plus
// its aggregate bid statistics, the display top bid, and (when a viewer was
// bound) the viewer's own maximum bid.
type AuctionRow struct {
	AuctionID    string
	AuctioneerID string
	Name         string
	Description  *string
	StartPrice   decimal.Decimal
	Spread       decimal.Decimal
	StartTime    *time.Time
	EndTime      *time.Time

	MaxAmount decimal.NullDecimal
	NumBids   int

	TopBidID    *string
	TopBidderID *string
	TopAmount   decimal.NullDecimal
	TopBidTime  *time.Time

	ViewerMax decimal.NullDecimal

	IsBundle bool
}

// SearchQuery carries a compiled predicate into the store. Where must be
// produced by the query package with parameters starting at $2; $1 is always
// the viewer id (possibly nil).
type SearchQuery struct {
	ViewerID *string
	Where    string
	Args     []any
	OrderBy  string
	Limit    int
	Offset   int
}

// BidLock is the auction state read under FOR UPDATE before accepting a bid.
type BidLock struct {
	AuctionID    string
	AuctioneerID string
	Name         string
	StartPrice   decimal.Decimal
	Spread       decimal.Decimal
	StartTime    *time.Time
	EndTime      *time.Time
	TopBid       *types.Bid
}

// Service represents a service that interacts with a database.
type Service interface {
	// Health returns a map of health status information.
	// The keys and values in the map are service-specific.
	Health() map[string]string

	// Close terminates the database connection.
	// It returns an error if the connection cannot be closed.
	Close() error

	// ACCOUNT METHODS
	GetAccountByEmail(ctx context.Context, email string) (types.Account, error)

	// AUCTION SEARCH METHODS
	SearchAuctions(ctx context.Context, q SearchQuery) ([]AuctionRow, error)
	CountAuctions(ctx context.Context, q SearchQuery, ceiling int) (int, error)
	GetAuctionRow(ctx context.Context, auctionID string, viewerID *string) (AuctionRow, error)
	GetCardsByAuctionIDs(ctx context.Context, auctionIDs []string) (map[string][]types.Card, error)
	GetBundlesByAuctionIDs(ctx context.Context, auctionIDs []string) (map[string]types.Bundle, error)
	GetBidderMaxAmounts(ctx context.Context, auctionID string) (map[string]decimal.Decimal, error)

	// TRANSACTION METHODS
	BeginTx(ctx context.Context) (*sql.Tx, error)
	GetAuctionForBidTx(ctx context.Context, tx *sql.Tx, auctionID string) (BidLock, error)
	InsertBidTx(ctx context.Context, tx *sql.Tx, auctionID, bidderID string, amount decimal.Decimal) (types.Bid, error)
}

type service struct {
	db *sql.DB
}

func New(cfg *configs.Config) Service {
	dbConfig := cfg.Database
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbConfig.User,
		dbConfig.Password,
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.Name,
		dbConfig.SSLMode,
	)
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		log.Fatal("Error opening database: ", err)
	}

	return &service{db: db}
}

// NewFromDSN opens the service on an explicit connection string. Used by the
// integration tests to point at a throwaway container.
func NewFromDSN(dsn string) (Service, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "error opening database")
	}
	return &service{db: db}, nil
}

// Migrate applies the embedded schema. Idempotent.
func Migrate(ctx context.Context, svc Service) error {
	s, ok := svc.(*service)
	if !ok {
		return errors.New(errors.ErrInternalServer, "migrate requires the sql-backed service")
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "error applying schema")
	}
	return nil
}

// Health checks the health of the database connection by pinging the database.
// It returns a map with keys indicating various health statistics.
func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	// Ping the database
	err := s.db.PingContext(ctx)
	if err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		log.Errorf("db down: %v", err)
		return stats
	}

	// Database is up, add more statistics
	stats["status"] = "up"
	stats["message"] = "It's healthy"

	// Get database stats (like open connections, in use, idle, etc.)
	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()

	if dbStats.WaitCount > 1000 {
		stats["message"] = "The database has a high number of wait events, indicating potential bottlenecks."
	}

	return stats
}

// Close closes the database connection.
func (s *service) Close() error {
	log.Info("Disconnected from database")
	return s.db.Close()
}

func (s *service) GetAccountByEmail(ctx context.Context, email string) (types.Account, error) {
	var account types.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT account_id, email, username FROM account WHERE email = $1`, email).
		Scan(&account.AccountID, &account.Email, &account.Username)
	if err == sql.ErrNoRows {
		return types.Account{}, errors.NotFound("account not found")
	}
	if err != nil {
		return types.Account{}, errors.Upstream(err, "error getting account by email")
	}
	return account, nil
}

// searchBase joins each auction with its bid aggregates, the display top bid
// (max amount, earliest timestamp on ties) and the viewer's own maximum bid.
// $1 is reserved for the viewer id so compiled predicates can reference
// viewer_bid regardless of which filters are active.
const searchBase = `
SELECT auction.auction_id, auction.auctioneer_id, auction.name, auction.description,
       auction.start_price, auction.spread, auction.start_time, auction.end_time,
       bid_agg.max_amount, bid_agg.num_bids,
       top_bid.bid_id, top_bid.bidder_id, top_bid.amount, top_bid.bid_time,
       viewer_bid.max_amount,
       EXISTS (SELECT 1 FROM bundle WHERE bundle.auction_id = auction.auction_id) AS is_bundle
FROM auction
LEFT JOIN LATERAL (
    SELECT MAX(bid.amount) AS max_amount, COUNT(*)::int AS num_bids
    FROM bid WHERE bid.auction_id = auction.auction_id
) bid_agg ON TRUE
LEFT JOIN LATERAL (
    SELECT bid.bid_id, bid.bidder_id, bid.amount, bid.bid_time
    FROM bid WHERE bid.auction_id = auction.auction_id
    ORDER BY bid.amount DESC, bid.bid_time ASC
    LIMIT 1
) top_bid ON TRUE
LEFT JOIN LATERAL (
    SELECT MAX(bid.amount) AS max_amount
    FROM bid WHERE bid.auction_id = auction.auction_id AND bid.bidder_id = $1::uuid
) viewer_bid ON TRUE
`

func (s *service) SearchAuctions(ctx context.Context, q SearchQuery) ([]AuctionRow, error) {
	args := make([]any, 0, len(q.Args)+3)
	args = append(args, viewerArg(q.ViewerID))
	args = append(args, q.Args...)

	limitIdx := len(args) + 1
	args = append(args, q.Limit, q.Offset)

	sqlText := searchBase +
		"WHERE " + q.Where + "\n" +
		"ORDER BY " + q.OrderBy + "\n" +
		fmt.Sprintf("LIMIT $%d OFFSET $%d", limitIdx, limitIdx+1)

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, errors.Upstream(err, "error searching auctions")
	}
	defer rows.Close()

	var result []AuctionRow
	for rows.Next() {
		row, err := scanAuctionRow(rows)
		if err != nil {
			return nil, errors.Upstream(err, "error scanning auction row")
		}
		result = append(result, row)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Upstream(err, "error iterating over auctions")
	}
	return result, nil
}

// CountAuctions counts matches for the same predicate, capped at ceiling so a
// broad filter never walks the whole table.
func (s *service) CountAuctions(ctx context.Context, q SearchQuery, ceiling int) (int, error) {
	args := make([]any, 0, len(q.Args)+2)
	args = append(args, viewerArg(q.ViewerID))
	args = append(args, q.Args...)

	ceilIdx := len(args) + 1
	args = append(args, ceiling)

	sqlText := "SELECT COUNT(*) FROM (" + searchBase +
		"WHERE " + q.Where + "\n" +
		fmt.Sprintf("LIMIT $%d) capped", ceilIdx)

	var count int
	if err := s.db.QueryRowContext(ctx, sqlText, args...).Scan(&count); err != nil {
		return 0, errors.Upstream(err, "error counting auctions")
	}
	return count, nil
}

func (s *service) GetAuctionRow(ctx context.Context, auctionID string, viewerID *string) (AuctionRow, error) {
	if _, err := uuid.Parse(auctionID); err != nil {
		return AuctionRow{}, errors.NotFound("auction not found")
	}

	sqlText := searchBase + "WHERE auction.auction_id = $2"
	row, err := scanAuctionRow(s.db.QueryRowContext(ctx, sqlText, viewerArg(viewerID), auctionID))
	if err == sql.ErrNoRows {
		return AuctionRow{}, errors.NotFound("auction not found")
	}
	if err != nil {
		return AuctionRow{}, errors.Upstream(err, "error getting auction by id")
	}
	return row, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuctionRow(r rowScanner) (AuctionRow, error) {
	var row AuctionRow
	err := r.Scan(
		&row.AuctionID,
		&row.AuctioneerID,
		&row.Name,
		&row.Description,
		&row.StartPrice,
		&row.Spread,
		&row.StartTime,
		&row.EndTime,
		&row.MaxAmount,
		&row.NumBids,
		&row.TopBidID,
		&row.TopBidderID,
		&row.TopAmount,
		&row.TopBidTime,
		&row.ViewerMax,
		&row.IsBundle,
	)
	return row, err
}

func (s *service) GetCardsByAuctionIDs(ctx context.Context, auctionIDs []string) (map[string][]types.Card, error) {
	cards := make(map[string][]types.Card, len(auctionIDs))
	if len(auctionIDs) == 0 {
		return cards, nil
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT card_id, auction_id, game, name, description, manufacturer,
               quality_ungraded, quality_psa, rarity, set, is_foil
        FROM card
        WHERE auction_id = ANY($1::uuid[])
        ORDER BY auction_id, card_id`, auctionIDs)
	if err != nil {
		return nil, errors.Upstream(err, "error getting cards")
	}
	defer rows.Close()

	for rows.Next() {
		var c types.Card
		err := rows.Scan(&c.CardID, &c.AuctionID, &c.Game, &c.Name, &c.Description,
			&c.Manufacturer, &c.Quality, &c.QualityPSA, &c.Rarity, &c.Set, &c.IsFoil)
		if err != nil {
			return nil, errors.Upstream(err, "error scanning card")
		}
		cards[c.AuctionID] = append(cards[c.AuctionID], c)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Upstream(err, "error iterating over cards")
	}
	return cards, nil
}

func (s *service) GetBundlesByAuctionIDs(ctx context.Context, auctionIDs []string) (map[string]types.Bundle, error) {
	bundles := make(map[string]types.Bundle, len(auctionIDs))
	if len(auctionIDs) == 0 {
		return bundles, nil
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT bundle_id, auction_id, game, name, description, manufacturer, set
        FROM bundle
        WHERE auction_id = ANY($1::uuid[])`, auctionIDs)
	if err != nil {
		return nil, errors.Upstream(err, "error getting bundles")
	}
	defer rows.Close()

	for rows.Next() {
		var b types.Bundle
		err := rows.Scan(&b.BundleID, &b.AuctionID, &b.Game, &b.Name, &b.Description,
			&b.Manufacturer, &b.Set)
		if err != nil {
			return nil, errors.Upstream(err, "error scanning bundle")
		}
		bundles[b.AuctionID] = b
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Upstream(err, "error iterating over bundles")
	}
	return bundles, nil
}

// GetBidderMaxAmounts maps each distinct bidder of the auction to their
// highest bid amount.
func (s *service) GetBidderMaxAmounts(ctx context.Context, auctionID string) (map[string]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT bidder_id, MAX(amount) FROM bid WHERE auction_id = $1 GROUP BY bidder_id`, auctionID)
	if err != nil {
		return nil, errors.Upstream(err, "error getting bidders")
	}
	defer rows.Close()

	bidders := make(map[string]decimal.Decimal)
	for rows.Next() {
		var id string
		var max decimal.Decimal
		if err := rows.Scan(&id, &max); err != nil {
			return nil, errors.Upstream(err, "error scanning bidder")
		}
		bidders[id] = max
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Upstream(err, "error iterating over bidders")
	}
	return bidders, nil
}

// BeginTx starts a new database transaction.
func (s *service) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, errors.Upstream(err, "error starting transaction")
	}
	return tx, nil
}

// GetAuctionForBidTx locks the auction row and reads the state a new bid is
// validated against: schedule, price floor and current top bid.
func (s *service) GetAuctionForBidTx(ctx context.Context, tx *sql.Tx, auctionID string) (BidLock, error) {
	if _, err := uuid.Parse(auctionID); err != nil {
		return BidLock{}, errors.NotFound("auction not found")
	}

	var lock BidLock
	err := tx.QueryRowContext(ctx, `
        SELECT auction_id, auctioneer_id, name, start_price, spread, start_time, end_time
        FROM auction
        WHERE auction_id = $1
        FOR UPDATE`, auctionID).Scan(
		&lock.AuctionID,
		&lock.AuctioneerID,
		&lock.Name,
		&lock.StartPrice,
		&lock.Spread,
		&lock.StartTime,
		&lock.EndTime,
	)
	if err == sql.ErrNoRows {
		return BidLock{}, errors.NotFound("auction not found")
	}
	if err != nil {
		return BidLock{}, errors.Upstream(err, "error getting auction for bid")
	}

	var top types.Bid
	err = tx.QueryRowContext(ctx, `
        SELECT bid_id, auction_id, bidder_id, amount, bid_time
        FROM bid
        WHERE auction_id = $1
        ORDER BY amount DESC, bid_time ASC
        LIMIT 1`, auctionID).Scan(&top.BidID, &top.AuctionID, &top.BidderID, &top.Amount, &top.Timestamp)
	if err == nil {
		lock.TopBid = &top
	} else if err != sql.ErrNoRows {
		return BidLock{}, errors.Upstream(err, "error getting top bid")
	}

	return lock, nil
}

// InsertBidTx appends a bid row within a transaction.
func (s *service) InsertBidTx(ctx context.Context, tx *sql.Tx, auctionID, bidderID string, amount decimal.Decimal) (types.Bid, error) {
	var bid types.Bid
	err := tx.QueryRowContext(ctx, `
        INSERT INTO bid (auction_id, bidder_id, amount)
        VALUES ($1, $2, $3)
        RETURNING bid_id, auction_id, bidder_id, amount, bid_time`,
		auctionID, bidderID, amount).Scan(
		&bid.BidID, &bid.AuctionID, &bid.BidderID, &bid.Amount, &bid.Timestamp)
	if err != nil {
		return types.Bid{}, errors.Upstream(err, "error creating bid")
	}
	return bid, nil
}

func viewerArg(viewerID *string) any {
	if viewerID == nil {
		return nil
	}
	return *viewerID
}
