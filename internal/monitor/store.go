package monitor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store persists market snapshots, price ticks and loan health rows to
// Postgres. Schema bootstrap is idempotent so the monitor can start
// against an empty database.
type Store struct {
	db *sql.DB
}

func NewStore(dbDSN string) (*Store, error) {
	db, err := sql.Open("pgx", dbDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &Store{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS market_snapshots (
			id BIGSERIAL PRIMARY KEY,
			market TEXT NOT NULL,
			symbol TEXT NOT NULL,
			total_deposits NUMERIC NOT NULL,
			total_borrows NUMERIC NOT NULL,
			total_reserves NUMERIC NOT NULL,
			utilization DOUBLE PRECISION NOT NULL,
			borrow_apr DOUBLE PRECISION NOT NULL,
			supply_apr DOUBLE PRECISION NOT NULL,
			available_liquidity DOUBLE PRECISION NOT NULL,
			paused BOOLEAN NOT NULL,
			observed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_market_snapshots_market_time
			ON market_snapshots (market, observed_at DESC)`,
		`CREATE TABLE IF NOT EXISTS price_ticks (
			id BIGSERIAL PRIMARY KEY,
			feed_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			conf DOUBLE PRECISION NOT NULL,
			expo INTEGER NOT NULL,
			publish_time BIGINT NOT NULL,
			received_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_ticks_feed_time
			ON price_ticks (feed_id, publish_time DESC)`,
		`CREATE TABLE IF NOT EXISTS loan_health (
			id BIGSERIAL PRIMARY KEY,
			loan_address TEXT NOT NULL,
			borrower TEXT NOT NULL,
			collateral_market TEXT NOT NULL,
			borrow_market TEXT NOT NULL,
			collateral_value DOUBLE PRECISION NOT NULL,
			borrow_value DOUBLE PRECISION NOT NULL,
			health_factor DOUBLE PRECISION NOT NULL,
			observed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_loan_health_loan_time
			ON loan_health (loan_address, observed_at DESC)`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

type MarketSnapshotInput struct {
	Market             string
	Symbol             string
	TotalDeposits      uint64
	TotalBorrows       uint64
	TotalReserves      uint64
	Utilization        float64
	BorrowAPR          float64
	SupplyAPR          float64
	AvailableLiquidity float64
	Paused             bool
}

func (s *Store) InsertMarketSnapshot(ctx context.Context, in MarketSnapshotInput) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO market_snapshots
			(market, symbol, total_deposits, total_borrows, total_reserves,
			 utilization, borrow_apr, supply_apr, available_liquidity, paused)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		in.Market, in.Symbol, in.TotalDeposits, in.TotalBorrows, in.TotalReserves,
		in.Utilization, in.BorrowAPR, in.SupplyAPR, in.AvailableLiquidity, in.Paused,
	)
	if err != nil {
		return fmt.Errorf("insert market snapshot: %w", err)
	}
	return nil
}

type PriceTickInput struct {
	FeedID      string
	Symbol      string
	Price       float64
	Conf        float64
	Expo        int32
	PublishTime int64
	ReceivedAt  int64
}

func (s *Store) InsertPriceTick(ctx context.Context, in PriceTickInput) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_ticks
			(feed_id, symbol, price, conf, expo, publish_time, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		in.FeedID, in.Symbol, in.Price, in.Conf, in.Expo, in.PublishTime, in.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert price tick: %w", err)
	}
	return nil
}

type LoanHealthInput struct {
	LoanAddress      string
	Borrower         string
	CollateralMarket string
	BorrowMarket     string
	CollateralValue  float64
	BorrowValue      float64
	HealthFactor     float64
}

func (s *Store) InsertLoanHealth(ctx context.Context, in LoanHealthInput) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO loan_health
			(loan_address, borrower, collateral_market, borrow_market,
			 collateral_value, borrow_value, health_factor)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		in.LoanAddress, in.Borrower, in.CollateralMarket, in.BorrowMarket,
		in.CollateralValue, in.BorrowValue, in.HealthFactor,
	)
	if err != nil {
		return fmt.Errorf("insert loan health: %w", err)
	}
	return nil
}

// LatestHealthFactor reads back the most recent health row for a loan;
// used by operators inspecting a position mid-incident.
func (s *Store) LatestHealthFactor(ctx context.Context, loanAddress string) (float64, error) {
	var health float64
	err := s.db.QueryRowContext(ctx,
		`SELECT health_factor FROM loan_health
		 WHERE loan_address = $1 ORDER BY observed_at DESC LIMIT 1`,
		loanAddress,
	).Scan(&health)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("no health rows for %s", loanAddress)
	}
	if err != nil {
		return 0, fmt.Errorf("query loan health: %w", err)
	}
	return health, nil
}
