package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/quarrylabs/lend/backend/internal/config"
	"github.com/quarrylabs/lend/backend/internal/lend"
)

// Service polls the lending program, snapshots per-market rates and
// flags loans drifting toward liquidation. It only reads the chain.
type Service struct {
	cfg          config.MonitorConfig
	client       *lend.Client
	store        *Store
	prices       *priceFeed
	logger       *slog.Logger
	symbolByFeed map[string]string

	// marketsByAddress is rebuilt every sync so loan scans can resolve
	// a loan's collateral and borrow markets without refetching.
	marketsByAddress map[solana.PublicKey]trackedMarket
}

type trackedMarket struct {
	target config.MarketTarget
	market *lend.Market
}

func New(cfg config.MonitorConfig, logger *slog.Logger) (*Service, error) {
	if len(cfg.Markets) == 0 {
		return nil, fmt.Errorf("no markets configured (set MONITOR_MARKETS_JSON)")
	}

	store, err := NewStore(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	symbolByFeed := make(map[string]string, len(cfg.Markets))
	for _, target := range cfg.Markets {
		if target.FeedID != "" {
			symbolByFeed[target.FeedID] = target.Symbol
		}
	}

	return &Service{
		cfg:              cfg,
		client:           lend.NewClient(cfg.RPCURL, cfg.LendingProgramID, cfg.Commitment),
		store:            store,
		prices:           newPriceFeed(cfg.PriceStaleness),
		logger:           logger,
		symbolByFeed:     symbolByFeed,
		marketsByAddress: make(map[solana.PublicKey]trackedMarket),
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close store", "err", err)
		}
	}()

	s.logger.Info("monitor started",
		"rpc", s.cfg.RPCURL,
		"commitment", s.cfg.Commitment,
		"program", s.cfg.LendingProgramID,
		"markets", len(s.cfg.Markets),
		"borrowers", len(s.cfg.Borrowers),
	)

	feedIDs := make([]string, 0, len(s.symbolByFeed))
	for feedID := range s.symbolByFeed {
		feedIDs = append(feedIDs, feedID)
	}
	if len(feedIDs) > 0 {
		if s.cfg.UseHermesWS {
			go s.runWSStream(ctx, feedIDs, s.cfg.ReconnectInterval)
		} else {
			go s.runSSEStream(ctx, feedIDs, s.cfg.ReconnectInterval)
		}
	}

	if err := s.syncOnce(ctx); err != nil {
		s.logger.Error("initial sync failed", "err", err)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("monitor stopped")
			return nil
		case <-ticker.C:
			if err := s.syncOnce(ctx); err != nil {
				s.logger.Error("sync failed", "err", err)
			}
		}
	}
}

func (s *Service) syncOnce(ctx context.Context) error {
	if err := s.syncMarkets(ctx); err != nil {
		return err
	}
	s.scanLoans(ctx)
	return nil
}

func (s *Service) syncMarkets(ctx context.Context) error {
	byAddress := make(map[solana.PublicKey]trackedMarket, len(s.cfg.Markets))

	for _, target := range s.cfg.Markets {
		address, market, err := s.client.FetchMarket(ctx, target.Mint)
		if err != nil {
			if errors.Is(err, lend.ErrAccountNotFound) {
				s.logger.Warn("market not initialized", "symbol", target.Symbol, "market", address)
				continue
			}
			return fmt.Errorf("fetch market %s: %w", target.Symbol, err)
		}
		byAddress[address] = trackedMarket{target: target, market: market}

		snapshot := MarketSnapshotInput{
			Market:             address.String(),
			Symbol:             target.Symbol,
			TotalDeposits:      market.TotalDeposits,
			TotalBorrows:       market.TotalBorrows,
			TotalReserves:      market.TotalReserves,
			Utilization:        lend.Utilization(market),
			BorrowAPR:          lend.BorrowAPR(market),
			SupplyAPR:          lend.SupplyAPR(market),
			AvailableLiquidity: lend.AvailableLiquidity(market, target.Decimals),
			Paused:             market.Paused,
		}
		if err := s.store.InsertMarketSnapshot(ctx, snapshot); err != nil {
			return err
		}

		s.logger.Debug("market synced",
			"symbol", target.Symbol,
			"utilization", snapshot.Utilization,
			"borrow_apr", snapshot.BorrowAPR,
			"supply_apr", snapshot.SupplyAPR,
			"available", snapshot.AvailableLiquidity,
			"paused", snapshot.Paused,
		)
	}

	s.marketsByAddress = byAddress
	return nil
}

func (s *Service) scanLoans(ctx context.Context) {
	for _, borrower := range s.cfg.Borrowers {
		loans, err := s.client.LoansByBorrower(ctx, borrower)
		if err != nil {
			s.logger.Warn("loan scan failed", "borrower", borrower, "err", err)
			continue
		}
		for _, keyed := range loans {
			if err := s.recordLoanHealth(ctx, keyed); err != nil {
				s.logger.Warn("loan health check failed", "loan", keyed.Address, "err", err)
			}
		}
	}
}

func (s *Service) recordLoanHealth(ctx context.Context, keyed lend.KeyedLoan) error {
	loan := keyed.Loan

	collateral, ok := s.marketsByAddress[loan.CollateralMarket]
	if !ok {
		return fmt.Errorf("collateral market %s is not tracked", loan.CollateralMarket)
	}
	borrow, ok := s.marketsByAddress[loan.BorrowMarket]
	if !ok {
		return fmt.Errorf("borrow market %s is not tracked", loan.BorrowMarket)
	}

	collateralQuote, err := s.prices.GetLatestPrice(collateral.target.FeedID)
	if err != nil {
		return err
	}
	borrowQuote, err := s.prices.GetLatestPrice(borrow.target.FeedID)
	if err != nil {
		return err
	}

	collateralUnderlying := collateral.market.UnderlyingFromShares(loan.CollateralAmount)
	collateralValue := lend.BaseUnitsToUI(collateralUnderlying, collateral.target.Decimals) * collateralQuote.Price
	borrowValue := lend.BaseUnitsToUI(loan.BorrowedUnderlying, borrow.target.Decimals) * borrowQuote.Price

	health := lend.HealthFactor(collateral.market.LiqThresholdBps, collateralValue, borrowValue)

	if err := s.store.InsertLoanHealth(ctx, LoanHealthInput{
		LoanAddress:      keyed.Address.String(),
		Borrower:         loan.Borrower.String(),
		CollateralMarket: loan.CollateralMarket.String(),
		BorrowMarket:     loan.BorrowMarket.String(),
		CollateralValue:  collateralValue,
		BorrowValue:      borrowValue,
		HealthFactor:     health,
	}); err != nil {
		return err
	}

	if !math.IsInf(health, 1) && health < s.cfg.HealthAlertFactor {
		s.logger.Warn("loan near liquidation",
			"loan", keyed.Address,
			"borrower", loan.Borrower,
			"health_factor", health,
			"collateral_value", collateralValue,
			"borrow_value", borrowValue,
		)
	}
	return nil
}
