package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/ride-rewards/internal/carbon"
	"github.com/example/ride-rewards/internal/config"
	"github.com/example/ride-rewards/internal/rewards"
	"github.com/example/ride-rewards/internal/storage"
)

type stateLoader interface {
	LoadRewardState(ctx context.Context) (rewards.State, error)
	LoadOracleState(ctx context.Context) (carbon.State, error)
}

// restoreOrBootstrap restores persisted state, falling back to the bootstrap
// file for whichever component has never been saved.
func restoreOrBootstrap(ctx context.Context, store stateLoader, ledger *rewards.Ledger, oracle *carbon.Oracle, bootstrapFile string, logger *slog.Logger) error {
	var genesis *config.Genesis
	loadGenesis := func() (config.Genesis, error) {
		if genesis != nil {
			return *genesis, nil
		}
		if bootstrapFile == "" {
			return config.Genesis{}, errors.New("no persisted state and BOOTSTRAP_FILE is not set")
		}
		g, err := config.LoadBootstrap(bootstrapFile)
		if err != nil {
			return config.Genesis{}, err
		}
		genesis = &g
		return g, nil
	}

	rs, err := store.LoadRewardState(ctx)
	switch {
	case err == nil:
		if err := ledger.Restore(rs); err != nil {
			return fmt.Errorf("restore reward state: %w", err)
		}
		logger.Info("reward ledger restored", "owner", rs.Owner.String())
	case errors.Is(err, storage.ErrNotFound):
		g, err := loadGenesis()
		if err != nil {
			return err
		}
		if err := ledger.Initialize(ctx, g.Owner, g.MintAuthority, g.Rates); err != nil {
			return fmt.Errorf("initialize reward ledger: %w", err)
		}
		logger.Info("reward ledger initialized", "owner", g.Owner.String())
	default:
		return fmt.Errorf("load reward state: %w", err)
	}

	saved, err := store.LoadOracleState(ctx)
	switch {
	case err == nil:
		if err := oracle.Restore(saved); err != nil {
			return fmt.Errorf("restore oracle state: %w", err)
		}
		logger.Info("carbon oracle restored", "regions", len(saved.Regions))
		return nil
	case errors.Is(err, storage.ErrNotFound):
	default:
		return fmt.Errorf("load oracle state: %w", err)
	}

	g, err := loadGenesis()
	if err != nil {
		return err
	}
	if err := oracle.Initialize(ctx, g.OracleAuthority); err != nil {
		return fmt.Errorf("initialize carbon oracle: %w", err)
	}
	if g.CarbonPricePerTon > 0 {
		if _, err := oracle.UpdateCarbonPrice(ctx, g.OracleAuthority, g.CarbonPricePerTon); err != nil {
			return fmt.Errorf("seed carbon price: %w", err)
		}
	}
	for _, r := range g.Regions {
		if err := oracle.UpdateRegionData(ctx, g.OracleAuthority, r); err != nil {
			return fmt.Errorf("seed region %q: %w", r.Code, err)
		}
	}
	logger.Info("carbon oracle initialized", "regions", len(g.Regions))
	return nil
}
