package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"limitvault/internal/config"
	"limitvault/internal/escrow"
	"limitvault/internal/idempotency"
	"limitvault/internal/logging"
	"limitvault/internal/server"
	"limitvault/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.Setup("limitvault", cfg.Log.Env, cfg.Log.Level)

	if err := run(cfg, logger); err != nil {
		logger.Error("limitvault stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, logger *slog.Logger) error {
	ctx := context.Background()

	program, err := escrow.NewProgram(cfg.Program.ID)
	if err != nil {
		return err
	}

	v, err := buildVault(cfg.Vault)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}

	var (
		store   escrow.Store
		journal escrow.Journal
		idem    idempotency.Store
		ping    server.HealthCheck
		closers []func()
	)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pg, err := escrow.NewPostgresStore(ctx, cfg.Storage.DSN)
		if err != nil {
			return fmt.Errorf("postgres store: %w", err)
		}
		closers = append(closers, pg.Close)
		store, journal, ping = pg, pg.Journal(), pg.Ping

		pgIdem, err := idempotency.NewPostgresStore(ctx, cfg.Storage.DSN)
		if err != nil {
			return fmt.Errorf("idempotency store: %w", err)
		}
		closers = append(closers, pgIdem.Close)
		if n, err := pgIdem.Prune(ctx); err != nil {
			logger.Warn("idempotency prune failed", "error", err)
		} else if n > 0 {
			logger.Info("pruned idempotency records", "count", n)
		}
		idem = pgIdem
	case config.DriverLevelDB:
		lvl, err := escrow.NewLevelStore(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("leveldb store: %w", err)
		}
		closers = append(closers, func() { _ = lvl.Close() })
		store, ping = lvl, lvl.Ping
	default:
		store = escrow.NewMemoryStore()
	}

	if idem == nil {
		if cfg.Service.IdempotencyStorePath != "" {
			fs, err := idempotency.NewFileStore(cfg.Service.IdempotencyStorePath)
			if err != nil {
				return fmt.Errorf("idempotency store: %w", err)
			}
			idem = fs
		} else {
			idem = idempotency.NewMemoryStore()
		}
	}

	cranks, err := parseHashes(cfg.Crank.Allowlist)
	if err != nil {
		return fmt.Errorf("crank allowlist: %w", err)
	}

	engine := escrow.NewEngine(program, store, v)
	engine.SetLogger(logger.With("component", "escrow"))
	engine.SetCrankAllowlist(cranks)
	if journal != nil {
		engine.SetJournal(journal)
	}

	apiServer := server.NewServer(cfg, engine, idem, logger.With("component", "api"))
	apiServer.AddHealthCheck("storage", ping)

	logger.Info("starting limitvault",
		"program", program.ID.Hex(),
		"domains", cfg.Program.Domains,
		"storage", cfg.Storage.Driver,
		"cranks", len(cranks),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-ch:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	return apiServer.Shutdown(shutdownCtx)
}

// buildVault registers the configured mints and credits genesis balances.
func buildVault(cfg config.VaultConfig) (*vault.Memory, error) {
	v := vault.NewMemory()
	for _, m := range cfg.Mints {
		mint, err := escrow.ParseHash(m.ID)
		if err != nil {
			return nil, fmt.Errorf("mint %q: %w", m.ID, err)
		}
		v.RegisterMint(mint, m.Decimals)
	}
	for _, g := range cfg.Genesis {
		holder, err := escrow.ParseHash(g.Holder)
		if err != nil {
			return nil, fmt.Errorf("genesis holder %q: %w", g.Holder, err)
		}
		if err := v.CreditNative(holder, g.Native); err != nil {
			return nil, err
		}
		for id, units := range g.Assets {
			mint, err := escrow.ParseHash(id)
			if err != nil {
				return nil, fmt.Errorf("genesis asset %q: %w", id, err)
			}
			if err := v.CreditAsset(mint, holder, units); err != nil {
				return nil, err
			}
		}
	}
	return v, nil
}

func parseHashes(values []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(values))
	for _, s := range values {
		h, err := escrow.ParseHash(s)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", s, err)
		}
		out = append(out, h)
	}
	return out, nil
}
