// custodyd serves the chain-of-custody API.
//
// Configuration comes from a YAML file (--config or $CUSTODY_CONFIG);
// individual flags override it. The policy file named there is re-read on
// every request, so role and status changes need no restart.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/spf13/pflag"

	"github.com/ajazfarhad/chainofcustody/config"
	"github.com/ajazfarhad/chainofcustody/custody"
	"github.com/ajazfarhad/chainofcustody/httpapi"
	"github.com/ajazfarhad/chainofcustody/store/memory"
	"github.com/ajazfarhad/chainofcustody/store/postgres"
	"github.com/ajazfarhad/chainofcustody/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		listen     string
		logLevel   string
		logFormat  string
	)

	flagSet := pflag.NewFlagSet("custodyd", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to YAML config (default: $"+config.EnvConfig+")")
	flagSet.StringVar(&listen, "listen", "", "listen address, overrides the config file")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.StringVar(&logFormat, "log-format", "", "text or json")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(os.Stderr, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.UsersPath != "" {
		if err := provisionUsers(ctx, st, cfg.UsersPath, logger); err != nil {
			return err
		}
	}

	policy := config.PolicyFile{Path: cfg.PolicyPath}
	if _, err := policy.Load(); err != nil {
		return fmt.Errorf("checking policy: %w", err)
	}

	opts := append(cfg.ServiceOptions(), custody.WithLogger(logger))
	svc := custody.NewService(st, policy, opts...)

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: httpapi.New(svc, st, logger, httpapi.WithTrustProxy(cfg.TrustProxy)),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			"addr", cfg.Listen,
			"store", cfg.Store.Driver,
			"policy", cfg.PolicyPath,
			"chain_mode", svc.ChainMode().String(),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	timeout, _ := cfg.Shutdown() // validated above
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Info("shutting down", "timeout", timeout)
	return srv.Shutdown(shutdownCtx)
}

func newLogger(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// store is what the daemon needs from a backend beyond custody.Store.
type store interface {
	custody.Store
	custody.AccessRecorder
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store, func(), error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), func() {}, nil

	case "sqlite":
		db, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		st := sqlite.New(db)
		if cfg.Migrate {
			if err := st.Migrate(ctx); err != nil {
				db.Close()
				return nil, nil, fmt.Errorf("sqlite migrate: %w", err)
			}
		}
		return st, func() { db.Close() }, nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		st := postgres.New(db)
		if cfg.Migrate {
			if err := st.Migrate(ctx); err != nil {
				db.Close()
				return nil, nil, fmt.Errorf("postgres migrate: %w", err)
			}
		}
		return st, func() { db.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func provisionUsers(ctx context.Context, st store, path string, logger *slog.Logger) error {
	seeds, err := config.LoadUsers(path)
	if err != nil {
		return err
	}

	created := 0
	for _, seed := range seeds {
		var hash string
		if seed.Token != "" {
			hash = httpapi.HashToken(seed.Token)
		}
		err := addUser(ctx, st, seed.User(), hash)
		var dup *custody.DuplicateError
		switch {
		case errors.As(err, &dup):
			logger.Debug("user already provisioned", "user_id", seed.ID)
		case err != nil:
			return fmt.Errorf("provisioning user %s: %w", seed.ID, err)
		default:
			created++
		}
	}
	logger.Info("users provisioned", "file", path, "created", created, "total", len(seeds))
	return nil
}

func addUser(ctx context.Context, st store, u custody.User, tokenHash string) error {
	switch s := st.(type) {
	case *memory.Store:
		s.PutUser(u, tokenHash)
		return nil
	case *sqlite.Store:
		return s.CreateUser(ctx, u, tokenHash)
	case *postgres.Store:
		return s.CreateUser(ctx, u, tokenHash)
	}
	return fmt.Errorf("store %T cannot provision users", st)
}
