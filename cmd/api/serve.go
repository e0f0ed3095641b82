package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/punchamoorthee/paybridge/internal/api"
	"github.com/punchamoorthee/paybridge/internal/audit"
	"github.com/punchamoorthee/paybridge/internal/config"
	"github.com/punchamoorthee/paybridge/internal/paypal"
	"github.com/punchamoorthee/paybridge/internal/service"
	"github.com/punchamoorthee/paybridge/internal/store"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP bridge",
	Long: `Run the HTTP bridge.

Examples:
  paybridge serve --config paybridge.yaml
  DB_SOURCE=postgres://... PAYPAL_SHARED_SECRET=... paybridge serve --migrate=false`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "create payment tables before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewStore(ctx, cfg.DBSource)
	if err != nil {
		return err
	}
	defer db.Close()

	if serveMigrate {
		if err := store.Migrate(ctx, db.Db); err != nil {
			return err
		}
	}

	cache, closeCache, err := tokenCache(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeCache()

	sink, err := audit.NewFileSink(cfg.AuditDir)
	if err != nil {
		return err
	}

	if !cfg.EnforceAgreement {
		slog.Warn("agreement enforcement disabled: /complete accepts any agreement_id")
	}
	if cfg.PayPal.Sandbox {
		slog.Info("paypal sandbox mode", "api", cfg.PayPal.APIURL)
	}

	client := paypal.NewClient(paypal.Config{
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		APIURL:       cfg.PayPal.APIURL,
		IPNURL:       cfg.PayPal.IPNURL,
		Timeout:      cfg.PayPal.HTTPTimeout,
	}, cache)

	verifier := service.NewVerifier(client, client, cfg.Catalog, cfg.PayPal.Currency, cfg.PayPal.ReceiverEmails)
	ledger := store.NewLedgerStore(db.Db, cfg.LedgerTimeout)
	payments := service.NewPaymentService(verifier, ledger, db, sink, cfg.EnforceAgreement)

	handler := api.NewHandler(api.Options{
		Payments:   payments,
		Agreements: service.NewAgreementService(db),
		Auth:       service.NewTokenAuth(cfg.AuthToken()),
		Audit:      sink,
		Public: api.PublicConfig{
			ClientID: cfg.PayPal.ClientID,
			Currency: cfg.PayPal.Currency,
			Sandbox:  cfg.PayPal.Sandbox,
			Images:   cfg.Images,
		},
		Prices:     cfg.Catalog.Prices(),
		TrustProxy: cfg.TrustProxy,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2*cfg.PayPal.HTTPTimeout + cfg.LedgerTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port, "version", Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// tokenCache shares provider tokens through Redis when configured so all
// replicas reuse one token. Otherwise each process keeps its own.
func tokenCache(ctx context.Context, cfg config.Redis) (paypal.TokenCache, func(), error) {
	if cfg.Addr == "" {
		return paypal.NewMemoryCache(), func() {}, nil
	}

	rc := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	if err := rc.Ping(ctx).Err(); err != nil {
		rc.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	return paypal.NewRedisCache(rc), func() {
		if err := rc.Close(); err != nil {
			slog.Error("failed to close redis", "error", err)
		}
	}, nil
}
