package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	// Bundled roots for the payment provider when the image has none.
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/novaxell/dispenser/internal/certgen"
	"github.com/novaxell/dispenser/internal/config"
	"github.com/novaxell/dispenser/internal/db"
	"github.com/novaxell/dispenser/internal/paypal"
	"github.com/novaxell/dispenser/internal/repository"
	"github.com/novaxell/dispenser/internal/server/handler/http"
	"github.com/novaxell/dispenser/internal/service"
)

const shutdownTimeout = 15 * time.Second

func serveCmd(opts *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTPS API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
}

func serve(ctx context.Context, opts *config.Options) error {
	zapLogger, err := newLogger(opts)
	if err != nil {
		return err
	}
	defer func() { _ = zapLogger.Sync() }()

	// Initialize PostgreSQL connection.
	postgresDB, err := db.InitPostgres(opts.DatabaseDSN)
	if err != nil {
		return err
	}
	defer postgresDB.Close()

	pool, closePool, err := openStock(opts)
	if err != nil {
		return err
	}
	defer closePool()

	authority, err := certgen.LoadAuthority(opts.CAFile, opts.CAKeyFile)
	if err != nil {
		return err
	}

	// Repositories.
	authRepo := repository.NewPostgresAuthRepository(postgresDB)
	generationRepo := repository.NewPostgresGenerationRepository(postgresDB)
	orderRepo := repository.NewPostgresOrderRepository(postgresDB)

	// Payment provider.
	gateway := paypal.New(paypal.Config{
		ClientID:      opts.PayPal.ClientID,
		ClientSecret:  opts.PayPal.ClientSecret,
		Mode:          opts.PayPal.Mode,
		VerifyTimeout: opts.VerifyTimeoutDuration(),
	})
	if opts.PayPal.ReceiverEmail == "" {
		zapLogger.Warn("paypal receiver email not set, every notification will be rejected")
	}

	// Business-logic services.
	authService := service.NewAuthService(authRepo)
	generator := service.NewGeneratorService(pool, generationRepo, opts.Services, zapLogger)
	orders := service.NewOrderService(orderRepo, zapLogger)
	reconciler := service.NewReconcileService(gateway, orderRepo, opts.PayPal.ReceiverEmail, zapLogger)
	checkout := service.NewCheckoutService(gateway, zapLogger)

	service.StartReservationSweeper(ctx, pool, generationRepo,
		opts.SweepIntervalDuration(),
		opts.ReservationTTLDuration(),
		zapLogger,
	)

	ipnHandler := &http.IPNHandler{Reconciler: reconciler, Log: zapLogger}
	router := http.NewRouter(http.Handlers{
		Auth:      &http.AuthHandler{AuthService: authService, Issuer: authority, Log: zapLogger},
		Generator: &http.GeneratorHandler{Service: generator, Log: zapLogger},
		Orders:    &http.OrderHandler{Service: orders, Log: zapLogger},
		Checkout:  &http.CheckoutHandler{Service: checkout, Log: zapLogger},
		IPN:       ipnHandler,
	}, zapLogger, opts.MaxInflight)

	tlsConfig, err := serverTLSConfig(opts, authority)
	if err != nil {
		return err
	}

	server := &nethttp.Server{
		Addr:              opts.Port,
		Handler:           router,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zapLogger.Info("starting HTTPS server", zap.String("addr", opts.Port))
		errCh <- server.ListenAndServeTLS("", "")
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, nethttp.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	zapLogger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = server.Shutdown(shutdownCtx)

	// Acknowledged notifications must reach the database before it closes.
	if werr := ipnHandler.Wait(shutdownCtx); werr != nil {
		zapLogger.Warn("reconciliations still running at shutdown", zap.Error(werr))
	}
	return err
}

// serverTLSConfig loads the server key pair and trusts client certificates
// signed by the CA. Certificates are optional at the TLS layer so public
// routes work without one; protected routes enforce them.
func serverTLSConfig(opts *config.Options, authority *certgen.Authority) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
	if err != nil {
		return nil, err
	}

	caCertPool := x509.NewCertPool()
	caCertPool.AddCert(authority.Cert)

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.VerifyClientCertIfGiven,
		ClientCAs:    caCertPool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
