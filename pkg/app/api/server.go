// Package api implements app.Runner for the API server process.
package api

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chainperks/coupon-middleware/pkg/app"
	apphttp "github.com/chainperks/coupon-middleware/pkg/app/http"
	"github.com/chainperks/coupon-middleware/pkg/auth"
	campaignservice "github.com/chainperks/coupon-middleware/pkg/campaign/service"
	"github.com/chainperks/coupon-middleware/pkg/config"
	couponservice "github.com/chainperks/coupon-middleware/pkg/coupon/service"
	"github.com/chainperks/coupon-middleware/pkg/couponstore"
	"github.com/chainperks/coupon-middleware/pkg/keys"
	"github.com/chainperks/coupon-middleware/pkg/ledger"
	merchantservice "github.com/chainperks/coupon-middleware/pkg/merchant/service"
	"github.com/chainperks/coupon-middleware/pkg/pgutil"
	reconcilerpkg "github.com/chainperks/coupon-middleware/pkg/reconciler"
	"github.com/chainperks/coupon-middleware/pkg/redemption"
	redemptionservice "github.com/chainperks/coupon-middleware/pkg/redemption/service"
)

const defaultRequestTimeout = 60

// Server holds cfg to init the api server.
type Server struct {
	cfg *config.APIServerConfig
}

var _ app.Runner = (*Server)(nil)

// NewServer initializes new api server.
func NewServer(cfg *config.APIServerConfig) *Server {
	return &Server{cfg: cfg}
}

func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("api server config is nil")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting API server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)

	masterKey, err := s.getMasterKey()
	if err != nil {
		return err
	}
	cipher := keys.NewMasterKeyCipher(masterKey)

	operatorKey, err := s.getOperatorKey()
	if err != nil {
		return err
	}

	authManager, err := s.newAuthManager()
	if err != nil {
		return err
	}

	db, err := pgutil.ConnectDB(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Connected to database",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database),
	)

	ledgerClient, err := s.openLedgerClient(operatorKey, logger)
	if err != nil {
		return err
	}
	logger.Info("Connected to ledger",
		zap.String("node_url", cfg.Ledger.NodeURL),
		zap.String("mirror_url", cfg.Ledger.MirrorURL),
	)

	store := couponstore.NewStore(db)
	operatorAccount := ledger.AccountID(cfg.Ledger.OperatorAccountID)

	rec := reconcilerpkg.New(store, ledgerClient, operatorAccount, logger)
	s.runInitialReconcile(ctx, rec, logger)

	stopReconcile := s.startPeriodicReconcile(rec, logger)
	// We will call stopReconcile explicitly after ServeAndWait returns for deterministic shutdown order.
	// Keep this defer as a safety net.
	defer stopReconcile()

	merchantService := merchantservice.NewService(
		store,
		ledgerClient,
		cipher,
		authManager,
		operatorAccount,
		cfg.Ledger.InitialFunding,
		cfg.Custody.AllowCustodial,
		logger,
	)
	campaignService := campaignservice.NewService(store, logger)
	couponService := couponservice.NewService(store, ledgerClient, merchantService, cipher, operatorAccount, logger)

	tokenService := redemption.NewTokenService(operatorKey, cfg.Redemption.TokenTTL)
	ownership := redemption.NewOwnershipVerifier(ledgerClient, cfg.Redemption.OwnershipRetryBackoff, logger)
	redemptionService := redemptionservice.NewLog(
		redemption.NewService(store, ledgerClient, tokenService, ownership, operatorAccount, logger),
		logger,
	)

	router := s.setupRouter(authManager, merchantService, campaignService, couponService, redemptionService, logger)

	err = apphttp.ServeAndWait(ctx, router, logger, &cfg.Server)

	// Stop background work before deferred DB closes kick in.
	stopReconcile()

	return err
}

func (s *Server) getMasterKey() ([]byte, error) {
	masterKeyStr := os.Getenv(s.cfg.Custody.MasterKeyEnv)
	if masterKeyStr == "" {
		return nil, fmt.Errorf(
			"custody master key not set: env=%s (hint: openssl rand -base64 32)",
			s.cfg.Custody.MasterKeyEnv,
		)
	}

	masterKey, err := keys.MasterKeyFromBase64(masterKeyStr)
	if err != nil {
		return nil, fmt.Errorf("invalid custody master key: %w", err)
	}
	return masterKey, nil
}

func (s *Server) getOperatorKey() (*keys.WalletKeyPair, error) {
	keyHex := os.Getenv(s.cfg.Custody.OperatorKeyEnv)
	if keyHex == "" {
		return nil, fmt.Errorf("operator key not set: env=%s", s.cfg.Custody.OperatorKeyEnv)
	}

	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("operator key is not valid hex: env=%s", s.cfg.Custody.OperatorKeyEnv)
	}
	kp, err := keys.KeyPairFromPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid operator key: %w", err)
	}
	return kp, nil
}

func (s *Server) newAuthManager() (*auth.Manager, error) {
	secret := os.Getenv(s.cfg.Auth.JWTSecretEnv)
	if secret == "" {
		return nil, fmt.Errorf("jwt secret not set: env=%s", s.cfg.Auth.JWTSecretEnv)
	}
	return auth.NewManager([]byte(secret), s.cfg.Auth.Issuer, s.cfg.Auth.TokenTTL), nil
}

func (s *Server) openLedgerClient(operatorKey *keys.WalletKeyPair, logger *zap.Logger) (*ledger.Client, error) {
	signer := func(payload []byte) (ledger.Signature, error) {
		sig, err := operatorKey.Sign(payload)
		if err != nil {
			return ledger.Signature{}, err
		}
		return ledger.Signature{PublicKey: operatorKey.PublicKey, Bytes: sig}, nil
	}

	client, err := ledger.New(
		&ledger.Config{
			NodeURL:           s.cfg.Ledger.NodeURL,
			MirrorURL:         s.cfg.Ledger.MirrorURL,
			OperatorAccountID: ledger.AccountID(s.cfg.Ledger.OperatorAccountID),
			RequestTimeout:    s.cfg.Ledger.RequestTimeout,
		},
		ledger.WithLogger(logger),
		ledger.WithOperatorSigner(signer),
	)
	if err != nil {
		return nil, fmt.Errorf("create ledger client: %w", err)
	}
	return client, nil
}

func (s *Server) runInitialReconcile(
	ctx context.Context,
	reconciler *reconcilerpkg.Reconciler,
	logger *zap.Logger,
) {
	if s.cfg.Reconciliation.InitialTimeout <= 0 {
		return
	}

	logger.Info("Running initial coupon reconciliation",
		zap.Duration("timeout", s.cfg.Reconciliation.InitialTimeout),
	)

	startupCtx, cancel := context.WithTimeout(ctx, s.cfg.Reconciliation.InitialTimeout)
	defer cancel()

	if err := reconciler.ReconcileAll(startupCtx); err != nil {
		logger.Warn("Initial reconciliation failed (will retry periodically)", zap.Error(err))
		return
	}

	logger.Info("Initial coupon reconciliation completed")
}

func (s *Server) startPeriodicReconcile(
	reconciler *reconcilerpkg.Reconciler,
	logger *zap.Logger,
) func() {
	if s.cfg.Reconciliation.Interval <= 0 {
		return func() {}
	}

	logger.Info("Starting periodic reconciliation", zap.Duration("interval", s.cfg.Reconciliation.Interval))
	reconciler.StartPeriodicReconciliation(s.cfg.Reconciliation.Interval)

	// Return stopper for deterministic shutdown ordering.
	return func() { reconciler.Stop() }
}

func (s *Server) setupRouter(
	authManager *auth.Manager,
	merchantService merchantservice.Service,
	campaignService campaignservice.Service,
	couponService couponservice.Service,
	redemptionService redemption.Service,
	logger *zap.Logger,
) chi.Router {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Second * defaultRequestTimeout))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if s.cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	requireMerchant := auth.RequireMerchant(authManager)

	merchantservice.RegisterRoutes(r, merchantService, logger)
	campaignservice.RegisterRoutes(r, campaignService, requireMerchant, logger)
	couponservice.RegisterRoutes(r, couponService, requireMerchant, logger)
	redemptionservice.RegisterRoutes(r, redemptionService, requireMerchant, logger)

	return r
}
