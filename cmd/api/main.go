package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"ristoro.dev/internal/audit"
	"ristoro.dev/internal/auth"
	"ristoro.dev/internal/config"
	"ristoro.dev/internal/httpapi"
	"ristoro.dev/internal/menu"
	"ristoro.dev/internal/obs"
	"ristoro.dev/internal/orders"
	"ristoro.dev/internal/payment"
	"ristoro.dev/internal/store/memory"
	"ristoro.dev/internal/store/pg"
	"ristoro.dev/internal/stream"
	"ristoro.dev/internal/users"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

type stores struct {
	users  users.Store
	orders orders.Store
	menu   menu.Store
	audit  audit.Store
	ready  httpapi.ReadyProbe
	close  func() error
}

func openStores(cfg *config.Config) (stores, error) {
	if cfg.PGDSN == "" {
		obs.Info("store_selected", map[string]any{"backend": "memory"})
		return stores{
			users:  memory.NewUsers(),
			orders: memory.NewOrders(),
			menu:   memory.NewMenu(),
			audit:  memory.NewAudit(),
			ready:  httpapi.AlwaysReady,
			close:  func() error { return nil },
		}, nil
	}
	db, err := pg.Open(cfg.PGDSN)
	if err != nil {
		return stores{}, err
	}
	obs.Info("store_selected", map[string]any{"backend": "postgres"})
	return stores{
		users:  db.Users(),
		orders: db.Orders(),
		menu:   db.Menu(),
		audit:  db.Audit(),
		ready:  db,
		close:  db.Close,
	}, nil
}

func newGateway(cfg *config.Config) (payment.Gateway, error) {
	if cfg.PaymentURL == "" {
		return payment.StaticGateway{CallbackURL: cfg.PaymentCallbackURL}, nil
	}
	return payment.NewHTTPGateway(cfg.PaymentURL, cfg.PaymentSecret, cfg.PaymentCallbackURL, cfg.PaymentTimeout)
}

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	st, err := openStores(cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	verifier, err := auth.NewTokenVerifier(cfg.AuthSecret, auth.WithIssuer(cfg.AuthIssuer))
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	gateway, err := newGateway(cfg)
	if err != nil {
		log.Fatalf("payment: %v", err)
	}

	auditLog := audit.NewLogger(st.audit)
	userSvc, err := users.NewService(st.users, auditLog)
	if err != nil {
		log.Fatalf("users: %v", err)
	}
	events := stream.New(64)
	orderSvc, err := orders.NewService(st.orders, userSvc, gateway, auditLog, orders.WithEvents(events))
	if err != nil {
		log.Fatalf("orders: %v", err)
	}
	menuSvc, err := menu.NewService(st.menu, userSvc, auditLog)
	if err != nil {
		log.Fatalf("menu: %v", err)
	}

	api, err := httpapi.New(httpapi.Deps{
		Verifier:      verifier,
		Users:         userSvc,
		Orders:        orderSvc,
		Menu:          menuSvc,
		Audit:         auditLog,
		Events:        events,
		Ready:         st.ready,
		PaymentSecret: cfg.PaymentSecret,
	}, version,
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithCORSOrigins(cfg.Origins()),
	)
	if err != nil {
		log.Fatalf("http api: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()

	grpcSrv := grpc.NewServer()
	authz := httpapi.NewGRPCServer(verifier, userSvc, st.ready, version)
	authz.Register(grpcSrv)
	go authz.WatchHealth(ctx, 15*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}

	obs.Info("server_start", map[string]any{
		"service":   "ristoro-api",
		"version":   version,
		"http_addr": cfg.HTTPAddr,
		"grpc_addr": cfg.GRPCAddr,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	obs.Info("server_stopping", nil)
	stopWatch()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	if err := st.close(); err != nil {
		obs.Error("store_close_failed", err, nil)
	}
	obs.Info("server_stopped", nil)
}
