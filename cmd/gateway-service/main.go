// cmd/gateway-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mcpgateway/internal/gateway"
	"mcpgateway/pkg/config"
	"mcpgateway/pkg/db"
	"mcpgateway/pkg/logger"
	"mcpgateway/pkg/middleware"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	defer func() { _ = log.Sync() }()
	if err := cfg.Validate(); err != nil {
		log.Fatalw("config", "err", err)
	}

	pool := db.MustConnect(cfg, log)
	if pool != nil {
		defer pool.Close()
	}
	rdb := db.MustRedis(cfg, log)
	if rdb != nil {
		defer rdb.Close()
	}

	deps, err := gateway.Build(context.Background(), cfg, log, pool, rdb)
	if err != nil {
		log.Fatalw("wiring", "err", err)
	}
	if cfg.ProvisionerCallbackToken == "" {
		log.Warnw("PROVISIONER_CALLBACK_TOKEN not set; status callbacks are disabled")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           gateway.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infow("gateway-service listening", "addr", cfg.HTTPAddr, "backends", deps.Backends)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	// in-flight provisioner hand-offs finish before stores close
	deps.Deployments.Wait()
	_ = middleware.ShutdownTracing(ctx)
	fmt.Println("gateway-service stopped")
}
