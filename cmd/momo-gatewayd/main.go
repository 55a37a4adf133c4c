package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"momogw/config"
	"momogw/momo/client"
	"momogw/momo/compose"
	"momogw/momo/signing"
	"momogw/momo/token"
	"momogw/observability/logging"
	"momogw/server"
	"momogw/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Setup("momo-gatewayd", cfg.Environment, cfg.LogLevel)

	privateKey, err := signing.ParsePrivateKey(cfg.GatewayPrivateKey)
	if err != nil {
		log.Fatalf("parse merchant private key: %v", err)
	}
	publicKey, err := signing.ParsePublicKey(cfg.GatewayPublicKey)
	if err != nil {
		log.Fatalf("parse gateway public key: %v", err)
	}

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open sqlite store: %v", err)
	}
	defer store.Close()

	gatewayClient := client.New(cfg.GatewayBaseURL, cfg.GatewayAppKey, cfg.GatewayAppSecret)
	tokens := token.NewCache(gatewayClient)
	composer := compose.NewComposer(cfg.GatewayAppID, cfg.GatewayMerchantCode, cfg.NotifyURL, privateKey)

	secrets := make(map[string]string, len(cfg.APIKeys))
	for _, key := range cfg.APIKeys {
		secrets[key.Key] = key.Secret
	}
	auth := server.NewAuthenticator(secrets, cfg.AllowedTimestampSkew, cfg.NonceTTL, cfg.NonceCapacity, nil)
	limiter := server.NewRateLimiter(cfg.RequestsPerMinute, cfg.RateBurst)

	svc := server.New(store, gatewayClient, tokens, composer, publicKey, auth, limiter, logger)
	srv := &http.Server{Addr: cfg.ListenAddress, Handler: svc.Router()}

	go func() {
		logger.Info("momo gateway connector listening", "addr", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down momo gateway connector")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err.Error())
	}
}
