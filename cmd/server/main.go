package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"

	"github.com/dexbot/godex/dex/client"
	"github.com/dexbot/godex/dex/signing"
	"github.com/dexbot/godex/dex/types"
	"github.com/dexbot/godex/internal/config"
	"github.com/dexbot/godex/internal/engine"
	"github.com/dexbot/godex/internal/feed"
	"github.com/dexbot/godex/internal/oracle"
	"github.com/dexbot/godex/internal/server"
	"github.com/dexbot/godex/internal/services"
	"github.com/dexbot/godex/internal/tokens"
	"github.com/dexbot/godex/pkg/logger"
)

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	getenv := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}

	configPath := flag.String("config", getenv("GODEX_CONFIG", ""), "YAML config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	logger.Init(cfg.Log)

	// 代币目录：静态 → 注册表 → 注册表 + badger 缓存
	var dir tokens.Directory = tokens.NewStaticDirectory()
	if cfg.RegistryURL != "" {
		dir = tokens.NewRegistryClient(cfg.RegistryURL)
		if cfg.TokenCacheDir != "" {
			cached, err := tokens.OpenCachedDirectory(cfg.TokenCacheDir, dir)
			if err != nil {
				log.Fatalf("open token cache failed: %v", err)
			}
			defer cached.Close()
			dir = cached
		}
	}

	// 结算签名人
	var signerKey *ecdsa.PrivateKey
	switch {
	case cfg.Signer.PrivateKey != "":
		signerKey, err = crypto.HexToECDSA(cfg.Signer.PrivateKey)
	case cfg.Signer.Mnemonic != "":
		signerKey, err = client.SignerFromMnemonic(cfg.Signer.Mnemonic, cfg.Signer.DerivationPath)
	}
	if err != nil {
		log.Fatalf("load settlement signer failed: %v", err)
	}

	exchangeAddr := types.NormalizeAddress(cfg.ExchangeAddress)
	chainID := types.Chain(cfg.ChainID)

	// 链上协作方（可选：没配 RPC 就跑纯内存模式）
	var exchange *client.ExchangeClient
	if cfg.RPCURL != "" {
		exchange, err = client.NewExchangeClient(cfg.RPCURL, chainID, exchangeAddr, signerKey)
		if err != nil {
			log.Fatalf("connect exchange contract failed: %v", err)
		}
	}

	orc := oracle.New(dir)
	eng := engine.New(orc)
	if cfg.ImpactRate > 0 {
		eng.SetImpactRate(cfg.ImpactRate)
	}

	domain := signing.DefaultDomain(chainID, exchangeAddr)
	var nonces services.NonceSource
	var executor services.OrderExecutor
	if exchange != nil {
		nonces = exchange
		executor = exchange
	}
	builder := services.NewOrderBuilder(domain, dir, eng, orc, nonces)
	settlement := services.NewSettlementAdapter(executor)
	svc := services.NewOrderService(builder, eng, settlement)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	if cfg.Feed.Enabled && cfg.Feed.URL != "" {
		go feed.NewClient(cfg.Feed.URL, svc).Run(ctx)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.New(svc).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("godex listening on %s", cfg.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	<-stopCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	log.Println("server stopped")
}
