package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/lumen-network/lumen-gateway/internal/api"
	"github.com/lumen-network/lumen-gateway/internal/chain"
	"github.com/lumen-network/lumen-gateway/internal/config"
	"github.com/lumen-network/lumen-gateway/internal/events"
	"github.com/lumen-network/lumen-gateway/internal/indexer"
	"github.com/lumen-network/lumen-gateway/internal/ingest"
	"github.com/lumen-network/lumen-gateway/internal/kubo"
	"github.com/lumen-network/lumen-gateway/internal/pins"
	"github.com/lumen-network/lumen-gateway/internal/pqcrypto"
	"github.com/lumen-network/lumen-gateway/internal/search"
	"github.com/lumen-network/lumen-gateway/internal/walletdb"
)

var log = logging.Logger("gateway/main")

const (
	maintenanceInterval = 1 * time.Hour
	spoolMaxAge         = 6 * time.Hour
	shutdownGrace       = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration invalid: %v", err)
	}

	pqctx, err := pqcrypto.LoadContext(cfg.KyberKeyPath)
	if err != nil {
		log.Fatalf("KEM key load failed (%s): %v", cfg.KyberKeyPath, err)
	}
	log.Infow("KEM key loaded", "key_id", pqctx.KeyID())

	store, err := walletdb.Open(cfg.WalletDBPath, time.Duration(cfg.SQLiteBusyTimeoutMS)*time.Millisecond)
	if err != nil {
		log.Fatalf("wallet db open failed (%s): %v", cfg.WalletDBPath, err)
	}
	defer store.Close()

	usage, err := walletdb.OpenUsage(cfg.UsageDBPath, time.Duration(cfg.SQLiteBusyTimeoutMS)*time.Millisecond)
	if err != nil {
		log.Fatalf("usage db open failed (%s): %v", cfg.UsageDBPath, err)
	}
	defer usage.Close()

	kc := kubo.New(cfg.KuboAPIBase,
		time.Duration(cfg.KuboRequestTimeoutMS)*time.Millisecond,
		time.Duration(cfg.KuboImportTimeoutMS)*time.Millisecond)
	gw := kubo.NewGateway(cfg.IPFSGatewayBase, time.Duration(cfg.KuboRequestTimeoutMS)*time.Millisecond)
	ix := indexer.New(cfg.IndexerBaseURL, time.Duration(cfg.KuboRequestTimeoutMS)*time.Millisecond)
	cc := chain.New(cfg.ChainRESTBase, time.Duration(cfg.KuboRequestTimeoutMS)*time.Millisecond)
	validator := chain.NewValidator(cc, store)

	registry := events.NewRegistry()
	hub := events.NewHub()
	go hub.Run()
	emitter := events.NewEmitter(registry, hub, events.NewWebhook(cfg.WebhookURL))

	spool, err := ingest.NewSpooler(cfg.IngestTmpDir, cfg.IngestMaxBytes)
	if err != nil {
		log.Fatalf("spool directory unusable (%s): %v", cfg.IngestTmpDir, err)
	}
	pipeline := ingest.NewPipeline(kc, store, emitter, spool)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pipeline.Start(ctx)

	nonces := pqcrypto.NewNonceCache(pqcrypto.NonceTTL)
	handler := api.NewHandler(api.Deps{
		Config:    cfg,
		PQContext: pqctx,
		Codec:     pqcrypto.NewCodec(pqctx, nonces, cfg.AddrHRP),
		Store:     store,
		Usage:     usage,
		Kubo:      kc,
		Gateway:   gw,
		Chain:     cc,
		Validator: validator,
		Pins:      pins.NewController(kc, store, validator, emitter),
		Pipeline:  pipeline,
		Engine:    search.NewEngine(ix, cc, kc, store, usage),
		Hub:       hub,
		Registry:  registry,
	})

	go maintenanceLoop(ctx, usage, pipeline, nonces, spool)

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: api.SetupRouter(handler),
	}

	go func() {
		log.Infow("gateway listening", "port", cfg.Port, "region", cfg.Region, "version", cfg.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("server shutdown incomplete", "err", err)
	}

	// Stop accepting jobs and let in-flight imports finish.
	cancel()
	pipeline.Wait()
}

// maintenanceLoop runs the hourly housekeeping: expired usage rows, upload
// tokens, replay nonces, and orphaned spool files.
func maintenanceLoop(ctx context.Context, usage *walletdb.UsageStore, pipeline *ingest.Pipeline, nonces *pqcrypto.NonceCache, spool *ingest.Spooler) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cutoff := now.Add(-walletdb.UsageRetention).UnixMilli()
			if n, err := usage.PurgeOlderThan(ctx, cutoff); err != nil {
				log.Warnw("usage purge failed", "err", err)
			} else if n > 0 {
				log.Infow("usage rows purged", "rows", n)
			}
			if n := pipeline.Tokens.Purge(); n > 0 {
				log.Debugw("upload tokens purged", "count", n)
			}
			if n := nonces.Purge(); n > 0 {
				log.Debugw("nonces purged", "count", n)
			}
			if n := spool.Sweep(spoolMaxAge); n > 0 {
				log.Infow("spool files swept", "count", n)
			}
		}
	}
}
