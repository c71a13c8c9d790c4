package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/js402/ollamagate/backendclient"
	"github.com/js402/ollamagate/diskguard"
	"github.com/js402/ollamagate/downloadservice"
	"github.com/js402/ollamagate/gateway"
	"github.com/js402/ollamagate/hubingest"
	"github.com/js402/ollamagate/libs/libbus"
	"github.com/js402/ollamagate/libs/libdb"
	"github.com/js402/ollamagate/libs/libhub"
	"github.com/js402/ollamagate/libs/libroutine"
	"github.com/js402/ollamagate/serverops"
	"github.com/js402/ollamagate/serverops/store"
)

func initDatabase(ctx context.Context, cfg *serverops.Config) (libdb.DBManager, error) {
	var dbInstance libdb.DBManager
	err := libroutine.NewRoutine(10, time.Minute).ExecuteWithRetry(ctx, time.Second, 3, func(ctx context.Context) error {
		var err error
		dbInstance, err = libdb.NewSqliteDBManager(ctx, cfg.DBPath, store.Schema)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx, dbInstance.WithoutTransaction()); err != nil {
		dbInstance.Close()
		return nil, err
	}
	return dbInstance, nil
}

func initPubSub(ctx context.Context, cfg *serverops.Config) (libbus.Messenger, error) {
	if cfg.NATSURL == "" {
		return libbus.NewLocalPubSub(), nil
	}
	return libbus.NewPubSub(ctx, &libbus.Config{
		NATSURL:      cfg.NATSURL,
		NATSUser:     cfg.NATSUser,
		NATSPassword: cfg.NATSPassword,
	})
}

func main() {
	config := &serverops.Config{}
	if err := serverops.LoadConfig(config); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := serverops.ValidateConfig(config); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	rateLimit, _ := strconv.Atoi(config.RateLimit)
	diskThreshold, _ := strconv.Atoi(config.DiskThreshold)
	cleanupDays, _ := strconv.Atoi(config.CleanupDays)

	log.Printf("ollamagate starting: backend=%s port=%s db=%s rate_limit=%d/day disk=%s@%d%% cleanup=%dd",
		config.OllamaBackend, config.ListenPort, config.DBPath, rateLimit, config.DiskPath, diskThreshold, cleanupDays)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbInstance, err := initDatabase(ctx, config)
	if err != nil {
		log.Fatalf("initializing database failed: %v", err)
	}
	defer dbInstance.Close()

	ps, err := initPubSub(ctx, config)
	if err != nil {
		log.Fatalf("initializing PubSub failed: %v", err)
	}
	defer ps.Close()

	backend, err := backendclient.New(config.OllamaBackend)
	if err != nil {
		log.Fatalf("initializing backend client failed: %v", err)
	}
	if err := backend.Ping(ctx); err != nil {
		log.Printf("Backend connectivity: FAILED (%v); starting anyway, requests may fail", err)
	} else {
		log.Println("Backend connectivity: OK")
	}

	hub := libhub.New(libhub.Config{
		BaseURL: config.HFAPIBase,
		Token:   config.HFToken,
	})
	tools := &hubingest.ToolRunner{
		ConvertCmd:  config.ConvertCmd,
		QuantizeCmd: config.QuantizeCmd,
	}
	pipeline := hubingest.NewPipeline(hub, tools, backend, config.CacheDir, config.KeepWorkdir == "true")

	service := downloadservice.New(dbInstance, ps, backend, pipeline, rateLimit, cleanupDays)
	if err := service.RunStartupMaintenance(ctx); err != nil {
		log.Printf("Startup maintenance failed: %v", err)
	}

	if ok, report := diskguard.Check(config.DiskPath, diskThreshold); ok {
		log.Printf("Disk space: %d%% used, %.1fGB free", report.UsedPercent, report.FreeGB)
	} else {
		log.Printf("Disk space critical: %s", report.Status)
	}

	// One in-process download worker. Claiming is a conditional status update,
	// so a second worker would be safe in this process but a second process on
	// the same store would not survive the startup orphan reset.
	pool := libroutine.GetPool()
	pool.StartLoop(ctx, &libroutine.LoopConfig{
		Key:          "downloadCycle",
		Threshold:    3,
		ResetTimeout: 10 * time.Second,
		Interval:     10 * time.Second,
		Operation:    service.RunDownloadCycle,
	})
	go func() {
		ch := make(chan []byte, 16)
		sub, err := ps.Stream(ctx, downloadservice.SubjectTrigger, ch)
		if err != nil {
			log.Printf("Failed to subscribe to worker trigger: %v", err)
			return
		}
		defer sub.Unsubscribe()
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
				pool.ForceUpdate("downloadCycle")
			case <-ctx.Done():
				return
			}
		}
	}()

	gw, err := gateway.New(gateway.Config{
		BackendURL:    config.OllamaBackend,
		DiskPath:      config.DiskPath,
		DiskThreshold: diskThreshold,
		RateLimit:     rateLimit,
	}, backend, service)
	if err != nil {
		log.Fatalf("initializing gateway failed: %v", err)
	}

	var handler http.Handler = gw
	handler = gateway.LoggingMiddleware(handler)
	handler = gateway.RequestIDMiddleware(handler)

	server := &http.Server{
		Addr:    config.Addr + ":" + config.ListenPort,
		Handler: handler,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	log.Printf("Proxy listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server failed: %v", err)
	}
	log.Println("Shutting down...")
}
