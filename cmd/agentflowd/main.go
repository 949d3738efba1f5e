package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/notuslabs/agentflow/internal/analytics"
	"github.com/notuslabs/agentflow/internal/blob"
	"github.com/notuslabs/agentflow/internal/bridge"
	"github.com/notuslabs/agentflow/internal/config"
	"github.com/notuslabs/agentflow/internal/engine"
	"github.com/notuslabs/agentflow/internal/httpapi"
	"github.com/notuslabs/agentflow/internal/imagegen"
	"github.com/notuslabs/agentflow/internal/llm"
	"github.com/notuslabs/agentflow/internal/memory"
	"github.com/notuslabs/agentflow/internal/observability"
	"github.com/notuslabs/agentflow/internal/taskstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	memoryStore, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("memory store init failed: %v", err)
	}
	defer memoryStore.Close()

	storeMode := "memory"
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		storeMode = "postgres"
	}
	log.Printf("memory store: %s", storeMode)

	llmClient, err := llm.New(llm.Config{
		Mode:        cfg.LLMMode,
		HTTPURL:     cfg.LLMHTTPURL,
		Model:       cfg.LLMModel,
		Timeout:     cfg.LLMTimeout,
		Temperature: cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
	})
	if err != nil {
		log.Fatalf("llm client init failed: %v", err)
	}

	images := imagegen.New(cfg.ImageGenHTTPURL)

	blobStore, err := blob.New(ctx, blob.Config{
		Bucket:   cfg.BlobBucket,
		LocalDir: cfg.BlobLocalDir,
		BaseURL:  cfg.BlobBaseURL,
	})
	if err != nil {
		log.Fatalf("blob store init failed: %v", err)
	}

	// Locally stored artifacts are served by this process under /files/.
	var artifacts http.Handler
	if local, ok := blobStore.(*blob.LocalStore); ok {
		artifacts = http.FileServer(http.Dir(local.Dir()))
	}

	var bridgeClient bridge.Client
	if strings.TrimSpace(cfg.BridgeURL) != "" {
		bridgeClient = bridge.NewHTTPClient(cfg.BridgeURL)
		log.Printf("computer-control bridge: %s", cfg.BridgeURL)
	} else {
		bridgeClient = bridge.NewMockClient()
		log.Printf("computer-control bridge: mock (AGENT_BRIDGE_URL not set)")
	}

	tasks := taskstore.NewRegistry()
	taskStore, err := taskstore.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("task store init failed: %v", err)
	}
	if taskStore != nil {
		defer taskStore.Close()
		tasks.SetStore(taskStore)
	}

	eng := engine.New(llmClient, images, blobStore, bridgeClient, memoryStore, metrics, engine.Options{
		ContextMemoryLimit: cfg.ContextMemoryLimit,
		RecentMessageLimit: cfg.RecentMessageLimit,
		BridgePollInterval: cfg.BridgePollInterval,
		BridgePollTimeout:  cfg.BridgePollTimeout,
	})

	analyticsService := analytics.New(memoryStore)
	scheduler, err := analytics.NewScheduler(analyticsService, cfg.SnapshotSchedule)
	if err != nil {
		log.Fatalf("snapshot scheduler init failed: %v", err)
	}
	scheduler.SetOnRun(func(_ int, err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.SnapshotRuns.WithLabelValues(outcome).Inc()
	})
	scheduler.Start()
	defer scheduler.Stop()

	api := httpapi.New(cfg, memoryStore, analyticsService, eng, tasks, metrics, bridgeClient, artifacts, storeMode)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
