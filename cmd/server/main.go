package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mintgate/admission"
	"mintgate/internal/config"
	"mintgate/internal/logging"
	"mintgate/x402"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("counter store", zap.Error(err))
	}

	opts := []admission.ControllerOption{
		admission.WithStore(store),
		admission.WithLogger(logger),
	}
	if cfg.TrustProxy {
		opts = append(opts, admission.WithTrustedProxy())
	}
	controller := admission.NewController(opts...)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(controller.GinMiddleware())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	gate := x402.GinPaymentMiddleware(x402.GateOptions{
		Price:       cfg.Price,
		PayTo:       cfg.PayTo,
		Network:     cfg.Network,
		Description: "Token metadata",
		MimeType:    "application/json",
		Facilitator: x402.NewFacilitatorClient(cfg.FacilitatorURL),
		Logger:      logger,
	})

	api := engine.Group("/api")
	api.GET("/metadata/:id", gate, metadataHandler)
	api.POST("/mint", mintHandler)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("network", cfg.Network))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}

// buildStore selects the counter store: Redis when configured, otherwise the
// process-local store with its sweep janitor.
func buildStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (admission.CounterStore, error) {
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		client := redis.NewClient(redisOpts)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		logger.Info("using redis counter store")
		return admission.NewRedisStore(client), nil
	}

	store := admission.NewMemoryStore()
	store.StartJanitor(ctx)
	return store, nil
}

// metadataHandler serves token metadata for a minted token. The real image
// generation pipeline lives elsewhere; this returns the JSON document.
func metadataHandler(c *gin.Context) {
	id := c.Param("id")
	c.JSON(http.StatusOK, gin.H{
		"name":        "Token #" + id,
		"description": "An x402-gated token",
		"image":       "https://static.example.com/tokens/" + id + ".png",
		"attributes":  []gin.H{},
	})
}

// mintHandler accepts a mint request. Contract interaction is handled by
// the deployment stack; this endpoint exists so the mint rate-limit class
// is exercised end to end.
func mintHandler(c *gin.Context) {
	var body struct {
		To string `json:"to" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "to": body.To})
}
