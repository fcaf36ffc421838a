package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"

	controllers "table-order-service/internal/controllers/http"
	"table-order-service/internal/infra/rabbitmq"
	"table-order-service/internal/services"
	"table-order-service/internal/store"
	memorystore "table-order-service/internal/store/memory"
	mysqlstore "table-order-service/internal/store/mysql"
	redisstore "table-order-service/internal/store/redis"
	"table-order-service/pkg/config"
	"table-order-service/pkg/logger"
	"table-order-service/pkg/shutdown"
)

func main() {
	cfg := config.Load()
	logg := logger.New(logger.Options{Service: "table-order-service", Level: cfg.LogLevel})

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}

	var publisher rabbitmq.PublisherInterface = rabbitmq.NopPublisher{}
	if cfg.RabbitURL != "" {
		p, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			log.Fatalf("failed to init publisher: %v", err)
		}
		defer p.Close()
		publisher = p
	}

	lifecycle := services.NewOrderLifecycle(st, publisher, logg, cfg.ServiceFeeMinor)
	liveView := services.NewLiveOrderView(st, logg)
	handler := controllers.NewHandler(lifecycle, liveView)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logg.Info("starting table order service", "port", cfg.HTTPPort, "store", cfg.StoreBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server run: %v", err)
	}
}

func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		return memorystore.New(), nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:         cfg.RedisAddr,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		})
		return redisstore.New(client), nil
	case "mysql":
		db, err := mysqlstore.OpenFromEnv()
		if err != nil {
			return nil, err
		}
		return mysqlstore.New(db)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
