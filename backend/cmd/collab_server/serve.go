package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"banglaCollab/backend/config"
	"banglaCollab/backend/internal/cache"
	"banglaCollab/backend/internal/collab"
	"banglaCollab/backend/internal/httpapi/handlers"
	"banglaCollab/backend/internal/httpapi/middleware"
	"banglaCollab/backend/internal/store"
	"banglaCollab/backend/internal/ws"
)

type storeBundle struct {
	docs    collab.DocumentStore
	history collab.SnapshotStore
	reader  handlers.HistoryReader
	close   func()
}

func openStore(ctx context.Context, cfg *config.Config) (*storeBundle, error) {
	switch cfg.Store.Driver {
	case "mysql":
		db, err := store.InitMySQL(cfg.Mysql.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect mysql: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		b := &storeBundle{docs: store.NewGormDocumentStore(db), close: func() { _ = sqlDB.Close() }}
		if cfg.Mysql.SnapshotHistory {
			snapshots := store.NewSnapshotStore(sqlDB)
			b.history = snapshots
			b.reader = snapshots
		}
		return b, nil
	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := store.ConnectMongo(connectCtx, cfg.Mongo.URI)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		return &storeBundle{
			docs:  store.NewMongoDocumentStore(client, cfg.Mongo.Database, cfg.Mongo.Collection),
			close: func() { _ = client.Disconnect(context.Background()) },
		}, nil
	default:
		log.Printf("using in-memory document store; nothing survives a restart")
		return &storeBundle{docs: store.NewMemoryStore(), close: func() {}}, nil
	}
}

// Redis 不可用时 presence 只看本实例
func openPresence(ctx context.Context, cfg *config.Config) (cache.PresenceCache, func()) {
	if len(cfg.Redis.Addrs) == 0 {
		return nil, func() {}
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("redis unavailable, presence is local only: %v", err)
		_ = rdb.Close()
		return nil, func() {}
	}
	return cache.NewRedisPresence(rdb), func() { _ = rdb.Close() }
}

// Kafka 不可用时不发文档事件，协作本身不受影响
func openDispatcher(cfg *config.Config) (*collab.KafkaDispatcher, sarama.SyncProducer) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	kafkaCfg := sarama.NewConfig()
	// SyncProducer 必须开启 Return.Successes
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		log.Printf("kafka unavailable, doc events disabled: %v", err)
		return nil, nil
	}
	d := collab.NewKafkaDispatcher(
		producer,
		cfg.Kafka.Topic,
		collab.NewSemaphoreControl(cfg.Kafka.Workers),
		collab.KafkaDispatcherOptions{
			QueueSize:   cfg.Kafka.QueueSize,
			Workers:     cfg.Kafka.Workers,
			MaxRetry:    cfg.Kafka.MaxRetry,
			BaseBackoff: cfg.Kafka.BaseBackoff,
			MaxBackoff:  cfg.Kafka.MaxBackoff,
		},
	)
	return d, producer
}

func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.close()

	presence, closePresence := openPresence(ctx, cfg)
	defer closePresence()

	var sink collab.EventSink
	dispatcher, producer := openDispatcher(cfg)
	if dispatcher != nil {
		sink = dispatcher
		defer producer.Close()
	}

	registry := collab.NewRegistry(stores.docs, stores.history, sink, collab.Options{
		FlushDebounce: cfg.Collab.FlushDebounce,
		FlushAttempts: cfg.Collab.FlushAttempts,
		BaseBackoff:   cfg.Collab.BaseBackoff,
		MaxBackoff:    cfg.Collab.MaxBackoff,
		RetryInterval: cfg.Collab.RetryInterval,
		LoadTimeout:   cfg.Collab.LoadTimeout,
		SaveTimeout:   cfg.Collab.SaveTimeout,
		EvictDelay:    cfg.Collab.EvictDelay,
		MailboxSize:   cfg.Collab.MailboxSize,
	})

	hub := ws.NewHub(presence, cfg.Redis.PresenceTTL)
	manager := ws.NewManager(hub, registry, collab.NewSemaphoreControl(cfg.Collab.MaxInflightChanges), ws.ManagerOptions{
		AllowedOrigins: cfg.Cors.AllowOrigins,
		Conn: ws.ConnOptions{
			SendQueue:     cfg.Collab.SendQueue,
			SubmitTimeout: cfg.Collab.SubmitTimeout,
		},
	})
	documents := handlers.NewDocumentHandler(registry, stores.docs, stores.reader)

	r := gin.New()
	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	if cfg.Cors.Enabled {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.Cors.AllowOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// 路由
	r.GET("/collab/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok", "sessions": registry.ActiveSessions()})
	})
	group := r.Group("/collab")
	// 鉴权：从 Authorization 或 ?token= 提取 token，写入 userId/username
	group.Use(middleware.AuthMiddleware(middleware.AuthOptions{
		Mode:      cfg.Auth.Mode,
		BaseURL:   cfg.Auth.Path,
		JWTSecret: cfg.Auth.JWTSecret,
	}))
	group.GET("/ws", manager.WebSocketConnect)
	group.GET("/documents/:documentID", documents.GetDocument)
	group.POST("/documents/:documentID/save", documents.SaveDocument)
	group.GET("/documents/:documentID/history", documents.GetHistory)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Running.Port), Handler: r}
	serveErr := make(chan error, 1)
	go func() {
		log.Printf("collab server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Printf("shutting down, flushing live documents")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Running.ShutdownTimeout)
	defer cancel()

	// 先停止接收新连接，再把所有会话落库，最后发完 Kafka 队列
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := registry.Close(shutdownCtx); err != nil {
		log.Printf("registry close: %v", err)
	}
	if dispatcher != nil {
		if err := dispatcher.Close(shutdownCtx); err != nil {
			log.Printf("kafka dispatcher close: %v", err)
		}
	}
	return nil
}

func runMigrate(cfg *config.Config) error {
	if cfg.Store.Driver != "mysql" {
		return fmt.Errorf("migrate only applies to the mysql store, got %q", cfg.Store.Driver)
	}
	db, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		return err
	}
	if err := store.AutoMigrate(db); err != nil {
		return err
	}
	log.Printf("migrate done")
	return nil
}
