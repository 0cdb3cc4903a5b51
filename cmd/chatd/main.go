package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/pulsegram/backend/internal/chat"
	"github.com/pulsegram/backend/internal/config"
	"github.com/pulsegram/backend/internal/conversations"
	"github.com/pulsegram/backend/internal/directory"
	"github.com/pulsegram/backend/internal/messages"
	"github.com/pulsegram/backend/internal/middleware"
	"github.com/pulsegram/backend/internal/presence"
	"github.com/pulsegram/backend/internal/session"
	"github.com/pulsegram/backend/internal/storage/postgres"
	"github.com/pulsegram/backend/internal/storage/sqlite"
)

func main() {
	migrateOnly := flag.Bool("migrate", false, "run migrations and exit")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.MustLoad()

	log := newLogger(cfg)

	db, migrate, err := openDB(cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Schema statements are all IF NOT EXISTS, so migrating at boot is
	// idempotent.
	if err := migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	if *migrateOnly {
		log.Info("migration completed")
		return
	}

	rdb, err := openRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	defer rdb.Close()

	sessions := session.NewRedisStore(rdb)
	tracker := presence.NewRedisTracker(rdb, time.Duration(cfg.LastSeenTTLDays)*24*time.Hour)
	dir := directory.NewStore(db, cfg.DBDriver, log)
	hub := chat.NewHub(dir, tracker, log)

	router := gin.New()
	router.Use(gin.Recovery(), middleware.CORS(cfg.AllowedOrigin))

	api := router.Group("/api/chat", session.Auth(sessions, cfg.SessionCookie))
	conversations.Register(api, dir)
	messages.Register(api, dir)

	chat.RegisterWS(router.Group("/"), hub, sessions, cfg.SessionCookie, cfg.AllowedOrigin)

	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: router}

	go func() {
		log.WithField("addr", cfg.Addr).Info("chat server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown")
	}
	log.Info("server exited")
}

func newLogger(cfg config.Config) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{})
	}
	return log
}

func openDB(cfg config.Config) (*sql.DB, func() error, error) {
	if cfg.DBDriver == directory.DriverPostgres {
		conn, err := postgres.New(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return conn.Db, conn.Migrate, nil
	}
	conn, err := sqlite.New(cfg.SQLiteDSN)
	if err != nil {
		return nil, nil, err
	}
	return conn.Db, conn.Migrate, nil
}

func openRedis(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
