package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"studyshare/internal/app"
	"studyshare/internal/config"
	"studyshare/internal/ratelimit"
	"studyshare/internal/server"
	"studyshare/internal/sms"
	"studyshare/internal/util"
	"studyshare/pkg/auth"
	"studyshare/pkg/storage"
	"studyshare/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session ttl: %v", err)
	}
	otpTTL, err := config.ParseOTPTTL(cfg.OTPTTL)
	if err != nil {
		log.Fatalf("failed to parse otp ttl: %v", err)
	}
	otpResendAfter, err := config.ParseOTPResendAfter(cfg.OTPResendAfter)
	if err != nil {
		log.Fatalf("failed to parse otp resend cooldown: %v", err)
	}

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	blobs, err := newBlobStore(cfg)
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}

	tokens, err := auth.NewTokenIssuer(cfg.SessionSecret, sessionTTL)
	if err != nil {
		log.Fatalf("failed to init token issuer: %v", err)
	}

	var (
		otpLimiter  *ratelimit.FixedWindowLimiter
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		limit := cfg.OTPSendLimitPerHour
		if limit <= 0 {
			limit = 5
		}
		otpLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "studyshare:ratelimit", limit, time.Hour)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
	}

	appCore, err := app.New(app.Options{
		Store:             st,
		Blobs:             blobs,
		Tokens:            tokens,
		SMS:               sms.LogSender{},
		AdminPasswordHash: cfg.AdminPasswordHash,
		OTPTTL:            otpTTL,
		OTPResendAfter:    otpResendAfter,
		OTPSendLimiter:    otpLimiter,
		Redis:             redisClient,
		DevEchoOTP:        cfg.DevEchoOTP,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		MaxUploadBytes: cfg.MaxUploadBytes,
		TrustedProxies: cfg.TrustedProxies,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("studyshare server listening", "addr", addr, "storage", cfg.StorageBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func newBlobStore(cfg config.FileConfig) (storage.BlobStore, error) {
	if cfg.StorageBackend == "minio" {
		return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	}
	return storage.NewFileStore(cfg.DataDir)
}
