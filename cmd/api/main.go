package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/abhinav118/avatar-stream-vibe/internal/config"
	"github.com/abhinav118/avatar-stream-vibe/internal/handler"
	avatarhandler "github.com/abhinav118/avatar-stream-vibe/internal/handler/avatar"
	"github.com/abhinav118/avatar-stream-vibe/internal/logging"
	"github.com/abhinav118/avatar-stream-vibe/internal/model/role"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/ai"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/avatar"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/chat"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/credential"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/notify"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/secret"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/session"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/transcription"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(cfg.Log)
	if envErr != nil {
		logger.Warn().Err(envErr).Msg("failed to load .env file, continuing with system environment variables only")
	}

	roles := role.NewMemoryStore(role.Seed())
	chatService := chat.NewService()
	broker := notify.NewBroker()

	credentials, err := newCredentialStore(cfg.Credentials)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize credential store")
	}
	defer func() { _ = credentials.Close() }()

	deps := session.Deps{
		Transcriber: transcription.NewClient(
			transcription.WithBaseURL(cfg.Transcription.BaseURL),
			transcription.WithModel(cfg.Transcription.Model),
			transcription.WithLanguage(cfg.Transcription.Language),
			transcription.WithHTTPClient(&http.Client{Timeout: cfg.Transcription.Timeout}),
		),
		Credentials: credentials,
		Chat:        chatService,
		Roles:       roles,
		Events:      broker,
		Logger:      logger,
	}

	// 接口值不能持有 nil 指针，未配置时保持 nil
	var tokens avatarhandler.TokenIssuer
	if cfg.Avatar.Enabled() {
		provider, err := newAvatarClient(ctx, cfg.Avatar)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize avatar provider")
		}
		deps.Provider = provider
		tokens = provider
		logger.Info().Str("quality", string(cfg.Avatar.Quality)).Msg("avatar provider initialized")
	} else {
		logger.Warn().Msg("HEYGEN_API_KEY / HEYGEN_API_KEY_PARAM 未配置，数字人会话不可用")
	}

	if cfg.AI.Enabled() {
		responder, err := newResponder(ctx, cfg.AI, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize responder, continuing with placeholder replies")
		} else {
			deps.Responder = responder
			logger.Info().Str("model", cfg.AI.Model).Msg("responder initialized")
		}
	} else {
		logger.Info().Msg("Ark 凭证未配置，使用占位回复")
	}

	manager := session.NewManager(session.ManagerDeps{
		Deps:    deps,
		Logs:    chatService,
		Secrets: credentials,
		Streams: broker,
	}, session.Options{
		Quality:         cfg.Avatar.Quality,
		Language:        cfg.Avatar.Language,
		TextReplyDelay:  cfg.Chat.TextReplyDelay,
		VoiceReplyDelay: cfg.Chat.VoiceReplyDelay,
		ReplyTimeout:    cfg.AI.Timeout,
	})

	router := handler.NewRouter(handler.Services{
		Roles:          roles,
		Tokens:         tokens,
		Visitors:       manager,
		Credentials:    credentials,
		Transcripts:    chatService,
		Events:         broker,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	startServer(ctx, cfg.Server, router, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	manager.Shutdown(shutdownCtx)
	logger.Info().Msg("visitor sessions released")
}

func newCredentialStore(cfg config.CredentialConfig) (credential.Store, error) {
	if cfg.Driver == string(credential.StoreTypeRedis) {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return credential.NewStore(credential.StoreTypeRedis, credential.WithRedisClient(client), credential.WithTTL(cfg.TTL))
	}
	return credential.NewStore(credential.StoreTypeMemory, credential.WithTTL(cfg.TTL))
}

// newAvatarClient 优先使用环境变量中的密钥，否则从 SSM 参数读取。
func newAvatarClient(ctx context.Context, cfg config.AvatarConfig) (*avatar.Client, error) {
	source, err := secret.NewSource(ctx, cfg.APIKey, cfg.APIKeyParam)
	if err != nil {
		return nil, err
	}
	return avatar.NewClient(source,
		avatar.WithBaseURL(cfg.BaseURL),
		avatar.WithTimeout(cfg.Timeout),
	)
}

func newResponder(ctx context.Context, cfg config.AIConfig, logger zerolog.Logger) (*ai.Responder, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, err
	}
	return ai.NewResponder(ctx, chatModel, logger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger zerolog.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", addr).Msg("avatar stream backend listening")
	if err := runServer(ctx, srv); err != nil {
		logger.Error().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
