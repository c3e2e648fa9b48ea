package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/abhinav118/avatar-stream-vibe/internal/config"
	"github.com/abhinav118/avatar-stream-vibe/internal/logging"
	avatarmodel "github.com/abhinav118/avatar-stream-vibe/internal/model/avatar"
	"github.com/abhinav118/avatar-stream-vibe/internal/model/role"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/avatar"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/secret"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/transcription"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("配置加载失败")
	}
	cfg.Log.Format = "console"
	logger := logging.New(cfg.Log)
	if envErr != nil {
		logger.Warn().Err(envErr).Msg("无法加载 .env，改用系统环境变量")
	}

	mode := flag.String("mode", "", "测试模式: token, session 或 transcribe")
	roleID := flag.String("role", role.DefaultID, "session 模式使用的角色 ID")
	text := flag.String("text", "Hello, this is a connectivity check.", "session 模式让数字人说的文本")
	hold := flag.Duration("hold", 5*time.Second, "session 模式说完后保持会话的时间")
	audioPath := flag.String("audio", "", "transcribe 模式的音频文件路径")
	apiKey := flag.String("openai-key", os.Getenv("OPENAI_API_KEY"), "transcribe 模式使用的 OpenAI API Key")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "token":
		runToken(ctx, cfg, logger)
	case "session":
		runSession(ctx, cfg, logger, *roleID, *text, *hold)
	case "transcribe":
		runTranscribe(ctx, cfg, logger, *audioPath, *apiKey)
	default:
		flag.Usage()
		logger.Fatal().Msg("请通过 -mode=token|session|transcribe 指定测试模式")
	}
}

func newProvider(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *avatar.Client {
	if !cfg.Avatar.Enabled() {
		logger.Fatal().Msg("数字人服务未配置，请设置 HEYGEN_API_KEY 或 HEYGEN_API_KEY_PARAM")
	}
	source, err := secret.NewSource(ctx, cfg.Avatar.APIKey, cfg.Avatar.APIKeyParam)
	if err != nil {
		logger.Fatal().Err(err).Msg("密钥来源初始化失败")
	}
	client, err := avatar.NewClient(source, avatar.WithBaseURL(cfg.Avatar.BaseURL), avatar.WithTimeout(cfg.Avatar.Timeout))
	if err != nil {
		logger.Fatal().Err(err).Msg("数字人客户端初始化失败")
	}
	return client
}

func runToken(ctx context.Context, cfg *config.Config, logger zerolog.Logger) {
	token, err := newProvider(ctx, cfg, logger).IssueToken(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("令牌签发失败")
	}
	logger.Info().Int("length", len(token)).Msg("令牌签发成功")
}

func runSession(ctx context.Context, cfg *config.Config, logger zerolog.Logger, roleID, text string, hold time.Duration) {
	selected, ok := role.NewMemoryStore(role.Seed()).FindByID(roleID)
	if !ok {
		logger.Fatal().Str("role", roleID).Msg("未知角色")
	}

	provider := newProvider(ctx, cfg, logger)
	token, err := provider.IssueToken(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("令牌签发失败")
	}

	session := provider.NewSession(token)
	for _, et := range []avatarmodel.EventType{
		avatarmodel.EventStreamReady, avatarmodel.EventStreamDisconnected,
		avatarmodel.EventUserStart, avatarmodel.EventUserStop,
		avatarmodel.EventAvatarStartTalking, avatarmodel.EventAvatarStopTalking,
	} {
		session.On(et, func(e avatarmodel.Event) {
			logger.Info().Str("event", string(e.Type)).Msg("收到数字人事件")
		})
	}

	info, err := session.CreateStartAvatar(ctx, avatarmodel.StartRequest{
		Quality:       cfg.Avatar.Quality,
		AvatarName:    selected.AvatarName,
		Language:      cfg.Avatar.Language,
		KnowledgeBase: selected.Prompt,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("会话启动失败")
	}
	logger.Info().Str("session_id", info.SessionID).Str("avatar", selected.AvatarName).Msg("会话已启动")

	defer func() {
		if err := session.StopAvatar(context.WithoutCancel(ctx)); err != nil {
			logger.Error().Err(err).Msg("会话关闭失败")
			return
		}
		logger.Info().Msg("会话已关闭")
	}()

	if err := session.Speak(ctx, avatarmodel.SpeakRequest{Text: text, TaskType: avatarmodel.TaskRepeat}); err != nil {
		logger.Error().Err(err).Msg("播报失败")
		return
	}

	select {
	case <-ctx.Done():
	case <-time.After(hold):
	}
}

func runTranscribe(ctx context.Context, cfg *config.Config, logger zerolog.Logger, audioPath, apiKey string) {
	if audioPath == "" {
		logger.Fatal().Msg("transcribe 模式需要通过 -audio 指定音频文件路径")
	}
	if strings.TrimSpace(apiKey) == "" {
		logger.Fatal().Msg("transcribe 模式需要 -openai-key 或 OPENAI_API_KEY")
	}

	file, err := os.Open(audioPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("打开音频文件失败")
	}
	defer file.Close()

	client := transcription.NewClient(
		transcription.WithBaseURL(cfg.Transcription.BaseURL),
		transcription.WithModel(cfg.Transcription.Model),
		transcription.WithLanguage(cfg.Transcription.Language),
	)

	started := time.Now()
	text, err := client.Transcribe(ctx, apiKey, file, filepath.Base(audioPath))
	if err != nil {
		logger.Fatal().Err(err).Msg("转写失败")
	}
	logger.Info().Str("text", text).Dur("elapsed", time.Since(started)).Msg("转写成功")
}
