package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"rental-agent/internal/integrations/avito"
	"rental-agent/internal/integrations/openai"
	"rental-agent/internal/integrations/paramstore"
	"rental-agent/internal/integrations/telegram"
	"rental-agent/internal/schedule"
	"rental-agent/internal/store"
	"rental-agent/internal/usecase"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// .env is optional; real deployments configure via the environment.
	_ = godotenv.Load()

	// ---- Configuration (read only here) ----
	paramPrefix := mustEnv("PARAM_PREFIX")
	avitoUserID := mustEnvInt64("AVITO_USER_ID")
	avitoClientID := mustEnv("AVITO_CLIENT_ID")
	telegramChatID := mustEnv("TELEGRAM_CHAT_ID")
	openaiModel := envStr("OPENAI_MODEL", "gpt-4o")
	secretsSource := envStr("SECRETS_SOURCE", "ssm")

	checkInterval := envInt("CHECK_INTERVAL_SECONDS", 60)
	followupInterval := envInt("FOLLOWUP_CHECK_INTERVAL_SECONDS", 30)
	recencyWindow := time.Duration(envInt("TIME_WINDOW_HOURS", 3)) * time.Hour
	maxHistory := envInt("MAX_MESSAGES_HISTORY", 30)

	window := schedule.Window{
		StartMinutes: envMinutes("WORK_HOUR_START", schedule.DefaultWindow.StartMinutes),
		EndMinutes:   envMinutes("WORK_HOUR_END", schedule.DefaultWindow.EndMinutes),
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// ---- Secrets ----
	var secrets interface {
		GetParameter(ctx context.Context, name string) (string, error)
	}
	switch secretsSource {
	case "env":
		secrets = paramstore.NewEnv()
	case "ssm":
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			logger.Error("failed to load AWS config", "err", err)
			os.Exit(1)
		}
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
		if err != nil {
			logger.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		secrets = ssmClient
	default:
		logger.Error("unknown SECRETS_SOURCE", "value", secretsSource)
		os.Exit(1)
	}

	// ---- Clients ----
	avitoClient, err := avito.NewClient(secrets, paramPrefix, avitoUserID, avitoClientID)
	if err != nil {
		logger.Error("failed to create avito client", "err", err)
		os.Exit(1)
	}
	openaiClient, err := openai.NewClient(secrets, paramPrefix, openaiModel)
	if err != nil {
		logger.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}
	telegramClient, err := telegram.NewClient(secrets, paramPrefix, telegramChatID)
	if err != nil {
		logger.Error("failed to create telegram client", "err", err)
		os.Exit(1)
	}

	// ---- Core ----
	st := store.New()
	scheduler := schedule.NewScheduler(window, avitoClient, usecase.NewHistoryProbe(avitoClient), st.Completed, st, logger)

	processor, err := usecase.NewProcessor(avitoClient, openaiClient, telegramClient, scheduler, st, recencyWindow, maxHistory, logger)
	if err != nil {
		logger.Error("failed to create processor", "err", err)
		os.Exit(1)
	}

	// ---- Scheduling ----
	runner := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := runner.AddFunc(fmt.Sprintf("@every %ds", checkInterval), func() {
		if err := processor.RunCycle(ctx); err != nil {
			logger.Error("poll cycle failed", "err", err)
		}
	}); err != nil {
		logger.Error("failed to schedule poll cycle", "err", err)
		os.Exit(1)
	}
	if _, err := runner.AddFunc(fmt.Sprintf("@every %ds", followupInterval), func() {
		scheduler.Tick(ctx, time.Now())
	}); err != nil {
		logger.Error("failed to schedule follow-up tick", "err", err)
		os.Exit(1)
	}

	logger.Info("rental agent started",
		"check_interval_s", checkInterval,
		"followup_interval_s", followupInterval,
		"recency_window", recencyWindow.String())

	// First cycle immediately; cron fires only after the first interval.
	if err := processor.RunCycle(ctx); err != nil {
		logger.Error("poll cycle failed", "err", err)
	}

	runner.Start()
	<-ctx.Done()

	stopCtx := runner.Stop()
	<-stopCtx.Done()
	logger.Info("rental agent stopped")
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func mustEnvInt64(key string) int64 {
	n, err := strconv.ParseInt(mustEnv(key), 10, 64)
	if err != nil {
		slog.Error("environment variable is not a number", "key", key)
		os.Exit(1)
	}
	return n
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// envMinutes parses an HH:MM clock value into minutes from midnight.
func envMinutes(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return def
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return def
	}
	return h*60 + m
}
