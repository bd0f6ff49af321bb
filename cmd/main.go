package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"cepal-chatbot/handler"
	"cepal-chatbot/internal/integrations/groq"
	"cepal-chatbot/internal/integrations/paramstore"
	"cepal-chatbot/internal/repository"
	"cepal-chatbot/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	model := os.Getenv("LLM_MODEL")
	baseURL := envString("LLM_BASE_URL", groq.DefaultBaseURL)
	llmTimeout := time.Duration(envInt("LLM_TIMEOUT_SECONDS", 60)) * time.Second
	sessionTTL := time.Duration(envInt("SESSION_TTL_HOURS", 24)) * time.Hour

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	stateClient, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable, repository.WithTTL(sessionTTL))
	if err != nil {
		slog.Error("failed to create state client", "err", err)
		os.Exit(1)
	}

	llmClient, err := groq.NewClient(ssmClient, paramPrefix,
		groq.WithBaseURL(baseURL),
		groq.WithHTTPClient(&http.Client{Timeout: llmTimeout}),
	)
	if err != nil {
		slog.Error("failed to create LLM client", "err", err)
		os.Exit(1)
	}
	if err := llmClient.Warm(ctx); err != nil {
		slog.Error("failed to load LLM API key", "parameter", llmClient.TokenParameterName(), "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	agent, err := usecase.BuildAgent(llmClient, model)
	if err != nil {
		slog.Error("failed to build agent", "err", err)
		os.Exit(1)
	}
	chatService, err := usecase.NewChatService(stateClient, agent)
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(chatService,
		handler.WithSecureCookies(true),
		handler.WithSessionTTL(sessionTTL),
	)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	slog.Info("chat agent ready", "model", agent.Model(), "table", stateTable)
	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envString(key, def string) string {
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
	if err != nil || n <= 0 {
		return def
	}
	return n
}
