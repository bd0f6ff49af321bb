// Command local serves the chat page over plain HTTP with in-process
// session state.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"cepal-chatbot/handler"
	"cepal-chatbot/internal/integrations/groq"
	"cepal-chatbot/internal/integrations/paramstore"
	"cepal-chatbot/internal/repository"
	"cepal-chatbot/internal/server"
	"cepal-chatbot/internal/usecase"
)

const paramPrefix = "/cepal-chatbot"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	port := envString("PORT", "8501")
	model := os.Getenv("LLM_MODEL")
	baseURL := envString("LLM_BASE_URL", groq.DefaultBaseURL)
	llmTimeout := time.Duration(envInt("LLM_TIMEOUT_SECONDS", 60)) * time.Second

	secrets := paramstore.NewEnvGetter(map[string]string{
		paramPrefix + "/groq-api-key": "GROQ_API_KEY",
	})
	llmClient, err := groq.NewClient(secrets, paramPrefix,
		groq.WithBaseURL(baseURL),
		groq.WithHTTPClient(&http.Client{Timeout: llmTimeout}),
	)
	if err != nil {
		logger.Error("failed to create LLM client", "err", err)
		os.Exit(1)
	}
	if err := llmClient.Warm(ctx); err != nil {
		logger.Error("GROQ_API_KEY is not set", "err", err)
		os.Exit(1)
	}

	agent, err := usecase.BuildAgent(llmClient, model)
	if err != nil {
		logger.Error("failed to build agent", "err", err)
		os.Exit(1)
	}
	chatService, err := usecase.NewChatService(repository.NewMemoryStore(), agent)
	if err != nil {
		logger.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}
	h, err := handler.NewHandler(chatService, handler.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	addr := ":" + port
	logger.Info("serving chat", "addr", addr, "model", agent.Model())
	if err := server.Run(ctx, addr, server.NewRouter(h, logger)); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
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
