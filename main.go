package main

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"stagehand/agent"
	"stagehand/channel"
	"stagehand/core"
	"stagehand/factories"
	"stagehand/orchestrator"
	openaillm "stagehand/services/openai/llm"
	"stagehand/slides"
	"stagehand/tools"
	"stagehand/transcript"
	"stagehand/voice"
)

func main() {
	if err := godotenv.Load(".env.local"); err != nil {
		core.GetLogger().With(map[string]any{"error": err}).Warn("No .env.local file found or failed to load")
	}

	logger := core.GetLogger()
	settings := loadSettingsFromEnv()

	apiKey := getEnv("OPENAI_API_KEY", "")
	if apiKey == "" {
		logger.Fatal("OPENAI_API_KEY is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	deck, err := slides.Load(settings.DeckPath, logger)
	if err != nil {
		logger.With(map[string]any{"path": settings.DeckPath, "error": err}).Fatal("failed to load slide deck")
	}

	archive := transcript.Empty()
	if settings.TranscriptSource != "" {
		archive, err = transcript.Load(settings.TranscriptSource, logger)
		if err != nil {
			logger.With(map[string]any{"path": settings.TranscriptSource, "error": err}).Warn("failed to load transcript archive, hints from prior session disabled")
			archive = transcript.Empty()
		}
	}

	sessionID := uuid.New().String()
	sessionLogger := logger.With(map[string]any{"session_id": sessionID})

	var recorder orchestrator.Recorder
	msgLogger, err := core.NewMessageLogger(settings.LogDir, sessionID, settings.DeckPath, sessionLogger)
	if err != nil {
		sessionLogger.With(map[string]any{"error": err}).Warn("failed to open session audit log, continuing without it")
	} else {
		recorder = msgLogger
	}

	llmService := openaillm.NewOpenAILLMService(settings.BuildLLMConfig(apiKey))
	if err := llmService.Init(ctx); err != nil {
		sessionLogger.With(map[string]any{"error": err}).Fatal("failed to initialize LLM service")
	}

	manager := channel.NewManager(sessionLogger)
	speaker := voice.NewLogSpeaker(sessionLogger)
	orch := orchestrator.New(settings.BuildOrchestratorConfig(), deck, archive, manager, speaker, recorder, sessionLogger)
	manager.SetHandler(orch)

	provider := tools.NewProvider(orch, sessionLogger)
	reasoner := agent.NewReasoner(settings.BuildAgentConfig(), llmService, provider, deck, sessionLogger)
	orch.SetRunner(reasoner)

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			sessionLogger.With(map[string]any{"error": err}).Warn("websocket upgrade failed")
			return
		}
		manager.Run(conn)
	})
	mux.HandleFunc("/utterance", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Text      string `json:"text"`
			Timestamp string `json:"timestamp,omitempty"`
		}
		if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if payload.Text == "" {
			http.Error(w, "text is required", http.StatusBadRequest)
			return
		}
		ts := time.Now()
		if payload.Timestamp != "" {
			if parsed, err := time.Parse(time.RFC3339, payload.Timestamp); err == nil {
				ts = parsed
			}
		}
		orch.SubmitUtterance(payload.Text, ts)
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: settings.ListenAddr, Handler: mux}
	go func() {
		sessionLogger.With(map[string]any{"addr": settings.ListenAddr}).Info("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sessionLogger.With(map[string]any{"error": err}).Error("server failed")
			cancel()
		}
	}()

	<-ctx.Done()
	sessionLogger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		sessionLogger.With(map[string]any{"error": err}).Warn("server shutdown failed")
	}

	orch.Close()
	if err := llmService.Cleanup(); err != nil {
		sessionLogger.With(map[string]any{"error": err}).Warn("LLM cleanup failed")
	}
	if msgLogger != nil {
		msgLogger.Close()
	}
}

// loadSettingsFromEnv loads SettingsConfig from file or SETTINGS_JSON_B64 env var.
func loadSettingsFromEnv() factories.SettingsConfig {
	var settings factories.SettingsConfig
	var err error

	if b64 := os.Getenv("SETTINGS_JSON_B64"); b64 != "" {
		data, decErr := base64.StdEncoding.DecodeString(b64)
		if decErr != nil {
			core.GetLogger().With(map[string]any{"error": decErr}).Error("failed to decode SETTINGS_JSON_B64")
			settings = factories.DefaultSettingsConfig()
		} else {
			settings, err = factories.SettingsConfigFromJSON(data)
			if err != nil {
				core.GetLogger().With(map[string]any{"error": err}).Error("failed to parse SETTINGS_JSON_B64")
				settings = factories.DefaultSettingsConfig()
			} else {
				core.GetLogger().Info("loaded settings from SETTINGS_JSON_B64")
			}
		}
		return settings
	}

	settingsPath := getEnv("SETTINGS_PATH", "./settings.json")
	settings, err = factories.SettingsConfigFromFile(settingsPath)
	if err != nil {
		core.GetLogger().With(map[string]any{"path": settingsPath, "error": err}).Warn("failed to load settings, using defaults")
		settings = factories.DefaultSettingsConfig()
	}
	return settings
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
