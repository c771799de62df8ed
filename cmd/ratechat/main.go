package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"ratechat-backend/internal/auth"
	"ratechat-backend/internal/config"
	"ratechat-backend/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var (
		serverURL string
		threadID  string
		token     string
		cfgPath   string
		logPath   string
	)
	flag.StringVar(&serverURL, "server", envOr("RATECHAT_SERVER", "http://localhost:3001"), "Backend base URL")
	flag.StringVar(&threadID, "thread", os.Getenv("RATECHAT_THREAD"), "Conversation thread id (server default when empty)")
	flag.StringVar(&token, "token", os.Getenv("RATECHAT_TOKEN"), "Bearer token; minted from JWT_SECRET when empty")
	flag.StringVar(&cfgPath, "config", os.Getenv("CONFIG_FILE"), "YAML file with sample_questions (optional)")
	flag.StringVar(&logPath, "log", "ratechat.log", "Log file")
	flag.Parse()

	// The terminal belongs to the UI, so logs go to a file.
	logFile, err := tea.LogToFile(logPath, "ratechat")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	assistant, err := config.LoadAssistantFile(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if token == "" {
		if secret := os.Getenv("JWT_SECRET"); secret != "" {
			token, err = auth.NewAccessToken(uuid.New(), secret, 12*time.Hour)
			if err != nil {
				log.Fatalf("failed to mint development token: %v", err)
			}
			log.Println("[ChatClient] using a development token minted from JWT_SECRET")
		}
	}

	client := tui.NewClient(serverURL, token, nil)
	m := tui.New(client, threadID, assistant.SampleQuestions)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		log.Fatal(err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
