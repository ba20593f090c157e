package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"chord-discord-bot/bot"
	"chord-discord-bot/config"
	"chord-discord-bot/music/cache"
	"chord-discord-bot/storage"
	"chord-discord-bot/utils"
)

const shutdownTimeout = 15 * time.Second

func main() {
	registerCommands := flag.Bool("register-commands", false, "Register bot commands with Discord (cleans up existing commands first)")
	flag.Parse()

	bot.SetShouldRegisterCommands(*registerCommands)

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	if err := utils.InitLogger(cfg.LogDir, utils.GetLogLevelFromString(cfg.LogLevel)); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer utils.CloseLogger()

	store, err := storage.Open(filepath.Join(cfg.DataDir, "chord.db"))
	if err != nil {
		utils.LogError("Failed to open database: %v", err)
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	fileCache, err := cache.New(cfg.CacheDir, cfg.CacheLimitBytes, store)
	if err != nil {
		utils.LogError("Failed to open file cache: %v", err)
		log.Fatalf("Failed to open file cache: %v", err)
	}

	b, err := bot.New(cfg, store, fileCache)
	if err != nil {
		log.Fatal(err)
	}

	b.Setup()

	if err := b.Start(); err != nil {
		utils.LogError("Error opening Discord connection: %v", err)
		log.Fatalf("Error opening Discord connection: %v", err)
	}

	fmt.Println("Bot is running. Press CTRL+C to exit.")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	fmt.Println("Gracefully shutting down.")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := b.Stop(ctx); err != nil {
		utils.LogError("Error during shutdown: %v", err)
	}
}
