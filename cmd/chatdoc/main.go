package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/chatdochq/chatdoc/internal/api"
	"github.com/chatdochq/chatdoc/internal/chat"
	"github.com/chatdochq/chatdoc/internal/common"
	"github.com/chatdochq/chatdoc/internal/history"
	"github.com/chatdochq/chatdoc/internal/index"
	"github.com/chatdochq/chatdoc/internal/ingest"
	"github.com/chatdochq/chatdoc/internal/llm"
	"github.com/chatdochq/chatdoc/internal/retriever"
	"github.com/chatdochq/chatdoc/internal/vector"
)

func main() {
	logger := common.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := godotenv.Load(); err != nil {
		logger.Warn("chatdoc: .env file not loaded", "error", err)
	} else {
		logger.Info("chatdoc: environment loaded from .env")
	}

	addr := flag.String("addr", ":8080", "listen address")
	uploadRoot := flag.String("upload-root", api.DefaultConfig().UploadRoot, "directory for in-flight document uploads")
	historyPath := flag.String("history", "", "path to the SQLite history database (overrides CHATDOC_HISTORY_PATH)")
	chunkSize := flag.Int("chunk-size", 0, "token chunk size for document splitting (overrides CHUNK_SIZE)")
	chunkOverlap := flag.Int("chunk-overlap", 0, "token overlap between chunks (overrides CHUNK_OVERLAP)")
	flag.Parse()

	logger.Info("chatdoc: startup initiated", "addr", *addr)

	store, err := vector.NewFromEnv(ctx)
	if err != nil {
		logger.Error("chatdoc: vector store initialization failed", "error", err)
		fmt.Println("vector store error:", err)
		os.Exit(1)
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		logger.Warn("chatdoc: vector store unreachable at startup", "error", err)
	}

	provider := llm.NewProvider()
	logger.Info("chatdoc: provider selected", "provider", provider.Name())

	retrCfg, err := retriever.LoadConfig()
	if err != nil {
		logger.Error("chatdoc: retriever config load failed", "error", err)
		fmt.Println("retriever config error:", err)
		os.Exit(1)
	}

	ingestCfg, err := ingest.LoadConfig()
	if err != nil {
		logger.Error("chatdoc: ingest config load failed", "error", err)
		fmt.Println("ingest config error:", err)
		os.Exit(1)
	}
	if *chunkSize > 0 {
		ingestCfg.ChunkSize = *chunkSize
	}
	if *chunkOverlap > 0 {
		ingestCfg.ChunkOverlap = *chunkOverlap
	}
	loader := ingest.NewLoader(ingestCfg)

	histCfg, err := history.LoadConfig()
	if err != nil {
		logger.Error("chatdoc: history config load failed", "error", err)
		fmt.Println("history config error:", err)
		os.Exit(1)
	}
	if trimmed := strings.TrimSpace(*historyPath); trimmed != "" {
		histCfg.Path = trimmed
	}
	hist, err := history.Open(histCfg)
	if err != nil {
		logger.Error("chatdoc: history store initialization failed", "error", err)
		fmt.Println("history store error:", err)
		os.Exit(1)
	}
	defer hist.Close()

	manager := index.NewManager(store, provider, retrCfg)
	retr := retriever.New(store, provider)
	bot := chat.NewBot(provider, manager, retr, hist)

	serverCfg := api.Config{UploadRoot: *uploadRoot}
	server, err := api.NewServer(manager, loader, bot, hist, store, &serverCfg)
	if err != nil {
		logger.Error("chatdoc: server initialization failed", "error", err)
		fmt.Println("server error:", err)
		os.Exit(1)
	}

	logger.Info("chatdoc: listening", "addr", *addr)
	if err := http.ListenAndServe(*addr, server); err != nil {
		logger.Error("chatdoc: server stopped", "error", err)
		fmt.Println("server error:", err)
		os.Exit(1)
	}
}
