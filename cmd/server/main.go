package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flashquiz/relay/internal"
)

func main() {
	cfg := internal.LoadConfig()

	// 解析命令行參數，PORT 環境變數優先於 -port 預設值
	var (
		port      = flag.Int("port", cfg.Port, "服務器端口")
		logLevel  = flag.String("log-level", "info", "日誌級別 (debug, info, warn, error)")
		logFormat = flag.String("log-format", "text", "日誌格式 (text, json)")
	)
	flag.Parse()

	logger := setupLogger(*logLevel, *logFormat)

	// 房間登記表：process 內唯一的 roomCode -> Room 對照
	registry := internal.NewRegistry(logger)

	// 訊息分派器：解碼並路由所有已接受連線的訊框
	dispatcher := internal.NewDispatcher(registry, logger)

	// 連線層：接受 WebSocket upgrade、追蹤心跳、轉交訊框給 dispatcher
	hub := internal.NewHub(dispatcher.Dispatch, dispatcher.HandleDisconnect, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/health", internal.HandleHealth)
	mux.HandleFunc("/stats", internal.HandleStats(registry, hub))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("quiz relay server starting",
			"port", *port,
			"log_level", *logLevel,
			"log_format", *logFormat)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}

	// 先通知所有房間已終止，再關閉連線層，順序不可顛倒
	registry.Shutdown()
	hub.Stop()

	logger.Info("server shut down")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug",
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
