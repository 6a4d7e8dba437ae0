package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Cashkid12/Mkulima-net-sub003/internal/chat"
	"github.com/Cashkid12/Mkulima-net-sub003/internal/config"
	"github.com/Cashkid12/Mkulima-net-sub003/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)

	client, err := chat.New(cfg, func(conversationID string) {
		logger.L.Info("conversation opened", "conversation_id", conversationID)
	})
	if err != nil {
		logger.L.Error("failed to build chat client", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Run(ctx); err != nil {
		logger.L.Error("failed to start chat client", "error", err)
		os.Exit(1)
	}
	logger.L.Info("chat client running",
		"conversations", len(client.Conversations()),
		"unread", client.TotalUnread(),
		"state", client.ConnState())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	client.Close()
	logger.L.Info("chat client stopped")
}
