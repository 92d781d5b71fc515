package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"eartheater/server/application"
	"eartheater/server/domain"
	"eartheater/utils"

	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := utils.GetEnvDefault("ADDR", "localhost")
	port := utils.GetEnvDefault("PORT", "9090")
	lobbyID := utils.GetEnvDefault("LOBBY_ID", "")
	botCount, err := utils.GetEnvInt("BOT_COUNT", 2)
	if err != nil || botCount <= 0 {
		slog.Error("invalid BOT_COUNT", "value", botCount, "err", err)
		os.Exit(1)
	}
	tickHz, err := utils.GetEnvInt("TICK_HZ", application.DefaultTickHz)
	if err != nil || tickHz <= 0 {
		slog.Error("invalid TICK_HZ", "value", tickHz, "err", err)
		os.Exit(1)
	}
	codec, err := domain.NewCodec(utils.GetEnvDefault("CODEC", domain.CodecJSON))
	if err != nil {
		slog.Error("invalid CODEC", "err", err)
		os.Exit(1)
	}

	serverURL := fmt.Sprintf("ws://%s:%s/ws", addr, port)
	slog.Info("starting bots", "count", botCount, "server", serverURL, "lobbyID", lobbyID)

	if err := runBots(ctx, serverURL, codec, lobbyID, botCount, tickHz); err != nil && ctx.Err() == nil {
		slog.Error("bots stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("all bots stopped")
}

// runBots は bot を接続させます。lobbyID が空なら先頭の bot がロビーを作成し、
// 全員の参加を待って試合を開始します。
func runBots(ctx context.Context, serverURL string, codec domain.Codec, lobbyID string, botCount, tickHz int) error {
	owner := lobbyID == ""
	lobbyCh := make(chan string, 1)
	if !owner {
		lobbyCh <- lobbyID
	}
	var joined sync.WaitGroup
	joined.Add(botCount - 1)
	if !owner {
		joined.Add(1)
	}

	eg, ctx := errgroup.WithContext(ctx)
	for i := range botCount {
		eg.Go(func() error {
			logger := slog.With("botID", i)
			client, err := dialBot(ctx, serverURL, codec, logger)
			if err != nil {
				return err
			}
			defer client.close()

			readErr := make(chan error, 1)
			go func() { readErr <- client.readLoop(ctx) }()
			if err := client.waitWelcome(ctx); err != nil {
				return err
			}

			name := fmt.Sprintf("bot-%d", i)
			if i == 0 && owner {
				info, err := client.createLobby(ctx, name)
				if err != nil {
					return err
				}
				logger.InfoContext(ctx, "lobby created", "lobbyID", info.ID)
				lobbyCh <- info.ID
				joined.Wait()
				if err := client.startGame(ctx); err != nil {
					return err
				}
				logger.InfoContext(ctx, "game started", "lobbyID", info.ID)
			} else {
				id := <-lobbyCh
				lobbyCh <- id
				info, err := client.joinLobby(ctx, id, name)
				joined.Done()
				if err != nil {
					return err
				}
				logger.InfoContext(ctx, "lobby joined", "lobbyID", info.ID, "players", len(info.Players))
			}

			playErr := make(chan error, 1)
			go func() { playErr <- client.play(ctx, application.NewRuleBotController(nil), tickHz) }()
			select {
			case err := <-playErr:
				return err
			case err := <-readErr:
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("read: %w", err)
			}
		})
	}
	return eg.Wait()
}
