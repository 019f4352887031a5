package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"github.com/Shinku1014/metro-card-bot/internal/bot"
	"github.com/Shinku1014/metro-card-bot/internal/config"
	"github.com/Shinku1014/metro-card-bot/internal/ledger"
	"github.com/Shinku1014/metro-card-bot/internal/scanner"
	"github.com/Shinku1014/metro-card-bot/internal/store"
)

func main() {
	cfg := config.MustLoad()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("bot init: %v", err)
	}
	botAPI.Debug = false

	st := store.New(cfg.DataFile)
	ldg := ledger.New(st)
	h := bot.NewHandler(botAPI, cfg, ldg)

	// Graceful shutdown
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	setCommands(botAPI)

	// Checkout-timeout reminders
	sc := scanner.New(ldg, bot.NewReminderNotifier(botAPI), cfg.CheckoutTimeout)
	go sc.Run(ctx, cfg.ScanInterval)
	log.Infof("timeout reminder scanner started (threshold: %s)", cfg.CheckoutTimeout)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := botAPI.GetUpdatesChan(u)

	log.Infof("Metro Card Bot started as @%s", botAPI.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown")
			return
		case upd := <-updates:
			h.HandleUpdate(ctx, upd)
		}
	}
}

func setCommands(api *tgbotapi.BotAPI) {
	cmds := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "start", Description: "显示主菜单"},
		tgbotapi.BotCommand{Command: "cards", Description: "查看所有卡片"},
		tgbotapi.BotCommand{Command: "reset", Description: "重置所有卡片状态为「空闲」"},
		tgbotapi.BotCommand{Command: "help", Description: "显示帮助信息"},
	)
	if _, err := api.Request(cmds); err != nil {
		log.Errorf("set commands: %v", err)
	}
}
