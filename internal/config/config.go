package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	BotToken        string
	DataFile        string
	CheckoutTimeout time.Duration
	ScanInterval    time.Duration
}

func MustLoad() Config {
	// .env is optional, real env vars win
	_ = godotenv.Load()

	bt := os.Getenv("BOT_TOKEN")
	if bt == "" {
		log.Fatal("BOT_TOKEN is required")
	}

	dataFile := os.Getenv("DATA_FILE")
	if dataFile == "" {
		dataFile = "./data/cards.json"
	}

	timeoutMin := envInt("CHECKOUT_TIMEOUT_MIN", 210)
	scanSec := envInt("SCAN_INTERVAL_SEC", 60)

	return Config{
		BotToken:        bt,
		DataFile:        dataFile,
		CheckoutTimeout: time.Duration(timeoutMin) * time.Minute,
		ScanInterval:    time.Duration(scanSec) * time.Second,
	}
}

func envInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		log.Warnf("%s: invalid value %q, using %d", name, raw, def)
		return def
	}
	return v
}
