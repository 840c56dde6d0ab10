package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/spiritbooking/config"
	"github.com/Domenick1991/spiritbooking/internal/bootstrap"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	log := bootstrap.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.NewDeps(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("init dependencies")
	}
	defer deps.Close()

	if err := bootstrap.Run(ctx, cfg, deps.Service, deps.Verifier, deps.Checks, log); err != nil {
		log.WithError(err).Error("server error")
		deps.Close()
		os.Exit(1)
	}
}
