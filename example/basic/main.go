package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	compteur "github.com/Apsharan/Compteur"
)

func main() {
	cfg, err := compteur.LoadConfig("../../config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	rt, err := compteur.New(cfg)
	if err != nil {
		log.Fatalf("build relay: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil {
		log.Fatalf("relay exited: %v", err)
	}
}
