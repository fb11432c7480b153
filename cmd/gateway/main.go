package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/lk2023060901/danmu-garden-gateway/application"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := application.New()
	if err := app.Run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gateway exited: %v\n", err)
		_ = log.Sync()
		os.Exit(1)
	}
	_ = log.Sync()
}
