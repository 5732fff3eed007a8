package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"

	"audiocast/internal/app"
)

func main() {
	// Optional .env next to the binary; real env vars win.
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", defaultConfigPath(), "path to config file (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, stopReason(ctx))
}

func defaultConfigPath() string {
	if p := os.Getenv("AUDIOCAST_CONFIG"); p != "" {
		return p
	}
	return "./config.json"
}

func stopReason(ctx context.Context) app.StopReason {
	if ctx.Err() != nil {
		return app.StopSIGTERM
	}
	return app.StopAppStop
}
