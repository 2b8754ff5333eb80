package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/LeonAdeoye/query-service/internal/cli/querysvcctl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := querysvcctl.Run(ctx, os.Args[1:], querysvcctl.Options{
		BaseURL:  os.Getenv("QUERYSVC_CTL_BASE_URL"),
		APIKey:   os.Getenv("QUERYSVC_CTL_API_KEY"),
		ClientID: os.Getenv("QUERYSVC_CTL_CLIENT_ID"),
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	})
	os.Exit(code)
}
