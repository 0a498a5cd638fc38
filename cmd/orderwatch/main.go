// Package main is a command-line watcher for a placed order. It polls the
// order status at the configured interval and, if a payment deadline is
// given, cancels the order when the countdown runs out. The storefront runs
// the same loop in the browser; this tool covers scripted checkouts.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/client"
	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/config"
	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/model"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	kindFlag := flag.String("kind", "tool", "order kind: tool or course")
	idFlag := flag.Int64("id", 0, "order id")
	cookieFlag := flag.String("cookie", "", "signed identity cookie value")
	deadlineFlag := flag.Duration("deadline", 0, "payment countdown; 0 polls without cancelling")

	// Registers the shared flags and calls flag.Parse; RUN_ADDRESS here is
	// the address of the order API to watch.
	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	kind, ok := model.ParseOrderKind(*kindFlag)
	if !ok {
		sugar.Fatalw("unknown order kind", "kind", *kindFlag)
	}
	if *idFlag <= 0 {
		sugar.Fatal("order id is required")
	}

	c := client.New("http://"+cfg.RunAddress, cfg.PollInterval, logger)
	if *cookieFlag != "" {
		c.SetIdentity(&http.Cookie{Name: "identity_token", Value: *cookieFlag})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var status model.OrderStatus
	if *deadlineFlag > 0 {
		status, err = c.WatchDeadline(ctx, kind, *idFlag, time.Now().Add(*deadlineFlag))
	} else {
		status, err = c.PollStatus(ctx, kind, *idFlag)
	}
	if err != nil {
		sugar.Fatalw("watch order", "error", err.Error())
	}

	sugar.Infow("order reached terminal status", "kind", kind, "orderID", *idFlag, "status", status)
}
