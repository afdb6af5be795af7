// Command payflow drives one payment attempt end to end from the terminal:
// it creates the order, prints the UPI deep link for the user to pay,
// polls the order until it settles and activates the subscription.
// Ctrl-C cancels the attempt in flight.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kelseyhightower/envconfig"

	"adspark/internal/common/money"
	"adspark/internal/payment"
	"adspark/internal/payment/flow"
	"adspark/internal/payment/gateway"
	"adspark/internal/payment/poller"
	"adspark/internal/payment/upi"
)

// Config holds CLI configuration
type Config struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"warn"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	// APIToken authenticates against the payment service.
	APIToken string `envconfig:"PAYMENT_API_TOKEN" default:"dev-token"`

	Gateway gateway.Config
	Poller  poller.Policy
}

func main() {
	subscriptionID := flag.String("subscription", "", "subscription id to pay for (required)")
	amountPaisa := flag.Int64("amount", 0, "amount in paisa (required)")
	flag.Parse()

	if *subscriptionID == "" || *amountPaisa <= 0 {
		flag.Usage()
		os.Exit(2)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	client := gateway.NewClient(cfg.Gateway, gateway.StaticToken(cfg.APIToken), logger)

	wallet := upi.WalletOpenerFunc(func(_ context.Context, link string) error {
		fmt.Println("Pay with any UPI app:")
		fmt.Println()
		fmt.Printf("  %s\n", link)
		fmt.Println()
		return nil
	})

	reporter := func(o flow.Outcome) {
		switch o.State {
		case flow.StateCompleted:
			fmt.Printf("Payment confirmed: order %s, payment %s\n", o.OrderID, o.PaymentID)
		case flow.StateIdle:
			fmt.Println("Payment attempt cancelled.")
		default:
			fmt.Printf("Payment did not complete: %v\n", o.Err)
		}
	}

	f := flow.New(client, wallet, cfg.Poller, reporter, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		f.Cancel()
	}()

	fmt.Printf("Creating payment order for subscription %s...\n", *subscriptionID)

	result, err := f.Run(context.Background(), *subscriptionID, money.Paisa(*amountPaisa))
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrCancelled):
			os.Exit(130)
		case errors.Is(err, payment.ErrTimeout), errors.Is(err, payment.ErrExhaustedAttempts):
			fmt.Fprintln(os.Stderr, "Gave up waiting for payment confirmation. If you completed the payment, it will be reconciled shortly.")
			os.Exit(1)
		default:
			fmt.Fprintf(os.Stderr, "payment failed: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("Subscription %s is active (receipt %s).\n", *subscriptionID, result.Order.Receipt)
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
