// Command chainpay estimates fees and sends payments on the networks described by a
// YAML config file.
//
//	chainpay -network base fee
//	chainpay -network bitcoin send -wait bc1q... 0.01
//	chainpay -network bitcoin send-many payouts.csv
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/sigweihq/chainpay/pkg/config"
	"github.com/sigweihq/chainpay/pkg/dispatch"
	"github.com/sigweihq/chainpay/pkg/processor"
	"github.com/sigweihq/chainpay/pkg/types"
)

const usage = `usage: chainpay [flags] <command> [args]

commands:
  fee                        suggest fees for the network
  send [-wait] <to> <amount> send one payment
  send-many <file.csv|->     send address,amount[,id] rows in batches

flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	flags := flag.NewFlagSet("chainpay", flag.ContinueOnError)
	configPath := flags.String("config", "chainpay.yaml", "path to the YAML config")
	envFile := flags.String("env", ".env", "dotenv file loaded before the config is expanded")
	network := flags.String("network", "", "network to operate on")
	flags.Usage = func() {
		fmt.Fprint(flags.Output(), usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 || *network == "" {
		flags.Usage()
		return errors.New("a network and a command are required")
	}

	// Load .env; a missing file is fine
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))

	networkCfg, ok := cfg.Network(*network)
	if !ok {
		return fmt.Errorf("network %s is not configured", *network)
	}
	if err := initChains(ctx, cfg, logger); err != nil {
		return err
	}
	p := processor.NewPaymentProcessor(nil, cfg.ProcessorConfig(logger), logger)
	unlock := dispatch.Unlock{Passphrase: networkCfg.WalletPassphrase}

	cmdArgs := flags.Args()[1:]
	switch command := flags.Arg(0); command {
	case "fee":
		quote, err := p.SuggestFees(ctx, *network)
		if err != nil {
			return err
		}
		return writeJSON(stdout, quote)

	case "send":
		return runSend(ctx, p, *network, unlock, cmdArgs, stdout, logger)

	case "send-many":
		return runSendMany(ctx, p, *network, unlock, cmdArgs, stdin, stdout, logger)

	default:
		flags.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func runSend(ctx context.Context, p *processor.PaymentProcessor, network string, unlock dispatch.Unlock, args []string, stdout io.Writer, logger *slog.Logger) error {
	flags := flag.NewFlagSet("send", flag.ContinueOnError)
	wait := flags.Bool("wait", false, "wait for one confirmation")
	id := flags.String("id", "", "caller reference reported with events")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 2 {
		return errors.New("send needs <to> <amount>")
	}
	amount, err := decimal.NewFromString(flags.Arg(1))
	if err != nil {
		return fmt.Errorf("invalid amount %q", flags.Arg(1))
	}

	payment := types.Payment{Address: flags.Arg(0), Amount: amount, ID: *id}
	txid, err := p.SendOne(ctx, network, payment, &dispatch.SingleOptions{
		Unlock:              unlock,
		WaitForConfirmation: *wait,
		Sink:                logSink(logger),
	})
	if err != nil {
		return err
	}
	return writeJSON(stdout, map[string]string{"network": network, "txid": txid})
}

func runSendMany(ctx context.Context, p *processor.PaymentProcessor, network string, unlock dispatch.Unlock, args []string, stdin io.Reader, stdout io.Writer, logger *slog.Logger) error {
	if len(args) != 1 {
		return errors.New("send-many needs a CSV file, or - for stdin")
	}
	in := stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	payments, err := readPayments(in)
	if err != nil {
		return err
	}

	results, err := p.SendMany(ctx, network, payments, &dispatch.BatchOptions{
		Unlock: unlock,
		Sink:   logSink(logger),
	})
	if err != nil {
		return err
	}
	return writeJSON(stdout, toOutputs(results))
}

// logSink reports dispatch progress on the log
func logSink(logger *slog.Logger) types.EventSink {
	return types.EventSinkFunc(func(e types.Event) {
		attrs := []any{"event", e.Kind}
		if e.Address != "" {
			attrs = append(attrs, "address", e.Address, "amount", e.Amount.String())
		}
		if e.TxID != "" {
			attrs = append(attrs, "txid", e.TxID)
		}
		if e.Error != nil {
			logger.Warn("payment event", append(attrs, "error", e.Error)...)
			return
		}
		logger.Info("payment event", attrs...)
	})
}
