package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mixerSync/internal/config"
	"mixerSync/internal/model"
	"mixerSync/internal/relay"
)

func withRuntime(cmd *cobra.Command, run func(ctx context.Context, rt *runtime) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := run(ctx, rt); err != nil {
		rt.logger.Error("command failed", zap.String("kind", model.ErrorKind(err)), zap.Error(err))
		return err
	}
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	kind, err := model.ParseEventKind(args[0])
	if err != nil {
		return err
	}
	return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
		key := rt.session.Key(kind, args[1], args[2])
		result, err := rt.session.Synchronize(ctx, key)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d events (+%d) up to block %d via %s\n",
			key, result.Events, result.Added, result.Head, result.Source)
		return nil
	})
}

func runCheckRoot(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
		check, err := rt.session.CheckRoot(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d leaves, root %s, known=%t\n",
			check.Key, check.Leaves, check.Root, check.Known)
		if !check.Known {
			return fmt.Errorf("%w: %s", model.ErrRootInvalid, check.Key)
		}
		return nil
	})
}

func runUpdateAll(cmd *cobra.Command, _ []string) error {
	return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
		reports, err := rt.session.RefreshAll(ctx)
		for _, report := range reports {
			status := "ok"
			if report.Err != nil {
				status = model.ErrorKind(report.Err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d deposits, %d withdrawals, reset=%t, %s\n",
				report.Currency, report.Amount, report.Deposits, report.Withdrawals, report.Reset, status)
		}
		return err
	})
}

func runFindLeaf(cmd *cobra.Command, args []string) error {
	commitment, err := model.ParseFieldElement(args[2])
	if err != nil {
		return err
	}
	return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
		event, found, err := rt.session.FindDeposit(ctx, args[0], args[1], commitment)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", model.ErrLeafNotFound, args[2])
		}

		tree, err := rt.session.Tree(ctx, rt.session.Key(model.KindDeposit, args[0], args[1]))
		if err != nil {
			return err
		}
		elements, indices, err := tree.Path(int(event.LeafIndex))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "leaf %d in block %d (tx %s)\n", event.LeafIndex, event.BlockNumber, event.TransactionHash)
		fmt.Fprintf(out, "root %s\n", tree.Root())
		for level := range elements {
			fmt.Fprintf(out, "%2d %d %s\n", level, indices[level], elements[level])
		}
		return nil
	})
}

func runFindWithdrawal(cmd *cobra.Command, args []string) error {
	nullifierHash, err := model.ParseFieldElement(args[2])
	if err != nil {
		return err
	}
	return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
		event, found, err := rt.session.FindWithdrawal(ctx, args[0], args[1], nullifierHash)
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintln(cmd.OutOrStdout(), "no withdrawal found")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "withdrawn in block %d (tx %s) to %s, fee %s\n",
			event.BlockNumber, event.TransactionHash, event.To, event.Fee)
		return nil
	})
}

func runRelayStatus(cmd *cobra.Command, args []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := relay.NewClient(args[0], relayConfig(cfg), relay.Deps{Logger: logger})
	if err != nil {
		return err
	}
	status, err := client.Status(ctx)
	if err != nil {
		logger.Error("relay status failed", zap.String("kind", model.ErrorKind(err)), zap.Error(err))
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "relay:          %s\n", client.BaseURL())
	fmt.Fprintf(out, "reward account: %s\n", status.RewardAccount)
	fmt.Fprintf(out, "network:        %s\n", status.NetID)
	fmt.Fprintf(out, "service fee:    %s%%\n", status.ServiceFee)
	for currency, price := range status.EthPrices {
		fmt.Fprintf(out, "price %-9s %s wei\n", strings.ToUpper(currency)+":", price)
	}

	if cfg.NetID != 0 && !status.NetID.Accepts(cfg.NetID) {
		return fmt.Errorf("%w: relay serves %s, expected %d", model.ErrRelayNetworkMismatch, status.NetID, cfg.NetID)
	}
	return nil
}

func relayConfig(cfg config.Config) relay.Config {
	return relay.Config{
		PollInterval:    cfg.PollInterval,
		PollTimeout:     cfg.PollTimeout,
		ReceiptAttempts: cfg.ReceiptAttempts,
		ReceiptDelay:    cfg.ReceiptDelay,
		HTTPTimeout:     cfg.HTTPTimeout,
	}
}
