package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "mixersync",
		Short:        "Privacy pool event mirror and relay client",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	syncCmd := &cobra.Command{
		Use:   "sync <deposit|withdrawal> <currency> <amount>",
		Short: "Synchronize one event cache to the chain head",
		Args:  cobra.ExactArgs(3),
		RunE:  runSync,
	}
	addChainFlags(syncCmd)
	root.AddCommand(syncCmd)

	checkRootCmd := &cobra.Command{
		Use:   "check-root <currency> <amount>",
		Short: "Rebuild the deposit tree and check its root against the contract",
		Args:  cobra.ExactArgs(2),
		RunE:  runCheckRoot,
	}
	addChainFlags(checkRootCmd)
	root.AddCommand(checkRootCmd)

	updateAllCmd := &cobra.Command{
		Use:   "update-all",
		Short: "Refresh every configured pool, resetting caches with an unknown root",
		Args:  cobra.NoArgs,
		RunE:  runUpdateAll,
	}
	addChainFlags(updateAllCmd)
	root.AddCommand(updateAllCmd)

	findLeafCmd := &cobra.Command{
		Use:   "find-leaf <currency> <amount> <commitment>",
		Short: "Print the leaf index and inclusion path of a commitment",
		Args:  cobra.ExactArgs(3),
		RunE:  runFindLeaf,
	}
	addChainFlags(findLeafCmd)
	root.AddCommand(findLeafCmd)

	findWithdrawalCmd := &cobra.Command{
		Use:   "find-withdrawal <currency> <amount> <nullifier-hash>",
		Short: "Look a nullifier hash up in the withdrawal mirror",
		Args:  cobra.ExactArgs(3),
		RunE:  runFindWithdrawal,
	}
	addChainFlags(findWithdrawalCmd)
	root.AddCommand(findWithdrawalCmd)

	relayStatusCmd := &cobra.Command{
		Use:   "relay-status <url>",
		Short: "Fetch and print a relay's status",
		Args:  cobra.ExactArgs(1),
		RunE:  runRelayStatus,
	}
	relayStatusCmd.Flags().Uint64("net-id", 0, "expected network id, 0 skips the check")
	relayStatusCmd.Flags().Duration("http-timeout", 30*time.Second, "relay request timeout")
	relayStatusCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(relayStatusCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addChainFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "RPC URL")
	cmd.Flags().Uint64("net-id", 0, "network id, 0 reads it from the RPC")
	cmd.Flags().String("network-name", "", "cache directory name, defaults to the network's name")
	cmd.Flags().String("subgraph", "", "subgraph GraphQL endpoint")
	cmd.Flags().String("cache-dir", "./cache", "event cache directory")
	cmd.Flags().String("storage", "file", "event store backend (file, postgres)")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().Uint64("chunk-size", 10000, "blocks per log query")
	cmd.Flags().Int("page-size", 1000, "records per subgraph page")
	cmd.Flags().Bool("only-rpc", false, "skip the subgraph and scan the chain")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().Duration("rpc-timeout", 60*time.Second, "RPC call timeout")
	cmd.Flags().Duration("http-timeout", 30*time.Second, "subgraph request timeout")
	cmd.Flags().Int("merkle-tree-height", 20, "merkle tree height")
	cmd.Flags().String("merkle-hasher", "mimcsponge", "merkle node hash (mimcsponge, mimc)")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
