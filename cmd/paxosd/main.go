// Command paxosd embeds a single Paxos replica in a standalone
// process: it parses CLI flags, wiring them into
// a replica so the consensus core can be exercised end to end.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quorum/paxos/internal/paxos"
	"github.com/quorum/paxos/internal/replica"
)

type rootFlags struct {
	id       string
	address  string
	peers    string
	stateDir string
	verbose  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "paxosd",
		Short:         "Run one replica of a single-decree Paxos cluster",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.id, "id", "", "unique id for this replica (required)")
	root.PersistentFlags().StringVar(&flags.address, "address", "", "this replica's own host:port (required)")
	root.PersistentFlags().StringVar(&flags.peers, "peers", "", "comma-separated host:port list, including --address (required)")
	root.PersistentFlags().StringVar(&flags.stateDir, "state-dir", ".", "directory holding this replica's durable state file")
	root.PersistentFlags().BoolVar(&flags.verbose, "verbose", false, "enable debug logging")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newProposeCmd(flags))
	return root
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "" // keep local demo runs terse
	return cfg.Build()
}

func newReplica(flags *rootFlags) (*replica.Replica, *zap.Logger, error) {
	if flags.id == "" || flags.address == "" || flags.peers == "" {
		return nil, nil, fmt.Errorf("--id, --address and --peers are all required")
	}

	logger, err := buildLogger(flags.verbose)
	if err != nil {
		return nil, nil, err
	}

	peers := strings.Split(flags.peers, ",")
	for i := range peers {
		peers[i] = strings.TrimSpace(peers[i])
	}

	r, err := replica.New(replica.Config{
		ID:       flags.id,
		Address:  flags.address,
		Peers:    peers,
		StateDir: flags.stateDir,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return r, logger, nil
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start this replica's acceptor and block, serving peer RPCs",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, logger, err := newReplica(flags)
			if err != nil {
				return err
			}
			defer r.Close()
			defer logger.Sync() //nolint:errcheck

			waitForSignal()
			logger.Info("shutting down")
			return nil
		},
	}
}

func newProposeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "propose [value]",
		Short: "Start this replica, propose value, print the outcome, then keep serving",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, logger, err := newReplica(flags)
			if err != nil {
				return err
			}
			defer r.Close()
			defer logger.Sync() //nolint:errcheck

			chosen, err := r.Propose(context.Background(), []byte(args[0]))
			var pe *paxos.ProposeError
			switch {
			case err == nil:
				fmt.Printf("chosen: %q\n", chosen)
			case errors.As(err, &pe) && pe.Kind == paxos.ValueAlreadyChosen:
				fmt.Printf("a different value was already chosen: %q\n", pe.Value)
			default:
				fmt.Printf("propose failed: %v\n", err)
			}

			waitForSignal()
			logger.Info("shutting down")
			return nil
		},
	}
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
}
