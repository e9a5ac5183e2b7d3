/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tebon/fabrictest/common/metadata"
	"github.com/tebon/fabrictest/internal/operations"
	"github.com/tebon/fabrictest/internal/operations/healthcheckers"
	"github.com/tebon/fabrictest/internal/scenario"
	"github.com/tebon/fabrictest/pkg/fab"
	"github.com/tedsuo/ifrit"
	"github.com/tedsuo/ifrit/grouper"
)

func eventsCmd(env *Env) *cobra.Command {
	var (
		healthQueryTimeout time.Duration
		maxBlocks          int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print block events of the channel until interrupted.",
		Long: "Constructs the channel, prints every block its event sources deliver and serves " +
			"/metrics, /healthz and /version on operations.listenAddress until interrupted.",
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.load(cmd); err != nil {
				return err
			}

			system := operations.NewSystem(operations.Options{
				ListenAddress: env.Config.Operations.ListenAddress,
				Metrics:       operations.MetricsOptions{Provider: env.Config.Metrics.Provider},
				Version:       metadata.Version,
				CommitSHA:     metadata.CommitSHA,
			})

			ctx, cancel := env.context(cmd)
			h, err := env.harness(ctx, scenario.WithMetricsProvider(system.Provider))
			cancel()
			if err != nil {
				return err
			}
			defer h.Close()

			if err := system.RegisterChecker(h.Channel.Name(), healthcheckers.NewChannelChecker(h.Channel, healthQueryTimeout)); err != nil {
				return err
			}

			members := grouper.Members{
				{Name: "operations", Runner: system},
				{Name: "blocks", Runner: &blockPrinter{channel: h.Channel, out: cmd.OutOrStdout(), max: maxBlocks}},
			}
			process := ifrit.Invoke(grouper.NewOrdered(os.Interrupt, members))
			handleSignals(process)
			return <-process.Wait()
		},
	}
	flags := cmd.Flags()
	flags.DurationVar(&healthQueryTimeout, "health-query-timeout", 0, "when set, health checks also query the ledger with this timeout")
	flags.IntVar(&maxBlocks, "max-blocks", 0, "exit after printing this many blocks (0 runs until interrupted)")
	return cmd
}

func handleSignals(process ifrit.Process) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-signalChan:
			logger.Infof("Received signal: %d (%s)", sig, sig)
			process.Signal(os.Interrupt)
		case <-process.Wait():
		}
		signal.Stop(signalChan)
	}()
}

// blockPrinter writes one line per block event until signaled or until max
// blocks have been printed.
type blockPrinter struct {
	channel *fab.Channel
	out     io.Writer
	max     int
}

func (b *blockPrinter) Run(signals <-chan os.Signal, ready chan<- struct{}) error {
	events := make(chan *fab.BlockEvent, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handle, err := b.channel.RegisterBlockListener(func(be *fab.BlockEvent) {
		select {
		case events <- be:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return err
	}
	defer b.channel.UnregisterBlockListener(handle)
	close(ready)

	printed := 0
	for {
		select {
		case <-signals:
			return nil
		case be := <-events:
			fprintf(b.out, "Block %d from %s on channel %s with %d transactions\n", be.Number, be.Source, be.ChannelID, len(be.TransactionIDs()))
			for _, txID := range be.TransactionIDs() {
				fprintf(b.out, "  %s\n", txID)
			}
			printed++
			if b.max > 0 && printed >= b.max {
				return nil
			}
		}
	}
}
