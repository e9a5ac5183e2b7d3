/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package cli holds the fabrictest commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tebon/fabrictest/internal/config"
	"github.com/tebon/fabrictest/internal/scenario"
)

var logger = flogging.MustGetLogger("cli")

// DefaultTimeout bounds commands that do not run until signaled.
const DefaultTimeout = 2 * time.Minute

// Env is the state shared by the commands of one invocation.
type Env struct {
	ConfigPath string
	Timeout    time.Duration
	Config     *config.Config
}

// NewRootCmd returns the fabrictest command tree.
func NewRootCmd() *cobra.Command {
	env := &Env{}
	root := &cobra.Command{
		Use:           "fabrictest",
		Short:         "Hyperledger Fabric client harness.",
		Long:          "Enrolls an organization admin, constructs a channel on a Fabric network and exercises it.",
		SilenceErrors: true,
	}
	addGlobalFlags(root.PersistentFlags(), env)

	root.AddCommand(
		runCmd(env),
		caInfoCmd(env),
		enrollCmd(env),
		invokeCmd(env),
		chainInfoCmd(env),
		eventsCmd(env),
		generateCmd(),
		versionCmd(),
	)
	return root
}

func addGlobalFlags(flags *pflag.FlagSet, env *Env) {
	flags.StringVar(&env.ConfigPath, "config", "", "path of the configuration file (default: fabrictest.yaml on $FABRIC_CFG_PATH, . or /etc/hyperledger/fabric)")
	flags.DurationVar(&env.Timeout, "timeout", DefaultTimeout, "time allowed for the command to complete")
}

// load reads the configuration and initializes logging. Parsing of the
// command line is done once it is called, so usage is silenced.
func (env *Env) load(cmd *cobra.Command) error {
	cmd.SilenceUsage = true

	cfg, err := config.Load(env.ConfigPath)
	if err != nil {
		return err
	}
	env.Config = cfg
	initLogging(cfg.Logging, cmd.ErrOrStderr())
	return nil
}

func initLogging(l config.Logging, w io.Writer) {
	spec := os.Getenv("FABRIC_LOGGING_SPEC")
	if spec == "" {
		spec = l.Spec
	}
	flogging.Init(flogging.Config{
		Format:  l.Format,
		Writer:  w,
		LogSpec: spec,
	})
}

func (env *Env) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if env.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, env.Timeout)
}

// harness opens a harness and runs the organization setup and channel
// construction.
func (env *Env) harness(ctx context.Context, opts ...scenario.Option) (*scenario.Harness, error) {
	h, err := scenario.New(env.Config, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := h.Run(ctx); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errors.New("trailing args detected")
	}
	return nil
}

func fprintf(w io.Writer, format string, args ...interface{}) {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		logger.Debugf("Writing output failed: %s", err)
	}
}
