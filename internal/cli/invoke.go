/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cli

import (
	"github.com/spf13/cobra"
	"github.com/tebon/fabrictest/internal/scenario"
)

func invokeCmd(env *Env) *cobra.Command {
	var (
		fcn  string
		args []string
	)
	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Send a transaction proposal to every peer of the channel.",
		Long:  "Constructs the channel and sends the configured chaincode invocation to all of its peers.",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := env.load(cmd); err != nil {
				return err
			}
			if cmd.Flags().Changed("fcn") {
				env.Config.Chaincode.Fcn = fcn
			}
			if cmd.Flags().Changed("args") {
				env.Config.Chaincode.Args = args
			}
			ctx, cancel := env.context(cmd)
			defer cancel()

			h, err := env.harness(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			successful, failed, err := h.Invoke(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, resp := range successful {
				fprintf(out, "Successful transaction proposal response Txid: %s from peer %s\n", resp.TxID, resp.Peer.Name())
			}
			for _, resp := range failed {
				fprintf(out, "Failed transaction proposal response from peer %s: %s\n", resp.Peer.Name(), resp.Message)
			}
			return scenario.RequireEndorsed(successful, failed)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&fcn, "fcn", "", "chaincode function (default from chaincode.fcn)")
	flags.StringSliceVar(&args, "args", nil, "comma separated chaincode arguments (default from chaincode.args)")
	return cmd
}
