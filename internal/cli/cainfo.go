/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cli

import (
	"github.com/spf13/cobra"
	"github.com/tebon/fabrictest/pkg/ca"
	"github.com/tebon/fabrictest/pkg/cryptosuite"
	"github.com/tebon/fabrictest/pkg/org"
	"github.com/tebon/fabrictest/pkg/user"
)

// caClient returns the configured organization with a CA client that keeps
// keys in memory.
func (env *Env) caClient() (*org.Org, error) {
	o, err := env.Config.BuildOrg()
	if err != nil {
		return nil, err
	}
	csp, err := cryptosuite.New(cryptosuite.Options{})
	if err != nil {
		return nil, err
	}
	o.CAClient, err = ca.New(env.Config.CA.Name, o.CALocation, o.CAProperties, csp)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func caInfoCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "cainfo",
		Short: "Check the organization's CA is reachable.",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.load(cmd); err != nil {
				return err
			}
			ctx, cancel := env.context(cmd)
			defer cancel()

			o, err := env.caClient()
			if err != nil {
				return err
			}
			info, err := o.CAClient.Info(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fprintf(out, "CA name: %s\n", info.CAName)
			fprintf(out, "CA version: %s\n", info.Version)
			if cert, err := user.ParseCertificate(info.CAChain); err == nil {
				fprintf(out, "CA certificate subject: %s\n", cert.Subject)
			}
			return nil
		},
	}
}
