/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cli

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tebon/fabrictest/internal/config"
	"github.com/tebon/fabrictest/internal/cryptogen"
	"github.com/tebon/fabrictest/internal/fileutil"
)

type generateOptions struct {
	output       string
	domain       string
	peers        []string
	orderers     []string
	adminTLSName string
	sampleConfig bool
}

func generateCmd() *cobra.Command {
	opts := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a crypto material tree for one peer and one orderer organization.",
		Long: "Writes <output>/peerOrganizations/<domain> and <output>/ordererOrganizations/<domain> " +
			"in the cryptogen layout and, with --sample-config, a fabrictest.yaml next to them.",
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return generate(cmd, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.output, "output", "o", "crypto-config", "output directory")
	flags.StringVar(&opts.domain, "domain", "tebon.com", "organization domain")
	flags.StringSliceVar(&opts.peers, "peers", []string{"peer0"}, "peer host names, qualified with the domain")
	flags.StringSliceVar(&opts.orderers, "orderers", []string{"orderer"}, "orderer host names, qualified with the domain")
	flags.StringVar(&opts.adminTLSName, "admin-tls-name", "server", "file stem of the admin TLS key pair (server or client)")
	flags.BoolVar(&opts.sampleConfig, "sample-config", false, "also write a sample fabrictest.yaml to the parent of the output directory")
	return cmd
}

func qualify(hosts []string, domain string) []string {
	var names []string
	for _, h := range hosts {
		names = append(names, h+"."+domain)
	}
	return names
}

func generate(cmd *cobra.Command, opts *generateOptions) error {
	if opts.domain == "" {
		return errors.New("domain is required")
	}
	admin := cryptogen.AdminName(opts.domain)
	specs := []cryptogen.OrgSpec{
		{
			Domain:       opts.domain,
			Type:         cryptogen.PeerNode,
			Nodes:        qualify(opts.peers, opts.domain),
			AdminTLSName: opts.adminTLSName,
			AdminKeyName: admin + ".key",
		},
		{
			Domain:       opts.domain,
			Type:         cryptogen.OrdererNode,
			Nodes:        qualify(opts.orderers, opts.domain),
			AdminTLSName: opts.adminTLSName,
		},
	}

	out := cmd.OutOrStdout()
	for _, spec := range specs {
		org, err := cryptogen.GenerateOrg(opts.output, spec)
		if err != nil {
			return err
		}
		fprintf(out, "Generated %s organization %s in %s\n", spec.Type, spec.Domain, org.Dir)
	}

	if !opts.sampleConfig {
		return nil
	}
	sample, err := config.Sample()
	if err != nil {
		return err
	}
	path := filepath.Join(filepath.Dir(filepath.Clean(opts.output)), config.Name+".yaml")
	if err := fileutil.WriteFileAtomically(path, sample, 0o644); err != nil {
		return err
	}
	fprintf(out, "Wrote sample configuration to %s\n", path)
	return nil
}
