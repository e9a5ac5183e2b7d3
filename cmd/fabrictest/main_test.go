/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"
	"github.com/onsi/gomega/gexec"
)

func TestFabrictestBinary(t *testing.T) {
	gt := NewGomegaWithT(t)
	fabrictest, err := gexec.Build("github.com/tebon/fabrictest/cmd/fabrictest")
	gt.Expect(err).NotTo(HaveOccurred())
	defer gexec.CleanupBuildArtifacts()

	t.Run("version", func(t *testing.T) {
		gt := NewGomegaWithT(t)
		sess, err := gexec.Start(exec.Command(fabrictest, "version"), nil, nil)
		gt.Expect(err).NotTo(HaveOccurred())
		gt.Eventually(sess, time.Minute).Should(gexec.Exit(0))
		gt.Expect(sess.Out).To(gbytes.Say("fabrictest:\n Version: "))
	})

	t.Run("missing configuration", func(t *testing.T) {
		gt := NewGomegaWithT(t)
		cmd := exec.Command(fabrictest, "run", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
		sess, err := gexec.Start(cmd, nil, nil)
		gt.Expect(err).NotTo(HaveOccurred())
		gt.Eventually(sess, time.Minute).Should(gexec.Exit(1))
		gt.Expect(sess.Err).To(gbytes.Say("Error: failed to read configuration"))
	})

	t.Run("generate", func(t *testing.T) {
		gt := NewGomegaWithT(t)
		output := filepath.Join(t.TempDir(), "crypto-config")
		sess, err := gexec.Start(exec.Command(fabrictest, "generate", "--output", output), nil, nil)
		gt.Expect(err).NotTo(HaveOccurred())
		gt.Eventually(sess, time.Minute).Should(gexec.Exit(0))
		gt.Expect(sess.Out).To(gbytes.Say("Generated peer organization tebon.com"))
		gt.Expect(filepath.Join(output, "peerOrganizations", "tebon.com", "users", "Admin@tebon.com")).To(BeADirectory())
	})
}
