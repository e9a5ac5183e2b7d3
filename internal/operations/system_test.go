/*
Copyright IBM Corp All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package operations

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/hyperledger/fabric-lib-go/common/metrics/disabled"
	"github.com/hyperledger/fabric-lib-go/common/metrics/prometheus"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"github.com/tebon/fabrictest/internal/operations/fakes"
	"github.com/tedsuo/ifrit"
)

var _ = Describe("System", func() {
	var (
		options Options
		system  *System
		client  *http.Client
	)

	get := func(path string) (int, string) {
		resp, err := client.Get(fmt.Sprintf("http://%s%s", system.Addr(), path))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp.StatusCode, string(body)
	}

	BeforeEach(func() {
		client = &http.Client{}
		options = Options{
			ListenAddress: "127.0.0.1:0",
			Metrics:       MetricsOptions{Provider: "prometheus"},
			Version:       "1.2.3",
			CommitSHA:     "abc123",
		}
	})

	JustBeforeEach(func() {
		system = NewSystem(options)
		Expect(system.Start()).To(Succeed())
	})

	AfterEach(func() {
		Expect(system.Stop()).To(Succeed())
	})

	It("serves the health of registered checkers", func() {
		code, body := get("/healthz")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring(`"status":"OK"`))

		Expect(system.RegisterChecker("cwjtestcc", &fakes.HealthChecker{Err: errors.New("event hub down")})).To(Succeed())
		code, body = get("/healthz")
		Expect(code).To(Equal(http.StatusServiceUnavailable))
		Expect(body).To(ContainSubstring("event hub down"))

		system.DeregisterChecker("cwjtestcc")
		code, _ = get("/healthz")
		Expect(code).To(Equal(http.StatusOK))
	})

	It("rejects duplicate checkers", func() {
		Expect(system.RegisterChecker("cwjtestcc", &fakes.HealthChecker{})).To(Succeed())
		Expect(system.RegisterChecker("cwjtestcc", &fakes.HealthChecker{})).To(HaveOccurred())
	})

	It("serves prometheus metrics including the version gauge", func() {
		Expect(system.Provider).To(BeAssignableToTypeOf(&prometheus.Provider{}))
		code, body := get("/metrics")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring(`fabrictest_version{version="1.2.3"} 1`))
	})

	It("serves the version", func() {
		code, body := get("/version")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(MatchJSON(`{"CommitSHA":"abc123","Version":"1.2.3"}`))
	})

	It("serves additional handlers", func() {
		system.RegisterHandler("/extra", &fakes.Handler{Code: http.StatusTeapot, Text: "extra"})
		code, body := get("/extra")
		Expect(code).To(Equal(http.StatusTeapot))
		Expect(body).To(Equal("extra"))
	})

	It("recovers from handler panics", func() {
		system.RegisterHandler("/panic", fakes.PanicHandler{})
		code, _ := get("/panic")
		Expect(code).To(Equal(http.StatusInternalServerError))

		code, _ = get("/healthz")
		Expect(code).To(Equal(http.StatusOK))
	})

	When("metrics are disabled", func() {
		BeforeEach(func() {
			options.Metrics.Provider = "disabled"
		})

		It("does not serve /metrics", func() {
			Expect(system.Provider).To(BeAssignableToTypeOf(&disabled.Provider{}))
			code, _ := get("/metrics")
			Expect(code).To(Equal(http.StatusNotFound))
		})
	})
})

var _ = Describe("System as a runner", func() {
	It("serves until signaled", func() {
		system := NewSystem(Options{ListenAddress: "127.0.0.1:0", Metrics: MetricsOptions{Provider: "disabled"}})
		process := ifrit.Invoke(system)
		Eventually(process.Ready()).Should(BeClosed())

		resp, err := http.Get(fmt.Sprintf("http://%s/healthz", system.Addr()))
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		process.Signal(os.Interrupt)
		Eventually(process.Wait()).Should(Receive(BeNil()))
	})

	It("fails when the address is in use", func() {
		first := NewSystem(Options{ListenAddress: "127.0.0.1:0"})
		Expect(first.Start()).To(Succeed())
		defer first.Stop()

		second := NewSystem(Options{ListenAddress: first.Addr()})
		process := ifrit.Background(second)
		Eventually(process.Wait()).Should(Receive(MatchError(ContainSubstring("failed to listen on"))))
	})
})
