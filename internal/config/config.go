/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package config loads the harness configuration from fabrictest.yaml and
// FABRICTEST_ environment variables.
package config

import (
	"path/filepath"
	"strings"
	"time"

	version "github.com/hashicorp/go-version"
	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/tebon/fabrictest/common/viperutil"
	"github.com/tebon/fabrictest/pkg/cryptoconfig"
	"github.com/tebon/fabrictest/pkg/cryptosuite"
	"github.com/tebon/fabrictest/pkg/org"
	"github.com/tebon/fabrictest/pkg/properties"
	"gopkg.in/yaml.v2"
)

var logger = flogging.MustGetLogger("config")

const (
	// Name is the configuration file stem.
	Name = "fabrictest"
	// EnvPrefix prefixes environment variable overrides.
	EnvPrefix = "FABRICTEST"
)

// Config is the harness configuration.
type Config struct {
	Logging      Logging
	Org          Org
	CA           CA
	Channel      Channel
	Chaincode    Chaincode
	Store        Store
	CryptoConfig CryptoConfig
	BCCSP        cryptosuite.Options
	Fabric       Fabric
	GRPC         GRPC
	Operations   Operations
	Metrics      Metrics
}

type Logging struct {
	Spec   string
	Format string
}

// Endpoint names a node and its grpc(s):// URL.
type Endpoint struct {
	Name string
	URL  string
}

type Org struct {
	Name      string
	MSPID     string
	Domain    string
	Orderers  []Endpoint
	Peers     []Endpoint
	EventHubs []Endpoint
}

type CA struct {
	// Name selects a CA on a multi-CA server. Empty addresses the
	// server's default CA.
	Name              string
	URL               string
	AllowAllHostNames bool
	// TLSCerts are trusted in addition to the CA certificate of the crypto
	// material tree.
	TLSCerts    []string
	Admin       string
	AdminSecret string
}

type Channel struct {
	Name             string
	TxFile           string
	ProposalWaitTime time.Duration
	PeerEventing     bool
}

type Chaincode struct {
	Name    string
	Version string
	Path    string
	Fcn     string
	Args    []string
}

type Store struct {
	Path string
}

type CryptoConfig struct {
	Root string
}

type Fabric struct {
	Version string
}

type GRPC struct {
	DialTimeout           time.Duration
	KeepAliveTime         time.Duration
	KeepAliveTimeout      time.Duration
	KeepAliveWithoutCalls bool
	MaxInboundMessageSize uint32
}

type Operations struct {
	ListenAddress string
}

type Metrics struct {
	Provider string
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"logging": map[string]interface{}{
			"spec":   "info",
			"format": "%{color}%{time:2006-01-02 15:04:05.000 MST} [%{module}] %{shortfunc} -> %{level:.4s} %{id:03x}%{color:reset} %{message}",
		},
		"org": map[string]interface{}{
			"name":   "tebon",
			"mspid":  "Tebon",
			"domain": "tebon.com",
			"orderers": []interface{}{
				map[string]interface{}{"name": "orderer.tebon.com", "url": "grpcs://99.13.43.6:7050"},
			},
			"peers": []interface{}{
				map[string]interface{}{"name": "peer0.tebon.com", "url": "grpcs://99.13.43.6:7051"},
			},
			"eventhubs": []interface{}{
				map[string]interface{}{"name": "peer0.tebon.com", "url": "grpcs://99.13.43.6:7053"},
			},
		},
		"ca": map[string]interface{}{
			"name":              "",
			"url":               "http://ca.tebon.com:7054",
			"allowallhostnames": false,
			"tlscerts":          []string{},
			"admin":             "admin",
			"adminsecret":       "adminpw",
		},
		"channel": map[string]interface{}{
			"name":             "cwjtestcc",
			"txfile":           "",
			"proposalwaittime": "20s",
			"peereventing":     false,
		},
		"chaincode": map[string]interface{}{
			"name":    "example_cc_go",
			"version": "1",
			"path":    "github.com/example_cc",
			"fcn":     "move",
			"args":    []string{"a", "b", "100"},
		},
		"store": map[string]interface{}{
			"path": "",
		},
		"cryptoconfig": map[string]interface{}{
			"root": "crypto-config",
		},
		"bccsp": map[string]interface{}{
			"keystore": "",
			"security": cryptosuite.DefaultSecurityLevel,
			"hash":     cryptosuite.DefaultHashFamily,
		},
		"fabric": map[string]interface{}{
			"version": "1.1.0",
		},
		"grpc": map[string]interface{}{
			"dialtimeout":           "5s",
			"keepalivetime":         "5m",
			"keepalivetimeout":      "8s",
			"keepalivewithoutcalls": true,
			"maxinboundmessagesize": 9000000,
		},
		"operations": map[string]interface{}{
			"listenaddress": "127.0.0.1:9443",
		},
		"metrics": map[string]interface{}{
			"provider": "prometheus",
		},
	}
}

func setDefaults(v *viper.Viper, prefix string, values map[string]interface{}) {
	for k, val := range values {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]interface{}); ok {
			setDefaults(v, key, nested)
			continue
		}
		v.SetDefault(key, val)
	}
}

// Load reads the configuration file at path or, when path is empty, the
// first fabrictest.yaml found on the config paths. Missing files are not an
// error unless path was given.
func Load(path string) (*Config, error) {
	v := viperutil.New(Name, EnvPrefix)
	setDefaults(v, "", defaults())

	if path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || path != "" {
			return nil, errors.Wrapf(err, "failed to read configuration %s", path)
		}
		logger.Debug("No configuration file found, using defaults")
	} else {
		logger.Infof("Loaded configuration from %s", v.ConfigFileUsed())
	}

	cfg := &Config{}
	if err := viperutil.EnhancedExactUnmarshal(v, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Sample returns the default configuration as YAML.
func Sample() ([]byte, error) {
	out, err := yaml.Marshal(defaults())
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal sample configuration")
	}
	return out, nil
}

// Validate checks the values Load cannot default.
func (c *Config) Validate() error {
	switch {
	case c.Org.Name == "":
		return errors.New("org.name is required")
	case c.Org.MSPID == "":
		return errors.New("org.mspid is required")
	case c.Org.Domain == "":
		return errors.New("org.domain is required")
	case c.Channel.Name == "":
		return errors.New("channel.name is required")
	case c.CA.URL == "":
		return errors.New("ca.url is required")
	}
	for _, group := range [][]Endpoint{c.Org.Orderers, c.Org.Peers, c.Org.EventHubs} {
		for _, ep := range group {
			if ep.Name == "" || ep.URL == "" {
				return errors.Errorf("endpoint %q needs both a name and a URL", ep.Name)
			}
		}
	}
	if _, err := version.NewVersion(c.Fabric.Version); err != nil {
		return errors.Wrapf(err, "invalid fabric.version %q", c.Fabric.Version)
	}
	switch strings.ToLower(c.Metrics.Provider) {
	case "prometheus", "disabled", "":
	default:
		return errors.Errorf("unknown metrics.provider %q: expected prometheus or disabled", c.Metrics.Provider)
	}
	return nil
}

var fabric11 = version.Must(version.NewVersion("1.1.0"))

// RunningAgainstFabric10 reports whether the network predates Fabric 1.1,
// which has no peer channel-based eventing.
func (c *Config) RunningAgainstFabric10() bool {
	v, err := version.NewVersion(c.Fabric.Version)
	if err != nil {
		return false
	}
	return v.LessThan(fabric11)
}

// Layout returns the crypto material tree.
func (c *Config) Layout() *cryptoconfig.Layout {
	return cryptoconfig.New(c.CryptoConfig.Root)
}

// BuildOrg describes the configured organization, its CA trusting the CA
// certificate of the crypto material tree.
func (c *Config) BuildOrg() (*org.Org, error) {
	o := org.New(c.Org.Name, c.Org.MSPID)
	o.DomainName = c.Org.Domain
	for _, ep := range c.Org.Orderers {
		o.AddOrdererLocation(ep.Name, ep.URL)
	}
	for _, ep := range c.Org.Peers {
		o.AddPeerLocation(ep.Name, ep.URL)
	}
	for _, ep := range c.Org.EventHubs {
		o.AddEventHubLocation(ep.Name, ep.URL)
	}
	o.CALocation = c.CA.URL
	o.CAName = c.CA.Name
	if o.CAName == "" {
		o.CAName = c.Org.Name
	}

	caCert, err := filepath.Abs(c.Layout().CACertPath(c.Org.Domain))
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve CA certificate path")
	}
	props := properties.New().
		Set(properties.PemFile, caCert).
		Set(properties.AllowAllHostNames, c.CA.AllowAllHostNames)
	if len(c.CA.TLSCerts) > 0 {
		props.Set(properties.PemBytes, []byte(strings.Join(c.CA.TLSCerts, "")))
	}
	o.CAProperties = props

	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}
