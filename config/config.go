// Package config parses the watch-tower CLI flags and, for run-multi, the
// YAML chain-list file (spec.md §6). Replaces the teacher's single TOML
// node config with the flag-driven surface this service actually exposes;
// multi-chain lists still go through a structured document, following the
// rest of the example pack's YAML-first services rather than TOML.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Chain is one entry of a run-multi chain list, or the single implicit
// chain of a `run` invocation.
type Chain struct {
	RPC             string   `yaml:"rpc"`
	DeploymentBlock uint64   `yaml:"deploymentBlock"`
	ChainID         string   `yaml:"chainId,omitempty"`
	Contracts       []string `yaml:"contracts"`
}

// Config is the fully-resolved configuration for one invocation of the
// `run` or `run-multi` commands.
type Config struct {
	Chains []Chain

	PageSize        uint64
	WatchdogTimeout time.Duration
	DryRun          bool
	OneShot         bool
	Silent          bool
	SlackWebhook    string
	OrderBookURL    string
	FilterPolicyURL string
	DatabasePath    string
	APIPort         int
	DisableAPI      bool
	LogLevel        string
	InPod           bool
}

const (
	defaultPageSize        = 5000
	defaultWatchdogSeconds = 30
	defaultDatabasePath    = "./database"
	defaultAPIPort         = 8080
	defaultLogLevel        = "INFO"
)

type commonFlags struct {
	pageSize        uint64
	watchdogSeconds int
	dryRun          bool
	oneShot         bool
	silent          bool
	slackWebhook    string
	orderBookURL    string
	filterPolicyURL string
	databasePath    string
	apiPort         int
	disableAPI      bool
	logLevel        string
	inPod           bool
}

func registerCommonFlags(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.Uint64Var(&c.pageSize, "page-size", defaultPageSize, "warm-up paging size in blocks (0 means page to latest in one request)")
	fs.IntVar(&c.watchdogSeconds, "watchdog-timeout", defaultWatchdogSeconds, "seconds without a new block before the watchdog trips")
	fs.BoolVar(&c.dryRun, "dry-run", false, "suppress order-book submissions")
	fs.BoolVar(&c.oneShot, "one-shot", false, "warm up and exit, without entering live-tail")
	fs.BoolVar(&c.silent, "silent", false, "suppress external notifications")
	fs.StringVar(&c.slackWebhook, "slack-webhook", "", "Slack incoming-webhook URL for operator notifications")
	fs.StringVar(&c.orderBookURL, "orderbook-url", "", "off-chain order-book submission endpoint")
	fs.StringVar(&c.filterPolicyURL, "filter-policy-url", "", "URL serving the hot-reloaded filter policy document; unset keeps the ACCEPT-everything default")
	fs.StringVar(&c.databasePath, "database-path", defaultDatabasePath, "embedded registry store directory")
	fs.IntVar(&c.apiPort, "api-port", defaultAPIPort, "health/metrics HTTP listen port")
	fs.BoolVar(&c.disableAPI, "disable-api", false, "disable the health/metrics HTTP server")
	fs.StringVar(&c.logLevel, "log-level", logLevelDefault(), "log level: DEBUG, INFO, WARN, ERROR")
	fs.BoolVar(&c.inPod, "in-pod", false, "override orchestration-pod detection for the watchdog")
	return c
}

func (c *commonFlags) toConfig() *Config {
	return &Config{
		PageSize:        c.pageSize,
		WatchdogTimeout: time.Duration(c.watchdogSeconds) * time.Second,
		DryRun:          c.dryRun,
		OneShot:         c.oneShot,
		Silent:          c.silent,
		SlackWebhook:    c.slackWebhook,
		OrderBookURL:    c.orderBookURL,
		FilterPolicyURL: c.filterPolicyURL,
		DatabasePath:    c.databasePath,
		APIPort:         c.apiPort,
		DisableAPI:      c.disableAPI,
		LogLevel:        c.logLevel,
		InPod:           c.inPod,
	}
}

// ParseRun parses flags for the single-chain `run` command.
func ParseRun(fs *flag.FlagSet, args []string) (*Config, error) {
	common := registerCommonFlags(fs)
	var rpc, contracts string
	var deploymentBlock uint64
	fs.StringVar(&rpc, "rpc", "", "chain RPC URL (ws[s] selects streaming provider)")
	fs.Uint64Var(&deploymentBlock, "deployment-block", 0, "block the watched contract was deployed at")
	fs.StringVar(&contracts, "contracts", "", "comma-separated list of composable-order contract addresses to watch")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if rpc == "" {
		return nil, fmt.Errorf("config: --rpc is required")
	}
	cfg := common.toConfig()
	cfg.Chains = []Chain{{RPC: rpc, DeploymentBlock: deploymentBlock, Contracts: splitNonEmpty(contracts)}}
	return cfg, nil
}

func splitNonEmpty(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// multiFlag holds a comma-separated --rpc/--deployment-block list for
// run-multi, per spec.md §6. A repeated flag replaces the earlier list
// rather than appending to it.
type multiFlag struct {
	values []string
}

func (m *multiFlag) String() string { return strings.Join(m.values, ",") }
func (m *multiFlag) Set(v string) error {
	m.values = strings.Split(v, ",")
	return nil
}

// ParseRunMulti parses flags for the `run-multi` command: either a
// --config YAML file, or equal-length --rpc/--deployment-block lists.
func ParseRunMulti(fs *flag.FlagSet, args []string) (*Config, error) {
	common := registerCommonFlags(fs)
	var configPath, contractsRaw string
	var rpcs, blocks multiFlag
	fs.StringVar(&configPath, "config", "", "YAML file listing chains to watch")
	fs.Var(&rpcs, "rpc", "comma-separated list of chain RPC URLs")
	fs.Var(&blocks, "deployment-block", "comma-separated list of deployment blocks, same order as --rpc")
	fs.StringVar(&contractsRaw, "contracts", "", "semicolon-separated per chain, each a comma-separated contract address list, same order as --rpc")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg := common.toConfig()

	if configPath != "" {
		chains, err := LoadChainList(configPath)
		if err != nil {
			return nil, err
		}
		cfg.Chains = chains
		return cfg, nil
	}

	if len(rpcs.values) == 0 || len(rpcs.values) != len(blocks.values) {
		return nil, fmt.Errorf("config: --rpc and --deployment-block must be equal-length lists, or pass --config")
	}
	perChainContracts := strings.Split(contractsRaw, ";")
	chains := make([]Chain, len(rpcs.values))
	for i, rpc := range rpcs.values {
		block, err := parseUint64(blocks.values[i])
		if err != nil {
			return nil, fmt.Errorf("config: parse deployment-block[%d]: %w", i, err)
		}
		var chainContracts []string
		if i < len(perChainContracts) {
			chainContracts = splitNonEmpty(perChainContracts[i])
		}
		chains[i] = Chain{RPC: strings.TrimSpace(rpc), DeploymentBlock: block, Contracts: chainContracts}
	}
	cfg.Chains = chains
	return cfg, nil
}

func logLevelDefault() string {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		return v
	}
	return defaultLogLevel
}

func parseUint64(s string) (uint64, error) {
	var v uint64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &v)
	return v, err
}

// LoadChainList reads a YAML document listing chains for run-multi.
func LoadChainList(path string) ([]Chain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read chain list: %w", err)
	}
	var doc struct {
		Chains []Chain `yaml:"chains"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse chain list: %w", err)
	}
	if len(doc.Chains) == 0 {
		return nil, fmt.Errorf("config: chain list %s has no chains", path)
	}
	return doc.Chains, nil
}
