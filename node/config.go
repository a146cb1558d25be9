// Package node wires the consensus core, header sync, storage and the
// miner into one runnable unit behind a locked data directory.
package node

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	Chain                string   `json:"chain"`
	DataDir              string   `json:"data_dir"`
	BindAddr             string   `json:"bind_addr"`
	LogLevel             string   `json:"log_level"`
	Peers                []string `json:"peers"`
	MaxPeers             int      `json:"max_peers"`
	SuspiciousReorgDepth int32    `json:"suspicious_reorg_depth"`
	Mine                 bool     `json:"mine"`
	MinerAddress         string   `json:"miner_address"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".cinder"
	}
	return filepath.Join(home, ".cinder")
}

func DefaultConfig() Config {
	return Config{
		Chain:                "main",
		DataDir:              DefaultDataDir(),
		BindAddr:             "0.0.0.0:9333",
		LogLevel:             "info",
		Peers:                nil,
		MaxPeers:             64,
		SuspiciousReorgDepth: 100,
	}
}

func NormalizePeers(raw ...string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, token := range raw {
		for _, p := range strings.Split(token, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func ValidateConfig(cfg Config) error {
	switch cfg.Chain {
	case "main", "mainnet", "test", "testnet", "regtest":
	default:
		return fmt.Errorf("unknown chain %q", cfg.Chain)
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if err := validateAddr(cfg.BindAddr); err != nil {
		return fmt.Errorf("invalid bind_addr: %w", err)
	}
	for _, peer := range cfg.Peers {
		if err := validatePeerAddr(peer); err != nil {
			return fmt.Errorf("invalid peer %q: %w", peer, err)
		}
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.MaxPeers <= 0 {
		return errors.New("max_peers must be > 0")
	}
	if cfg.MaxPeers > 4096 {
		return errors.New("max_peers must be <= 4096")
	}
	if cfg.SuspiciousReorgDepth < 0 {
		return errors.New("suspicious_reorg_depth must be >= 0")
	}
	if cfg.MinerAddress != "" && len(cfg.MinerAddress) != 40 {
		return errors.New("miner_address must be 40 hex characters")
	}
	return nil
}

func validateAddr(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("empty address")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if strings.TrimSpace(port) == "" {
		return errors.New("missing port")
	}
	if strings.Contains(host, " ") {
		return errors.New("invalid host")
	}
	return nil
}

func validatePeerAddr(addr string) error {
	if err := validateAddr(addr); err != nil {
		return err
	}
	host, _, _ := net.SplitHostPort(addr)
	if strings.TrimSpace(host) == "" {
		return errors.New("missing host")
	}
	return nil
}
