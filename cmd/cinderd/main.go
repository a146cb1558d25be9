// cinderd is the headers-only chain daemon: it maintains the block
// index, follows the most-work chain, and optionally mines.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"cinder.dev/node/node"
)

var (
	chainFlag = &cli.StringFlag{
		Name:  "chain",
		Usage: "chain to follow (main, test, regtest)",
		Value: "main",
	}
	datadirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "data directory",
		Value: node.DefaultDataDir(),
	}
	bindFlag = &cli.StringFlag{
		Name:  "bind",
		Usage: "listen address",
		Value: "0.0.0.0:9333",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "loglevel",
		Usage: "log level (debug, info, warn, error)",
		Value: "info",
	}
	peersFlag = &cli.StringSliceFlag{
		Name:  "peer",
		Usage: "peer address to connect to (repeatable)",
	}
	maxPeersFlag = &cli.IntFlag{
		Name:  "maxpeers",
		Usage: "maximum peer connections",
		Value: 64,
	}
	reorgDepthFlag = &cli.IntFlag{
		Name:  "suspiciousreorgdepth",
		Usage: "refuse reorgs of at least this depth (0 = unlimited)",
		Value: 100,
	}
	mineFlag = &cli.BoolFlag{
		Name:  "mine",
		Usage: "run the CPU miner",
	}
	minerAddressFlag = &cli.StringFlag{
		Name:  "mineraddress",
		Usage: "payout address for mined blocks (40 hex characters)",
	}
)

func main() {
	app := &cli.App{
		Name:  "cinderd",
		Usage: "headers-only proof-of-work chain node",
		Flags: []cli.Flag{
			chainFlag, datadirFlag, bindFlag, logLevelFlag,
			peersFlag, maxPeersFlag, reorgDepthFlag,
			mineFlag, minerAddressFlag,
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "cinderd:", err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg := node.DefaultConfig()
	cfg.Chain = ctx.String(chainFlag.Name)
	cfg.DataDir = ctx.String(datadirFlag.Name)
	cfg.BindAddr = ctx.String(bindFlag.Name)
	cfg.LogLevel = ctx.String(logLevelFlag.Name)
	cfg.Peers = node.NormalizePeers(ctx.StringSlice(peersFlag.Name)...)
	cfg.MaxPeers = ctx.Int(maxPeersFlag.Name)
	cfg.SuspiciousReorgDepth = int32(ctx.Int(reorgDepthFlag.Name))
	cfg.Mine = ctx.Bool(mineFlag.Name)
	cfg.MinerAddress = ctx.String(minerAddressFlag.Name)

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	n, err := node.New(cfg, logger)
	if err != nil {
		return err
	}
	defer n.Close()

	if err := n.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("shutting down", "signal", s.String())
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
