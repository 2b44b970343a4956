// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// mevm is the dual-VM L2 execution engine daemon: it exposes the
// authenticated Engine API to a consensus driver on one port and the public
// read API on another.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/luxfi/geth/core/rawdb"
	"github.com/luxfi/geth/ethdb"
	"github.com/luxfi/log"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/luxfi/mevm/app"
	"github.com/luxfi/mevm/blockchain"
	"github.com/luxfi/mevm/config"
	"github.com/luxfi/mevm/engine"
	"github.com/luxfi/mevm/server"
	"github.com/luxfi/mevm/state"
)

var (
	configFlag     = &cli.StringFlag{Name: "config", Usage: "path to the config file"}
	chainIDFlag    = &cli.Uint64Flag{Name: "chain-id", Usage: "chain id"}
	engineAddrFlag = &cli.StringFlag{Name: "engine-addr", Usage: "engine API listen address"}
	publicAddrFlag = &cli.StringFlag{Name: "public-addr", Usage: "public API listen address"}
	jwtSecretFlag  = &cli.StringFlag{Name: "jwtsecret", Usage: "path to the hex-encoded engine JWT secret"}
	dataDirFlag    = &cli.StringFlag{Name: "data-dir", Usage: "chain data directory (empty keeps state in memory)"}
	logLevelFlag   = &cli.StringFlag{Name: "log-level", Usage: "log level (trace|debug|info|warn|error)"}
	logJSONFlag    = &cli.BoolFlag{Name: "log-json", Usage: "emit JSON logs"}
	logFileFlag    = &cli.StringFlag{Name: "log-file", Usage: "also write logs to a rotated file"}
)

func main() {
	appCli := &cli.App{
		Name:  "mevm",
		Usage: "dual-VM L2 execution engine",
		Flags: []cli.Flag{
			configFlag, chainIDFlag, engineAddrFlag, publicAddrFlag,
			jwtSecretFlag, dataDirFlag, logLevelFlag, logJSONFlag, logFileFlag,
		},
		Action: run,
	}
	if err := appCli.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String(configFlag.Name))
	if err != nil {
		return err
	}
	applyFlags(ctx, &cfg)
	if err := setupLogger(cfg); err != nil {
		return err
	}

	secret, err := loadJWTSecret(cfg.JWTSecretPath)
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	st := state.NewTrieState(db)
	genesisConfig := blockchain.DefaultGenesisConfig()
	genesisConfig.ChainID = cfg.ChainID
	genesisConfig.GasLimit = cfg.GasLimit

	image, err := blockchain.DevGenesisImage(genesisConfig)
	if err != nil {
		return fmt.Errorf("build genesis: %w", err)
	}
	genesis, err := blockchain.ApplyGenesis(st, image, genesisConfig)
	if err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}

	application := app.NewApplication(genesisConfig, st, app.Hooks{})
	queue := app.NewCommandQueue(256)
	actor := app.NewActor(application, queue)
	actor.Start()
	queue.Send(app.GenesisUpdate{Block: genesis})
	queue.WaitForPendingCommands()
	log.Info("chain initialized", "chainId", cfg.ChainID, "genesis", genesis.Hash, "stateRoot", st.StateRoot())

	reader := application.Reader()
	engineAPI := engine.NewAPI(queue, reader, app.StatePayloadID{})
	publicAPI := server.NewEthAPI(reader, queue)
	srv := server.New(server.Config{
		EngineAddr: cfg.EngineAddr,
		PublicAddr: cfg.PublicAddr,
		JWTSecret:  secret,
	}, engineAPI, publicAPI)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = srv.Run(runCtx)

	queue.Close()
	actor.Wait()
	if err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func applyFlags(ctx *cli.Context, cfg *config.Config) {
	if ctx.IsSet(chainIDFlag.Name) {
		cfg.ChainID = ctx.Uint64(chainIDFlag.Name)
	}
	if ctx.IsSet(engineAddrFlag.Name) {
		cfg.EngineAddr = ctx.String(engineAddrFlag.Name)
	}
	if ctx.IsSet(publicAddrFlag.Name) {
		cfg.PublicAddr = ctx.String(publicAddrFlag.Name)
	}
	if ctx.IsSet(jwtSecretFlag.Name) {
		cfg.JWTSecretPath = ctx.String(jwtSecretFlag.Name)
	}
	if ctx.IsSet(dataDirFlag.Name) {
		cfg.DataDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(logLevelFlag.Name) {
		cfg.LogLevel = ctx.String(logLevelFlag.Name)
	}
	if ctx.IsSet(logJSONFlag.Name) {
		cfg.LogJSON = ctx.Bool(logJSONFlag.Name)
	}
	if ctx.IsSet(logFileFlag.Name) {
		cfg.LogFile = ctx.String(logFileFlag.Name)
	}
}

func setupLogger(cfg config.Config) error {
	level := &slog.LevelVar{}
	switch strings.ToLower(cfg.LogLevel) {
	case "trace":
		level.Set(log.LevelTrace)
	case "debug":
		level.Set(slog.LevelDebug)
	case "", "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}

	var writer io.Writer = os.Stderr
	if cfg.LogFile != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogFileMB,
			MaxBackups: 5,
			Compress:   true,
		}
		writer = io.MultiWriter(os.Stderr, rotated)
	}

	var handler slog.Handler
	if cfg.LogJSON {
		handler = log.JSONHandlerWithLevel(writer, level)
	} else {
		useColor := cfg.LogFile == "" && isatty.IsTerminal(os.Stderr.Fd())
		handler = log.NewTerminalHandlerWithLevel(writer, level, useColor)
	}
	log.SetDefault(log.NewLogger(handler))
	return nil
}

// loadJWTSecret reads the engine secret from the JWT_SECRET environment
// variable or the configured file.
func loadJWTSecret(path string) ([]byte, error) {
	raw := os.Getenv("JWT_SECRET")
	if raw == "" {
		if path == "" {
			return nil, fmt.Errorf("no JWT secret: set JWT_SECRET or --jwtsecret")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read jwt secret: %w", err)
		}
		raw = strings.TrimSpace(string(data))
	}
	secret, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return nil, fmt.Errorf("jwt secret must be hex: %w", err)
	}
	return secret, nil
}

func openDatabase(dataDir string) (ethdb.Database, error) {
	if dataDir == "" {
		return rawdb.NewMemoryDatabase(), nil
	}
	return rawdb.NewPebbleDBDatabase(filepath.Join(dataDir, "chaindata"), 512, 128, "mevm", false, false)
}
