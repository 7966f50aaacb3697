// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ffutop/rs485-master/internal/config"
	"github.com/ffutop/rs485-master/internal/line"
	"github.com/ffutop/rs485-master/internal/master"
	"github.com/ffutop/rs485-master/internal/sampler"
	"github.com/ffutop/rs485-master/internal/store"
	"github.com/ffutop/rs485-master/transport/rtu"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/pflag"
)

func main() {
	configFile := pflag.StringP("config", "c", "", "Configuration file path.")
	once := pflag.Bool("once", false, "Run a single sampling cycle and exit.")
	dumpConfig := pflag.Bool("dump-config", false, "Print the effective configuration and exit.")
	set := pflag.String("set", "", "Write one register and exit, as unit:address=value.")
	pflag.StringP("device", "p", "", "Serial port device name.")
	pflag.IntP("baud_rate", "s", 0, "Serial port speed.")
	pflag.Duration("interval", 0, "Sampling interval.")
	pflag.StringP("log_level", "v", "", "Log verbosity level (debug, info, warn, error).")
	pflag.StringP("log_file", "L", "", "Log file name ('-' for logging to STDOUT only).")
	pflag.Parse()

	// Load Configuration
	cfg, err := config.LoadConfigWithFlags(*configFile, pflag.CommandLine)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *dumpConfig {
		out, err := config.Dump(cfg)
		if err != nil {
			fmt.Printf("Failed to dump configuration: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	setupLogger(cfg.Log)

	if err := config.Validate(cfg); err != nil {
		slog.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, *once, *set); err != nil {
		slog.Error("Exiting", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, once bool, set string) error {
	slog.Info("Starting RS-485 Modbus master...", "device", cfg.Transceiver.Device)

	chip := line.NewChip(cfg.Transceiver.GPIOChip)
	defer chip.Close()

	m, err := master.New(cfg.Transceiver, rtu.NewSerialPort(), chip)
	if err != nil {
		return err
	}
	defer func() {
		slog.Info("Transaction statistics", "stats", fmt.Sprintf("%+v", m.Stats()))
		if err := m.Close(); err != nil {
			slog.Error("Failed to close master", "err", err)
		}
	}()

	if set != "" {
		return writeRegister(m, set)
	}

	storage, err := store.New(cfg.Store)
	if err != nil {
		return err
	}
	defer storage.Close()

	s, err := sampler.New(cfg.Sampler, m, storage, sampler.LogSink{})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if once {
		s.PollOnce(ctx)
		return storage.Save(s.Table())
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.Run(ctx); err != nil {
			slog.Error("Sampler stopped with error", "err", err)
		}
	}()

	// Wait for Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	cancel()
	wg.Wait()
	slog.Info("Goodbye.")
	return nil
}

func writeRegister(m *master.Master, arg string) error {
	var unit uint8
	var address, value uint16
	if _, err := fmt.Sscanf(arg, "%d:%d=%d", &unit, &address, &value); err != nil {
		return fmt.Errorf("invalid --set %q, want unit:address=value: %w", arg, err)
	}
	if err := m.Set(unit, address, value); err != nil {
		return fmt.Errorf("write to unit %d register %d failed: %w", unit, address, err)
	}
	slog.Info("Register written", "unit", unit, "address", address, "value", value)
	return nil
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
