// Copyright 2025 The contributors of Fenwick.
// This file is part of Fenwick, a LLM chat-completion server under the MIT License.
// SPDX-License-Identifier: MIT

package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"

	"github.com/mostlygeek/llama-swap/proxy"
	"github.com/LM4eu/garcon/vv"

	"github.com/fenwicklm/fenwick/backend"
	"github.com/fenwicklm/fenwick/chat"
	"github.com/fenwicklm/fenwick/config"
	"github.com/fenwicklm/fenwick/engine"
)

func main() {
	cfg := getCfg()
	if cfg == nil {
		return
	}
	startServer(cfg)
}

// getCfg assembles the configuration from lower to higher priority:
// (1) the config file, (2) environment variables, both via config.Load.
// Depending on the -overwrite flag, it also writes a fresh config file
// and exits.
func getCfg() *config.Config {
	quiet := flag.Bool("q", false, "quiet mode (disable verbose output)")
	debug := flag.Bool("debug", false, "debug mode (verbose + extra diagnostics)")
	overwrite := flag.Bool("overwrite", false, "write the -config file with default values, then exit")
	noAPIKey := flag.Bool("no-api-key", false, "when used with -overwrite, leave the API key empty")
	path := flag.String("config", config.FileName, "path to the configuration file")
	vv.SetVersionFlag()
	flag.Parse()

	verbose := !*quiet
	switch {
	case *debug:
		slog.SetLogLoggerLevel(slog.LevelDebug)
	case verbose:
		slog.SetLogLoggerLevel(slog.LevelInfo)
	default:
		slog.SetLogLoggerLevel(slog.LevelWarn)
	}

	if *overwrite {
		cfg := config.Default()
		cfg.Verbose = verbose
		cfg.Debug = *debug
		if err := config.Write(*path, cfg, *noAPIKey); err != nil {
			slog.Error("failed to write config", "file", *path, "err", err)
			os.Exit(1)
		}
		slog.Info("wrote config", "file", *path)
		return nil
	}

	cfg, err := config.Load(*path)
	if err != nil {
		slog.Error("failed to load config", "file", *path, "err", err)
		os.Exit(1)
	}
	cfg.Verbose = verbose
	cfg.Debug = *debug
	return cfg
}

// startServer builds the Model Handle, the chat-completion handler, and
// the route tree, then serves until the process is killed.
//
// The engine.Reference handle stands in for a real GGUF/llama.cpp model
// binding (loading model weights is an external collaborator, not this
// server's concern); swap it for a real Handle implementation to serve
// an actual model.
func startServer(cfg *config.Config) {
	handle := engine.NewReference(4096, "")
	handler := chat.NewHandler(handle, 4)

	var realBackend chat.RealBackend
	if cfg.Backend.Exe != "" {
		realBackend = backend.New(backend.Config{
			Models: map[string]proxy.ModelConfig{
				cfg.DefaultModel: {Cmd: cfg.Backend.Exe},
			},
		}, cfg.DefaultModel)
		slog.Info("real backend configured", "exe", cfg.Backend.Exe, "model", cfg.DefaultModel)
	}

	e := chat.NewEcho(cfg, handler, realBackend)

	addr := cfg.Host
	server := &http.Server{
		Addr:    addr,
		Handler: e,
	}

	slog.Info("-------------------------------------------")
	slog.Info("starting HTTP server", "url", url(addr), "origins", cfg.Origins)
	slog.Info("CTRL+C to stop")
	err := server.ListenAndServe()
	slog.Info("server stopped", "err", err)
}

func url(addr string) string {
	if addr != "" && addr[0] == ':' {
		return "http://localhost" + addr
	}
	return "http://" + addr
}
