//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/HQarroum/fhsbox/logger"
	"github.com/HQarroum/fhsbox/options"
	"github.com/HQarroum/fhsbox/resolver"
	"github.com/HQarroum/fhsbox/sandbox"
)

/**
 * Application entry point.
 */
func main() {
	// Parse command-line options.
	opts, err := options.ParseCli(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "parsing error:", err)
		os.Exit(1)
	} else if opts == nil {
		// No options means help or version was printed.
		os.Exit(0)
	}

	// Create the application logger.
	log := logger.CreateLogger(&logger.LoggerOpts{
		LogLevel:  opts.Sandbox.LogLevel,
		LogFormat: opts.Sandbox.LogFormat,
	})

	// Resolve the environment specification into a built FHS tree.
	// This happens before any namespace work.
	env, err := resolver.Resolve(opts.Env)
	if err != nil {
		log.Error("error while resolving the environment", slog.Any("err", err))
		os.Exit(1)
	}
	opts.Sandbox.Name = env.Name
	opts.Sandbox.FhsPath = env.FhsPath
	log.Info("environment resolved",
		slog.String("name", env.Name), slog.String("fhs", env.FhsPath))

	// Spawn the sandboxed shell.
	box, err := sandbox.NewSandbox(opts.Sandbox)
	if err != nil {
		log.Error("error while creating sandbox", slog.Any("err", err))
		os.Exit(1)
	}

	// Wait for the sandboxed process to finish.
	code, err := box.Wait()
	if err != nil {
		log.Error("error while waiting for sandbox", slog.Any("err", err))
		os.Exit(1)
	}

	os.Exit(code)
}
