//go:build linux

package options

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HQarroum/fhsbox/resolver"
	"github.com/HQarroum/fhsbox/sandbox"
	"github.com/HQarroum/fhsbox/version"
	"github.com/google/uuid"
	"github.com/goombaio/namegenerator"
	"github.com/inhies/go-bytesize"
	"github.com/urfave/cli/v3"
)

/**
 * Parsed command-line options: the environment specification handed to
 * the resolver and the sandbox parameters.
 */
type Options struct {
	Env     *resolver.Spec
	Sandbox *sandbox.SandboxOptions
}

/**
 * Builds an `Options` struct from CLI context.
 * @param c the CLI context
 * @return the built Options and error if any
 */
func buildOptionsFromCLI(c *cli.Command) (*Options, error) {
	o := &Options{
		Env: &resolver.Spec{
			Recipe:   c.String("recipe"),
			Packages: c.StringSlice("packages"),
			NoCache:  c.Bool("no-cache"),
		},
		Sandbox: &sandbox.SandboxOptions{
			UUID: uuid.New(),
			Run:  c.String("run"),
		},
	}

	// The environment specification is exclusive: a recipe or a
	// package list, never both.
	if c.IsSet("recipe") && len(o.Env.Packages) > 0 {
		return nil, errors.New("--recipe conflicts with --packages; supply exactly one")
	}

	// Package-list environments carry no user-authored name; make one up.
	if len(o.Env.Packages) > 0 {
		generator := namegenerator.NewNameGenerator(time.Now().UTC().UnixNano())
		o.Env.Name = generator.Generate()
	}

	// tmpfs size parsing; empty means kernel default.
	if s := c.String("tmpfs-size"); s != "" {
		size, err := bytesize.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("bad --tmpfs-size %q: %v", s, err)
		}
		o.Sandbox.TmpfsSize = uint64(size)
	}

	// Log level parsing.
	logLevel, err := parseLogLevel(c.String("log-level"))
	if err != nil {
		return nil, err
	}
	o.Sandbox.LogLevel = logLevel

	// Log format parsing.
	logFormat, err := parseLogFormat(c.String("log-format"))
	if err != nil {
		return nil, err
	}
	o.Sandbox.LogFormat = logFormat

	return o, nil
}

/**
 * Parses CLI flags into an `Options` struct.
 * @param ctx the parsing context
 * @param args the raw command-line arguments
 * @return the parsed options, or nil when help or version was printed
 */
func ParseCli(ctx context.Context, args []string) (*Options, error) {
	var resultOpts *Options

	cmd := &cli.Command{
		Name:    "fhsbox",
		Usage:   "Ephemeral FHS environments in rootless sandboxes.",
		Version: version.Version(),
		Flags: []cli.Flag{

			// Environment recipe
			&cli.StringFlag{
				Name:  "recipe",
				Value: "./shell.nix",
				Usage: "Path to the environment recipe to build",
			},

			// Package list
			&cli.StringSliceFlag{
				Name:  "packages",
				Usage: "A `package` to include in a synthesized environment",
			},

			// Command to run
			&cli.StringFlag{
				Name:  "run",
				Usage: "A command string to run instead of an interactive shell",
			},

			// New root tmpfs size
			&cli.StringFlag{
				Name:  "tmpfs-size",
				Usage: "Size of the tmpfs backing the sandbox root (e.g., 512MB)",
			},

			// Resolver cache bypass
			&cli.BoolFlag{
				Name:  "no-cache",
				Value: false,
				Usage: "Resolve the environment without consulting the cache",
			},

			// Verbosity
			&cli.StringFlag{
				Name:  "log-level",
				Value: "error",
				Usage: "Log verbosity (info|warn|error)",
			},

			// Log format.
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format (text|json)",
			},
		},

		// Parse arguments into an `Options` struct.
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() > 0 {
				return fmt.Errorf("unexpected argument %q; use --run to execute a command", c.Args().First())
			}

			opts, err := buildOptionsFromCLI(c)
			if err != nil {
				return err
			}
			resultOpts = opts
			return nil
		},
	}

	if err := cmd.Run(ctx, args); err != nil {
		_ = cli.ShowAppHelp(cmd)
		return nil, err
	}

	return resultOpts, nil
}
