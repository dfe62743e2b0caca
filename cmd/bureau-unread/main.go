// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/unread/lib/config"
	"github.com/bureau-foundation/unread/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		var coded *exitError
		if errors.As(err, &coded) {
			if coded.err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", coded.err)
			}
			os.Exit(coded.code)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// exitError carries a specific process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func usageError(format string, args ...any) error {
	return &exitError{code: 2, err: fmt.Errorf(format, args...)}
}

// command is one subcommand. flags registers its flags on the shared
// flag set; execute runs it with the remaining positional arguments.
type command struct {
	name    string
	summary string
	usage   string
	flags   func(*pflag.FlagSet)
	execute func(ctx context.Context, app *app, args []string) error
}

// app is the state shared by every subcommand.
type app struct {
	config *config.Config
	logger *slog.Logger
	stdout io.Writer
}

func commands() []*command {
	return []*command{
		runCommand(),
		treeCommand(),
		markReadCommand(),
		checkCommand(),
		cacheCommand(),
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	// Handle --version before anything else.
	if len(args) > 0 && args[0] == "--version" {
		version.Print("bureau-unread")
		return nil
	}
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" || args[0] == "-h" {
		printUsage(stdout)
		return nil
	}

	var selected *command
	for _, candidate := range commands() {
		if candidate.name == args[0] {
			selected = candidate
			break
		}
	}
	if selected == nil {
		return usageError("unknown command %q (run \"bureau-unread help\")", args[0])
	}

	var configPath string
	flagSet := pflag.NewFlagSet("bureau-unread "+selected.name, pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&configPath, "config", "", "config file (default: $"+config.EnvironmentVariable+")")
	flagSet.BoolP("help", "h", false, "show help")
	if selected.flags != nil {
		selected.flags(flagSet)
	}
	if err := flagSet.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printCommandHelp(stdout, selected, flagSet)
			return nil
		}
		return usageError("%s: %w", selected.name, err)
	}
	if help, _ := flagSet.GetBool("help"); help {
		printCommandHelp(stdout, selected, flagSet)
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, os.Stderr).With("command", selected.name)

	return selected.execute(ctx, &app{config: cfg, logger: logger, stdout: stdout}, flagSet.Args())
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `bureau-unread rolls Matrix unread counts up the space hierarchy.

Usage:
  bureau-unread <command> [flags]

Commands:
`)
	for _, command := range commands() {
		fmt.Fprintf(w, "  %-10s %s\n", command.name, command.summary)
	}
	fmt.Fprintf(w, `
Every command reads its configuration from --config or $%s.
Run "bureau-unread <command> --help" for command flags.
`, config.EnvironmentVariable)
}

func printCommandHelp(w io.Writer, command *command, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, "%s\n\nUsage:\n  bureau-unread %s\n\nFlags:\n", command.summary, command.usage)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}
