// main.go: Interactive host shell for the plugin kernel
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	microkernel "github.com/agilira/go-microkernel"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		pluginDir  string
		auditFile  string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "microkernel",
		Short: "Plugin kernel host with an interactive shell",
		Long: `microkernel discovers plugin units under a directory, loads them in
dependency order inside sandboxed interpreters, and drops into an
interactive shell for inspecting and steering the running system.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := microkernel.DefaultKernelConfig()
			if configPath != "" {
				loaded, err := microkernel.LoadKernelConfig(configPath)
				if err != nil {
					return err
				}
				config = loaded
			}
			if pluginDir != "" {
				config.PluginDir = pluginDir
			}
			if auditFile != "" {
				config.Audit.Enabled = true
				config.Audit.OutputFile = auditFile
			}

			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			kernel, err := microkernel.NewKernel(config, logger)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			resolution := kernel.Init(ctx)
			for name, diag := range resolution.Excluded {
				fmt.Fprintf(cmd.OutOrStdout(), "excluded %s: %v\n", name, diag)
			}

			var watcher *microkernel.ConfigWatcher
			if configPath != "" {
				watcher = microkernel.NewConfigWatcher(kernel, configPath, microkernel.NewLogger(logger))
				if err := watcher.Start(); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "config watch unavailable: %v\n", err)
					watcher = nil
				}
			}

			shell := &shell{kernel: kernel, out: cmd.OutOrStdout()}
			shell.run(ctx, cmd.InOrStdin())

			if watcher != nil {
				watcher.Stop()
			}
			return kernel.Shutdown(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "kernel configuration file (yaml or json)")
	cmd.Flags().StringVarP(&pluginDir, "plugins", "p", "", "plugin directory (overrides configuration)")
	cmd.Flags().StringVar(&auditFile, "audit-log", "", "enable the security audit trail to this file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

// shell is the interactive command loop. Unknown input prints a hint and
// keeps the loop alive; only "exit" (or EOF) leaves it.
type shell struct {
	kernel *microkernel.Kernel
	out    io.Writer
}

type shellCommand struct {
	name    string
	usage   string
	summary string
	manual  string
	run     func(s *shell, ctx context.Context, args []string)
}

var shellCommands = []shellCommand{
	{
		name:    "list",
		usage:   "list",
		summary: "Show every discovered plugin and its state",
		manual: `Lists the descriptor table: name, version, lifecycle state, and
description. States: Discovered, Loading, Active, Failed, Unloading.`,
		run: (*shell).cmdList,
	},
	{
		name:    "load",
		usage:   "load <plugin>",
		summary: "Load a discovered plugin",
		manual: `Runs the full load pipeline for one plugin: dependency validation,
security scan, interpretation, and the supervised start entry point.
Loading an Active plugin is a no-op.`,
		run: (*shell).cmdLoad,
	},
	{
		name:    "reload",
		usage:   "reload <plugin>",
		summary: "Reload a plugin and its active dependents",
		manual: `Unloads every Active plugin that transitively depends on the target,
unloads and reloads the target, then restores the dependents in
dependency order. If the target fails to come back the cascade halts
and the dependents stay unloaded.`,
		run: (*shell).cmdReload,
	},
	{
		name:    "stop",
		usage:   "stop <plugin>",
		summary: "Unload an active plugin",
		manual: `Runs the supervised stop entry point, then unconditionally tears the
plugin down: background tasks, event subscriptions, and the local data
namespace are all released.`,
		run: (*shell).cmdStop,
	},
	{
		name:    "data",
		usage:   "data",
		summary: "Dump the shared data store",
		manual: `Prints the global namespace and every plugin's local namespace as JSON.
The dump is a snapshot; plugins keep mutating the live store.`,
		run: (*shell).cmdData,
	},
	{
		name:    "emit",
		usage:   "emit <event> [key=value]...",
		summary: "Dispatch an event to subscribers",
		manual: `Dispatches the event synchronously through the bus and prints each
subscriber's return value or error. Arguments after the event name are
parsed as key=value pairs.`,
		run: (*shell).cmdEmit,
	},
}

func (s *shell) run(ctx context.Context, in io.Reader) {
	fmt.Fprintln(s.out, "microkernel shell. Type 'help' for commands, 'exit' to quit.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		name, args := fields[0], fields[1:]
		switch name {
		case "exit", "quit":
			return
		case "help", "?":
			s.printHelp(args)
			continue
		}

		cmd := lookupCommand(name)
		if cmd == nil {
			fmt.Fprintf(s.out, "unknown command %q. Type 'help' for the command list.\n", name)
			continue
		}
		if wantsHelp(args) {
			s.printManual(cmd)
			continue
		}
		cmd.run(s, ctx, args)
	}
}

func lookupCommand(name string) *shellCommand {
	for i := range shellCommands {
		if shellCommands[i].name == name {
			return &shellCommands[i]
		}
	}
	return nil
}

func wantsHelp(args []string) bool {
	for _, arg := range args {
		if arg == "-h" || arg == "--help" {
			return true
		}
	}
	return false
}

func (s *shell) printHelp(args []string) {
	if len(args) > 0 {
		if cmd := lookupCommand(args[0]); cmd != nil {
			s.printManual(cmd)
			return
		}
		fmt.Fprintf(s.out, "unknown command %q\n", args[0])
		return
	}
	fmt.Fprintln(s.out, "Commands:")
	for _, cmd := range shellCommands {
		fmt.Fprintf(s.out, "  %-28s %s\n", cmd.usage, cmd.summary)
	}
	fmt.Fprintln(s.out, "  help [command]               Show this list or one command's manual")
	fmt.Fprintln(s.out, "  exit                         Shut the kernel down and quit")
}

func (s *shell) printManual(cmd *shellCommand) {
	fmt.Fprintf(s.out, "Usage: %s\n\n%s\n", cmd.usage, cmd.manual)
}

func (s *shell) cmdList(ctx context.Context, args []string) {
	plugins := s.kernel.Plugins()
	if len(plugins) == 0 {
		fmt.Fprintln(s.out, "no plugins discovered")
		return
	}
	for _, p := range plugins {
		fmt.Fprintf(s.out, "  %-20s %-10s %-12s %s\n", p.Name, p.Version, p.State, p.Description)
	}
}

func (s *shell) cmdLoad(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "usage: load <plugin>")
		return
	}
	if err := s.kernel.LoadPlugin(ctx, args[0]); err != nil {
		fmt.Fprintf(s.out, "load failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "%s is active\n", args[0])
}

func (s *shell) cmdReload(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "usage: reload <plugin>")
		return
	}
	if err := s.kernel.ReloadPlugin(ctx, args[0]); err != nil {
		fmt.Fprintf(s.out, "reload failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "%s reloaded\n", args[0])
}

func (s *shell) cmdStop(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "usage: stop <plugin>")
		return
	}
	if err := s.kernel.UnloadPlugin(ctx, args[0]); err != nil {
		fmt.Fprintf(s.out, "stop failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "%s unloaded\n", args[0])
}

func (s *shell) cmdData(ctx context.Context, args []string) {
	global, local := s.kernel.DataSnapshot()
	dump, err := json.MarshalIndent(map[string]any{
		"global": global,
		"local":  local,
	}, "", "  ")
	if err != nil {
		fmt.Fprintf(s.out, "snapshot failed: %v\n", err)
		return
	}
	fmt.Fprintln(s.out, string(dump))
}

func (s *shell) cmdEmit(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "usage: emit <event> [key=value]...")
		return
	}
	event := args[0]
	payload := make(map[string]any, len(args)-1)
	for _, pair := range args[1:] {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			fmt.Fprintf(s.out, "bad argument %q: expected key=value\n", pair)
			return
		}
		payload[key] = value
	}

	results := s.kernel.Call(event, payload)
	if len(results) == 0 {
		fmt.Fprintf(s.out, "no subscribers for %q\n", event)
		return
	}
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(s.out, "  %-20s error: %v\n", r.Owner, r.Err)
			continue
		}
		fmt.Fprintf(s.out, "  %-20s %v\n", r.Owner, r.Value)
	}
}
