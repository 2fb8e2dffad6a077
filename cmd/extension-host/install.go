package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/deskwire/extensions/internal/domain/manifest"
	"github.com/deskwire/extensions/internal/infrastructure/manifestio"
)

func init() {
	rootCmd.AddCommand(newInstallCmd())
}

func newInstallCmd() *cobra.Command {
	var noInteractive bool

	cmd := &cobra.Command{
		Use:   "install <module-dir>",
		Short: "Bind a module's manifest to its binary with a tamper hash",
		Long: `install parses a module's manifest, shows the admin exactly which
capabilities it declares, and on confirmation writes the tamper hash that
binds the manifest to its binary. Permissions are fixed from that point on;
changing the manifest or binary afterward invalidates the hash and the
module will refuse to load.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(args[0], noInteractive)
		},
	}

	cmd.Flags().BoolVar(&noInteractive, "yes", false, "skip the confirmation prompt")

	return cmd
}

func runInstall(dir string, noInteractive bool) error {
	loader := manifestio.NewLoader(hostAPIVersion)

	m, err := loader.Load(dir)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	printPermissions(m)

	if !noInteractive {
		confirmed := false
		if err := huh.NewConfirm().
			Title(fmt.Sprintf("Grant %s the capabilities listed above?", m.ID)).
			Affirmative("Install").
			Negative("Cancel").
			Value(&confirmed).
			Run(); err != nil {
			return err
		}
		if !confirmed {
			fmt.Println("install cancelled, no hash written")
			return nil
		}
	}

	if err := manifestio.WriteHash(dir); err != nil {
		return fmt.Errorf("write tamper hash: %w", err)
	}

	fmt.Printf("%s installed: permissions bound to the current manifest and binary\n", m.ID)
	return nil
}

func printPermissions(m *manifest.Manifest) {
	p := m.Permissions

	fmt.Printf("%s (%s) requests:\n", m.ID, m.Version)
	if len(p.Subscribe) > 0 {
		fmt.Printf("  subscribe: %v\n", p.Subscribe)
	}
	if len(p.Call) > 0 {
		fmt.Printf("  call:      %v\n", p.Call)
	}
	if p.NetworkHTTP {
		fmt.Println("  network:   http")
	}
	if p.NetworkWebsocket {
		fmt.Println("  network:   websocket")
	}
	if p.NetworkTCP {
		fmt.Println("  network:   tcp")
	}
	if p.Storage {
		fmt.Println("  storage:   yes")
	}
	if p.Timers {
		fmt.Println("  timers:    yes")
	}
}
