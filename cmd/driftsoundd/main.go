// Command driftsoundd is the sound server daemon: it loads configuration,
// brings up logging and telemetry, and serves the native protocol over a
// unix and/or TCP socket until it receives SIGINT/SIGTERM.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/driftsound/driftsound/internal/conf"
)

// version is overwritten at build time with -ldflags
// "-X main.version=...", mirroring internal/conf's own build-time
// buildDate variable.
var version = "dev"

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rootCommand builds the cobra command tree. Settings are loaded once,
// before any subcommand runs, so dump-cookie and run see the same
// configuration a user would expect from a single invocation.
func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "driftsoundd",
		Short: "driftsoundd sound server",
	}

	var settings *conf.Settings

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd().Name() {
			return nil
		}
		loaded, err := conf.Load()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		settings = loaded
		return nil
	}

	root.PersistentFlags().Bool("debug", viper.GetBool("debug"), "enable debug-level logging across all modules")
	if err := viper.BindPFlag("debug", root.PersistentFlags().Lookup("debug")); err != nil {
		fmt.Fprintf(os.Stderr, "error binding flags: %v\n", err)
	}

	root.AddCommand(
		runCommand(&settings),
		dumpCookieCommand(&settings),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the driftsoundd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("driftsoundd", version)
			return nil
		},
	}
}
