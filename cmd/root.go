package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// CLI flags for the run command
	opts        RunOptions
	profilePath string // Optional YAML run profile
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "virtaccl",
	Short: "Soft real-time virtual accelerator",
}

// runCmd serves the simulated machine until interrupted
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the virtual accelerator",
	Run: func(cmd *cobra.Command, args []string) {
		resolved := opts
		if profilePath != "" {
			p, err := LoadProfile(profilePath)
			if err != nil {
				logrus.Fatalf("%v", err)
			}
			p.Apply(&resolved, filepath.Dir(profilePath), cmd.Flags().Changed)
		}

		// Set up logging
		level, err := logrus.ParseLevel(resolved.Log)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", resolved.Log)
		}
		logrus.SetLevel(level)

		if err := resolved.Validate(); err != nil {
			logrus.Fatalf("%v", err)
		}

		rt, err := Assemble(resolved)
		if err != nil {
			logrus.Fatalf("Configuration error: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := rt.Run(ctx); err != nil {
			logrus.Fatalf("%v", err)
		}
		logrus.Info("Virtual accelerator stopped.")
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&opts.Devices, "devices", "", "Device configuration JSON")
	runCmd.Flags().StringVar(&opts.Lattice, "lattice", "", "Lattice description YAML")
	runCmd.Flags().StringVar(&opts.PhaseOffsets, "phase-offsets", "", "Phase offset JSON (device name → degrees), reloaded on change")
	runCmd.Flags().Float64Var(&opts.Rate, "rate", 1.0, "Loop frequency in Hz")
	runCmd.Flags().BoolVar(&opts.SyncTime, "sync-time", false, "Stamp every publish with the tick start time")
	runCmd.Flags().Int64Var(&opts.Seed, "seed", 42, "Seed for the initial bunch and device noise")
	runCmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "HTTP listen address")
	runCmd.Flags().StringVar(&opts.Archive, "archive", "", "sqlite file archiving every published value")
	runCmd.Flags().StringVar(&opts.Log, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&opts.Trace, "trace", "ticks", "Tick trace level (none, ticks)")
	runCmd.Flags().StringVar(&profilePath, "profile", "", "YAML run profile; explicit flags win over its values")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
