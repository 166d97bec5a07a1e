package cmd

import (
	"github.com/spf13/cobra"

	"fobreader/config"
)

var (
	cfgFile string
	build   string
)

var rootCmd = &cobra.Command{
	Use:   "fobreader",
	Short: "CyGate4 fob reader station",
	Long: `fobreader - firmware for a CyGate4 fob reader station.

The station polls an MFRC522 reader for MIFARE Classic fobs and answers the
access controller's one-byte commands on the shared bus. Its bus address is
read from three address pins at boot.

With no subcommand the station runs until interrupted.`,
	SilenceUsage: true,
	RunE:         runStation,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "cfg", config.DefaultFile, "Config file")
}

// Execute runs the root command. version is the build stamp shown at boot.
func Execute(version string) error {
	build = version
	rootCmd.Version = version
	return rootCmd.Execute()
}
