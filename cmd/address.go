package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"fobreader/address"
	"fobreader/config"
	"fobreader/gpio"
)

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the station address set on the address pins",
	RunE:  runAddress,
}

func init() {
	rootCmd.AddCommand(addressCmd)
}

func runAddress(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	pins, err := gpio.New(cfg.GPIO)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer pins.Close()

	addr, err := address.Read(pins, cfg.Address)
	if err != nil {
		return err
	}

	fmt.Printf("Station address %v (pins %v = %d)\n", addr, cfg.Address.Pins, addr.Offset())
	return nil
}
