package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fobreader/address"
	"fobreader/bus"
	"fobreader/config"
	"fobreader/device"
	"fobreader/gpio"
	"fobreader/indicator"
	"fobreader/mqtt"
	"fobreader/protocol"
	"fobreader/reader"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reader station",
	Long: `Run the reader station until SIGINT or SIGTERM.

Boot order: GPIO, station address, feedback outputs, reader chip, bus
transport, then the optional MQTT diagnostics channel.`,
	RunE: runStation,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runStation(cmd *cobra.Command, args []string) error {
	fmt.Printf("fobreader build %s\n", build)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	table, _ := protocol.TableByName(cfg.Bus.Protocol)

	mq, err := mqtt.New(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}

	pins, err := gpio.New(cfg.GPIO)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer pins.Close()

	addr, err := address.Read(pins, cfg.Address)
	if err != nil {
		return fmt.Errorf("read station address: %w", err)
	}

	fb, err := indicator.New(cfg.Indicator, pins)
	if err != nil {
		return fmt.Errorf("init indicator: %w", err)
	}

	drv, err := reader.New(cfg.Reader, pins)
	if err != nil {
		fb.Release()
		return fmt.Errorf("init reader: %w", err)
	}

	transport, err := bus.New(cfg.Bus, addr, pins)
	if err != nil {
		drv.Close()
		fb.Release()
		return fmt.Errorf("init bus: %w", err)
	}

	dev, err := device.New(device.Options{
		Address:   addr,
		Table:     table,
		Firmware:  cfg.Firmware,
		Transport: transport,
		Driver:    drv,
		Feedback:  fb,
		Reporter:  mq,
		Poll:      cfg.PollInterval(),
		Verbose:   cfg.Verbose,
	})
	if err != nil {
		transport.Close()
		drv.Close()
		fb.Release()
		return fmt.Errorf("init device: %w", err)
	}

	mq.Connect()
	dev.Boot()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- dev.Run(ctx) }()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		fmt.Println("Shutting down...")
		cancel()
		runErr = <-done
	case runErr = <-done:
		log.Printf("Station stopped: %v", runErr)
	}

	// Cleanup
	mq.Disconnect()
	if err := dev.Close(); err != nil {
		log.Printf("Cleanup: %v", err)
	}

	fmt.Println("Shutdown complete")
	return runErr
}
