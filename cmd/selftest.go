package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"fobreader/config"
	"fobreader/gpio"
	"fobreader/reader"
)

var errSelfTestFailed = errors.New("reader self-test failed")

var selfTestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Run the reader chip self-test",
	Long: `Run the reader chip's digital self-test and print the result.

Exits non-zero when the test fails or the chip cannot be reached.`,
	RunE: runSelfTest,
}

func init() {
	rootCmd.AddCommand(selfTestCmd)
}

func runSelfTest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	pins, err := gpio.New(cfg.GPIO)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer pins.Close()

	drv, err := reader.New(cfg.Reader, pins)
	if err != nil {
		return fmt.Errorf("init reader: %w", err)
	}
	defer drv.Close()

	if dumper, ok := drv.(interface{ DumpVersion() }); ok {
		dumper.DumpVersion()
	}

	passed, err := drv.SelfTest()
	if err != nil {
		return err
	}
	if !passed {
		fmt.Println("Self-test: FAIL")
		return errSelfTestFailed
	}
	fmt.Println("Self-test: PASS")
	return nil
}
