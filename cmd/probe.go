package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"fobreader/address"
	"fobreader/bus"
	"fobreader/protocol"
	"fobreader/reader"
)

var (
	probePort     string
	probeBaud     int
	probeStation  int
	probeProtocol string
	probeTimeout  time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe <command>",
	Short: "Send one command to a station as the bus master",
	Long: `Send one command to a station over a serial bus adapter and decode the reply.

The command is a name from the active table (for example GET_AVAILABLE) or
a raw code such as 0xFE. Reading GET_TAGS clears the station's tag.

Exit codes:
  0 - Reply received and decoded
  1 - No reply, bad reply or connection error`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringVarP(&probePort, "port", "p", "/dev/ttyUSB0", "Serial port device")
	probeCmd.Flags().IntVarP(&probeBaud, "baud", "b", 115200, "Baud rate")
	probeCmd.Flags().IntVarP(&probeStation, "station", "s", address.Base, "Station address")
	probeCmd.Flags().StringVar(&probeProtocol, "protocol", "canonical", "Command table (canonical or legacy)")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 500*time.Millisecond, "Time to wait for the reply")
}

func runProbe(cmd *cobra.Command, args []string) error {
	table, err := protocol.TableByName(probeProtocol)
	if err != nil {
		return err
	}
	entry, err := lookupCommand(table, args[0])
	if err != nil {
		return err
	}
	if probeStation <= bus.HostStation || probeStation > 0xFF {
		return fmt.Errorf("station must be 1..255, got %d", probeStation)
	}

	port, err := serial.Open(probePort, &serial.Mode{
		BaudRate: probeBaud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("open serial %s: %w", probePort, err)
	}
	defer port.Close()
	if err := port.SetReadTimeout(20 * time.Millisecond); err != nil {
		return fmt.Errorf("set read timeout: %w", err)
	}

	raw, err := bus.Request(port, byte(probeStation), entry.Code, probeTimeout)
	if err != nil {
		return err
	}
	fmt.Printf("Station 0x%02X %s (0x%02X): % X\n", probeStation, entry.Name, entry.Code, raw)

	reply, err := protocol.Decode(entry, raw)
	if err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	fmt.Println(formatReply(reply))
	return nil
}

// lookupCommand accepts a command name or a numeric code.
func lookupCommand(table protocol.Table, arg string) (protocol.Entry, error) {
	if e, ok := table.LookupName(arg); ok {
		return e, nil
	}
	code, err := strconv.ParseUint(arg, 0, 8)
	if err != nil {
		return protocol.Entry{}, fmt.Errorf("unknown %s command %q", table.Name(), arg)
	}
	e, ok := table.Lookup(byte(code))
	if !ok {
		return protocol.Entry{}, fmt.Errorf("code 0x%02X is not a %s command", code, table.Name())
	}
	return e, nil
}

func formatReply(r protocol.Reply) string {
	switch r.Entry.Action {
	case protocol.ActionFirmware:
		return "  Firmware: " + r.Firmware
	case protocol.ActionSelfTest:
		if r.Passed {
			return "  Self-test: PASS"
		}
		return "  Self-test: FAIL"
	case protocol.ActionPresence:
		return fmt.Sprintf("  Tag available: %v", r.Available)
	case protocol.ActionVersion:
		return fmt.Sprintf("  Chip version: 0x%02X (%s)", r.Version, reader.VersionName(r.Version))
	case protocol.ActionTags:
		if r.Tag.IsEmpty() {
			return "  Tag: none"
		}
		return fmt.Sprintf("  Tag: %v", r.Tag)
	default:
		return "  " + r.Entry.Action.String() + ": ok"
	}
}
