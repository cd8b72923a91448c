// Braccio scan: lists nearby Braccio arms and local serial ports, and can
// save the strongest arm found as the configured one.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/teslashibe/go-braccio/internal/config"
	"github.com/teslashibe/go-braccio/internal/log"
	"github.com/teslashibe/go-braccio/pkg/armconfig"
	"github.com/teslashibe/go-braccio/pkg/ble"
	"github.com/teslashibe/go-braccio/pkg/serialport"
)

func main() {
	timeout := flag.Duration("timeout", config.DefaultScanTimeout, "How long to listen for advertisements")
	prefix := flag.String("prefix", ble.DefaultPrefix, "Advertised name prefix to match")
	ports := flag.Bool("ports", false, "List serial ports instead of scanning BLE")
	asJSON := flag.Bool("json", false, "Print JSON")
	save := flag.Bool("save", false, "Save the strongest arm found as the configured arm")
	configDir := flag.String("config-dir", config.DefaultConfigDir, "Arm config directory used by -save")
	flag.Parse()

	log.Init("warn")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *ports {
		list, err := serialport.ListPorts()
		if err != nil {
			fatal(err)
		}
		if *asJSON {
			writeJSON(os.Stdout, list)
			return
		}
		for _, p := range list {
			fmt.Println(p)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "Scanning for %s... devices (%s)\n", *prefix, *timeout)
	devices, err := ble.Scan(ctx, *prefix, *timeout)
	if err != nil {
		fatal(err)
	}

	if *asJSON {
		writeJSON(os.Stdout, devices)
	} else {
		printDevices(os.Stdout, devices)
	}

	if *save {
		if len(devices) == 0 {
			fatal(fmt.Errorf("no device to save"))
		}
		cfg := configFor(devices[0])
		if err := armconfig.NewStore(*configDir).Save(cfg); err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stderr, "Saved %s (%s) to %s\n", cfg.Name, cfg.Address, *configDir)
	}
}

// configFor turns a scan hit into an arm config.
func configFor(d ble.Device) armconfig.ArmConfig {
	return armconfig.ArmConfig{Name: d.Name, Address: d.Address, Transport: armconfig.TransportBLE}
}

func printDevices(w io.Writer, devices []ble.Device) {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No devices found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", d.Name, d.Address, d.RSSI)
	}
	tw.Flush()
}

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "braccio-scan: %v\n", err)
	os.Exit(1)
}

