package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/mijiabridge/bridge"
	"github.com/srg/mijiabridge/internal/devicefactory"
	"github.com/srg/mijiabridge/internal/sensor"
	"github.com/srg/mijiabridge/internal/transport"
	"github.com/srg/mijiabridge/pkg/config"
	"github.com/srg/mijiabridge/scanner"
	"golang.org/x/sys/unix"
)

// Sensor inventory states.
const (
	sensorNamed   = "named"
	sensorUnnamed = "unnamed"
	sensorMissing = "missing"
)

// sensorsCmd represents the sensors command
var sensorsCmd = &cobra.Command{
	Use:   "sensors",
	Short: "List nearby sensors",
	Long: `Scan once and list the sensors the bridge would use.

named    the sensor was found and has an entry in the sensor names file
unnamed  a LYWSD03MMC was found but has no entry; add it to bridge it
missing  the sensor names file lists it but it was not found`,
	Args: cobra.NoArgs,
	RunE: runSensors,
}

var sensorsFormat string

func init() {
	sensorsCmd.Flags().StringVarP(&sensorsFormat, "format", "f", "table", "Output format (table, json)")
}

type sensorEntry struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
	NodeID  string `json:"node_id"`
	Status  string `json:"status"`
}

func runSensors(cmd *cobra.Command, _ []string) error {
	if !slices.Contains([]string{"table", "json"}, sensorsFormat) {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", sensorsFormat)
	}

	logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	names, err := config.LoadSensorNames(cfg.SensorNames, logger)
	if err != nil {
		return err
	}

	session, err := devicefactory.NewSession(cfg, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, unix.SIGTERM)
	defer stop()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Looking for sensors", scanner.PhaseScanning, cfg.ScanDuration, scanner.PhaseProcessing)
	progress.Start()
	handles, err := scanner.NewScanner(session, logger).Scan(ctx, cfg.ScanDuration, progress.Callback())
	progress.Stop()
	if err != nil {
		return err
	}

	entries := inventory(handles, names, sensor.LYWSD03MMC)
	if sensorsFormat == "json" {
		return displaySensorsJSON(cmd.OutOrStdout(), entries)
	}
	return displaySensorsTable(cmd.OutOrStdout(), entries)
}

// inventory lists found named sensors, then unnamed ones, then configured
// sensors that were not found.
func inventory(handles []transport.Handle, names *config.SensorNames, profile sensor.Profile) []sensorEntry {
	inv := scanner.Partition(handles, names, profile)

	var entries []sensorEntry
	found := make(map[string]bool, len(inv.Known))
	for _, h := range inv.Known {
		name, _ := names.Lookup(h.Address())
		found[h.Address()] = true
		entries = append(entries, newSensorEntry(name, h.Address(), sensorNamed))
	}
	for _, h := range inv.Unnamed {
		entries = append(entries, newSensorEntry("", h.Address(), sensorUnnamed))
	}
	for _, addr := range names.Addresses() {
		if !found[addr] {
			name, _ := names.Lookup(addr)
			entries = append(entries, newSensorEntry(name, addr, sensorMissing))
		}
	}
	return entries
}

func newSensorEntry(name, address, status string) sensorEntry {
	return sensorEntry{Name: name, Address: address, NodeID: bridge.NodeID(address), Status: status}
}

func displaySensorsTable(out io.Writer, entries []sensorEntry) error {
	paint := map[string]func(a ...interface{}) string{
		sensorNamed:   color.New(color.FgGreen).SprintFunc(),
		sensorUnnamed: color.New(color.FgYellow).SprintFunc(),
		sensorMissing: color.New(color.FgRed).SprintFunc(),
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tNODE\tSTATUS")
	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, e.Address, e.NodeID, paint[e.Status](e.Status))
	}
	return w.Flush()
}

func displaySensorsJSON(out io.Writer, entries []sensorEntry) error {
	if entries == nil {
		entries = []sensorEntry{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(entries)
}
