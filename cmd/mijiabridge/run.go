package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/mijiabridge/bridge"
	"github.com/srg/mijiabridge/internal/devicefactory"
	"github.com/srg/mijiabridge/internal/homie"
	"github.com/srg/mijiabridge/internal/metrics"
	"github.com/srg/mijiabridge/internal/sensor"
	"github.com/srg/mijiabridge/pkg/config"
	"golang.org/x/sys/unix"
)

const closeTimeout = 3 * time.Second

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge",
	Long: `Scan for the sensors listed in the sensor names file, keep them connected
and publish their readings to the MQTT broker until interrupted.

Sensors that fail to connect are retried in turn; a sensor that drops its
connection is removed from the Homie device and queued again. The bridge
stops on the first broker or Bluetooth adapter failure.`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

func runBridge(cmd *cobra.Command, _ []string) error {
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
	logger.WithFields(logrus.Fields{
		"file":    cfg.SensorNames,
		"sensors": names.Len(),
	}).Info("Loaded sensor names")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, unix.SIGTERM)
	defer stop()

	return serve(ctx, cfg, names, logger)
}

// serve wires the transport session, the Homie device and the bridge and
// supervises them until one of them fails or ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, names *config.SensorNames, logger *logrus.Logger) error {
	session, err := devicefactory.NewSession(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.WithError(err).Debug("Failed to close Bluetooth session")
		}
	}()

	device := homie.NewDevice(homie.Config{
		BaseTopic:      cfg.BaseTopic(),
		Name:           cfg.DeviceName,
		Broker:         cfg.BrokerURL(),
		ClientID:       cfg.ClientName,
		Username:       cfg.Username,
		Password:       cfg.Password,
		KeepAlive:      cfg.KeepAlive,
		PublishTimeout: cfg.PublishTimeout,
	}, logger)
	if err := device.Start(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := device.Close(closeCtx); err != nil {
			logger.WithError(err).Warn("Failed to close MQTT connection cleanly")
		}
	}()

	m := metrics.New()
	b, err := bridge.New(session, device, bridge.Options{
		ScanDuration:    cfg.ScanDuration,
		ConnectTimeout:  cfg.ConnectTimeout,
		IncomingTimeout: cfg.IncomingTimeout,
		Profile:         sensor.LYWSD03MMC,
		Names:           names,
		Logger:          logger,
		Metrics:         m,
		Progress: func(phase string) {
			logger.WithField("phase", phase).Debug("Scan progress")
		},
	})
	if err != nil {
		return err
	}

	units := []bridge.Unit{
		{Name: "bridge", Run: b.Run},
		{Name: "homie", Run: device.Run},
	}
	if cfg.MetricsAddr != "" {
		logger.WithField("addr", cfg.MetricsAddr).Info("Serving metrics")
		units = append(units, bridge.Unit{Name: "metrics", Run: func(ctx context.Context) error {
			return m.Serve(ctx, cfg.MetricsAddr)
		}})
	}

	logger.WithFields(logrus.Fields{
		"broker": cfg.BrokerURL().String(),
		"topic":  cfg.BaseTopic(),
	}).Info("Starting bridge")

	if err := bridge.Supervise(ctx, units...); err != nil {
		return fmt.Errorf("bridge stopped: %w", err)
	}
	return nil
}
