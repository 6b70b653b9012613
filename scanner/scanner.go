package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/mijiabridge/internal/sensor"
	"github.com/srg/mijiabridge/internal/transport"
	"github.com/srg/mijiabridge/pkg/config"
)

// Scan phases reported through ProgressCallback.
const (
	PhaseScanning   = "Scanning"
	PhaseProcessing = "Processing results"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// Scanner runs time-boxed discovery passes over a transport session.
type Scanner struct {
	session transport.Session
	logger  *logrus.Logger
}

// NewScanner creates a scanner for the session.
func NewScanner(session transport.Session, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{session: session, logger: logger}
}

// Scan powers the adapter on, discovers for duration and returns every device
// the session knows about afterwards, including devices seen before the scan.
func (s *Scanner) Scan(ctx context.Context, duration time.Duration, progress ProgressCallback) ([]transport.Handle, error) {
	if progress == nil {
		progress = func(string) {}
	}

	if err := s.session.PowerOn(ctx); err != nil {
		return nil, err
	}
	if err := s.session.StartDiscovery(ctx); err != nil {
		return nil, err
	}

	s.logger.WithField("duration", duration).Info("Scanning for sensors...")
	progress(PhaseScanning)

	timer := time.NewTimer(duration)
	var waitErr error
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		waitErr = ctx.Err()
	}

	// Stop even when cancelled; the adapter would otherwise keep scanning.
	stopErr := s.session.StopDiscovery(context.WithoutCancel(ctx))
	if err := errors.Join(waitErr, stopErr); err != nil {
		return nil, err
	}

	progress(PhaseProcessing)
	devices, err := s.session.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	s.logger.WithField("count", len(devices)).Debug("Scan complete")
	return devices, nil
}

// Inventory splits discovered devices into sensors with a configured name and
// sensors of the profile's model that are missing from the name mapping.
type Inventory struct {
	Known   []transport.Handle
	Unnamed []transport.Handle
}

// Partition builds an Inventory, preserving the order of handles.
func Partition(handles []transport.Handle, names *config.SensorNames, profile sensor.Profile) Inventory {
	var inv Inventory
	for _, h := range handles {
		if _, ok := names.Lookup(h.Address()); ok {
			inv.Known = append(inv.Known, h)
		} else if profile.IsModel(h) {
			inv.Unnamed = append(inv.Unnamed, h)
		}
	}
	return inv
}
