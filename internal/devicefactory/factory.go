package devicefactory

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/mijiabridge/internal/transport"
	"github.com/srg/mijiabridge/internal/transport/bluez"
	"github.com/srg/mijiabridge/internal/transport/goble"
	"github.com/srg/mijiabridge/pkg/config"
)

// SessionFactory opens a transport session for the named backend.
// This is a variable so that it can be overridden in tests.
var SessionFactory = func(backend, adapter string, logger *logrus.Logger) (transport.Session, error) {
	switch backend {
	case config.TransportBlueZ:
		s, err := bluez.NewSession(adapter, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.TransportHCI:
		return goble.NewSession(adapter, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", backend)
	}
}

// NewSession opens the transport session selected by the configuration.
func NewSession(cfg *config.Config, logger *logrus.Logger) (transport.Session, error) {
	s, err := SessionFactory(cfg.Transport, cfg.Adapter, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s session on %s: %w", cfg.Transport, cfg.Adapter, err)
	}
	return s, nil
}
