package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// SensorNames maps hardware addresses to display names, in file order.
type SensorNames struct {
	names *orderedmap.OrderedMap[string, string]
}

// NewSensorNames creates an empty mapping.
func NewSensorNames() *SensorNames {
	return &SensorNames{names: orderedmap.New[string, string]()}
}

// LoadSensorNames reads a mapping file of "address = name" lines.
// Malformed lines are reported through logger; nil means logrus.New().
func LoadSensorNames(path string, logger *logrus.Logger) (*SensorNames, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sensor names: %w", err)
	}
	defer f.Close()

	names, err := ParseSensorNames(f, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return names, nil
}

// ParseSensorNames parses "address = name" lines. The name is everything after
// the first '='. Blank lines and '#' comments are ignored; lines without an
// address or a name are skipped with a warning.
func ParseSensorNames(r io.Reader, logger *logrus.Logger) (*SensorNames, error) {
	if logger == nil {
		logger = logrus.New()
	}
	names := NewSensorNames()

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		address, name, found := strings.Cut(line, "=")
		address, name = strings.TrimSpace(address), strings.TrimSpace(name)
		if !found || address == "" || name == "" {
			logger.WithFields(logrus.Fields{
				"line":    lineNo,
				"content": line,
			}).Warn("Skipping malformed sensor name line, expected 'address = name'")
			continue
		}
		names.Set(address, name)
	}
	return names, scanner.Err()
}

// Set maps address to name.
func (n *SensorNames) Set(address, name string) {
	n.names.Set(normalizeAddress(address), name)
}

// Lookup returns the name configured for address.
func (n *SensorNames) Lookup(address string) (string, bool) {
	return n.names.Get(normalizeAddress(address))
}

// Len returns the number of configured sensors.
func (n *SensorNames) Len() int {
	return n.names.Len()
}

// Addresses returns the configured addresses in file order.
func (n *SensorNames) Addresses() []string {
	out := make([]string, 0, n.names.Len())
	for pair := n.names.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

func normalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}
