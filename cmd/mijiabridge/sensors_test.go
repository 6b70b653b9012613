package main

import (
	"io/fs"
	"testing"

	"github.com/fatih/color"
	"github.com/srg/mijiabridge/internal/testutils"
	"github.com/srg/mijiabridge/internal/transport"
	"github.com/stretchr/testify/suite"
)

const sensorNamesFixture = `# sensors
4C:65:A8:AA:BB:CC = Kitchen
a4:c1:38:00:00:02 = Garage
`

type SensorsCommandTestSuite struct {
	CommandTestSuite
	names string
}

func (s *SensorsCommandTestSuite) SetupTest() {
	s.Devices = []transport.Handle{
		testutils.NamedHandle("4C:65:A8:AA:BB:CC", "LYWSD03MMC"),
		testutils.NamedHandle("A4:C1:38:99:99:99", "LYWSD03MMC"),
		testutils.NamedHandle("11:22:33:44:55:66", "Phone"),
	}
	s.CommandTestSuite.SetupTest()
	s.names = s.WriteFile("sensor_names.conf", sensorNamesFixture)

	noColor := color.NoColor
	color.NoColor = true
	s.T().Cleanup(func() { color.NoColor = noColor })
}

func (s *SensorsCommandTestSuite) TestTableOutput() {
	stdout, _, err := s.ExecuteCommand(rootCmd, "sensors", "--sensor-names", s.names, "--scan-duration", "10ms")
	s.Require().NoError(err)

	testutils.AssertText(s.T(), stdout, `
NAME     ADDRESS            NODE          STATUS
Kitchen  4C:65:A8:AA:BB:CC  4C65A8AABBCC  named
-        A4:C1:38:99:99:99  A4C138999999  unnamed
Garage   A4:C1:38:00:00:02  A4C138000002  missing
`)

	s.Equal([]string{"power-on", "start-discovery", "stop-discovery", "devices"}, s.Session.Calls())
}

func (s *SensorsCommandTestSuite) TestJSONOutput() {
	stdout, _, err := s.ExecuteCommand(rootCmd, "sensors", "--sensor-names", s.names, "--scan-duration", "10ms", "-f", "json")
	s.Require().NoError(err)

	testutils.AssertJSON(s.T(), stdout, `[
		{"name": "Kitchen", "address": "4C:65:A8:AA:BB:CC", "node_id": "4C65A8AABBCC", "status": "named"},
		{"address": "A4:C1:38:99:99:99", "node_id": "A4C138999999", "status": "unnamed"},
		{"name": "Garage", "address": "A4:C1:38:00:00:02", "node_id": "A4C138000002", "status": "missing"}
	]`)
}

func (s *SensorsCommandTestSuite) TestEmptyInventoryAsJSON() {
	empty := s.WriteFile("empty.conf", "# nothing yet\n")
	s.Session = testutils.NewFakeSession()

	stdout, _, err := s.ExecuteCommand(rootCmd, "sensors", "--sensor-names", empty, "--scan-duration", "10ms", "--format", "json")
	s.Require().NoError(err)
	testutils.AssertJSON(s.T(), stdout, `[]`)
}

func (s *SensorsCommandTestSuite) TestProgressGoesToStderr() {
	stdout, stderr, err := s.ExecuteCommand(rootCmd, "sensors", "--sensor-names", s.names, "--scan-duration", "10ms")
	s.Require().NoError(err)

	s.Contains(stderr, "Looking for sensors")
	s.Contains(stderr, clearLineSequence)
	s.NotContains(stdout, "Looking for sensors")
}

func (s *SensorsCommandTestSuite) TestEnvFileSelectsNamesFile() {
	envFile := s.WriteFile("bridge.env", "SENSOR_NAMES="+s.names+"\nSCAN_DURATION=10ms\n")

	stdout, _, err := s.ExecuteCommand(rootCmd, "sensors", "--env-file", envFile)
	s.Require().NoError(err)
	s.Contains(stdout, "Kitchen")
}

func (s *SensorsCommandTestSuite) TestErrors() {
	s.Run("invalid format", func() {
		_, _, err := s.ExecuteCommand(rootCmd, "sensors", "--sensor-names", s.names, "-f", "xml")
		s.ErrorContains(err, "invalid format 'xml'")
		s.Empty(s.Session.Calls(), "no scan MUST be attempted")
	})

	s.Run("missing names file", func() {
		resetFlags(sensorsCmd.Flags())
		_, _, err := s.ExecuteCommand(rootCmd, "sensors", "--sensor-names", s.names+".missing")
		s.ErrorIs(err, fs.ErrNotExist)
		s.Contains(FormatUserError(err), "--sensor-names")
		s.Empty(s.Session.Calls())
	})

	s.Run("adapter failure", func() {
		resetFlags(sensorsCmd.Flags())
		s.Session.PowerOnErr = transport.ErrNotInitialized
		_, _, err := s.ExecuteCommand(rootCmd, "sensors", "--sensor-names", s.names, "--scan-duration", "10ms")
		s.ErrorIs(err, transport.ErrNotInitialized)
		s.Contains(FormatUserError(err), "bluetoothd")
	})
}

func TestSensorsCommandTestSuite(t *testing.T) {
	suite.Run(t, new(SensorsCommandTestSuite))
}
