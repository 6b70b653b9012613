package testutils

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/mijiabridge/internal/transport"
	"github.com/stretchr/testify/suite"
)

// SessionSuite provides a fresh fake session, registry mock and recording
// logger for every test.
//
//	type ScannerSuite struct {
//	    testutils.SessionSuite
//	}
//
//	func (s *ScannerSuite) SetupTest() {
//	    s.Devices = []transport.Handle{testutils.NamedHandle("4C:65:A8:AA:BB:CC", "LYWSD03MMC")}
//	    s.SessionSuite.SetupTest() // parent last so Devices is applied
//	}
type SessionSuite struct {
	suite.Suite

	Helper   *TestHelper
	Logger   *logrus.Logger
	Session  *FakeSession
	Registry *MockRegistry

	// Devices are reported by Session after discovery.
	Devices []transport.Handle
}

// SetupTest builds the fakes. Embedding suites configure Devices first.
func (s *SessionSuite) SetupTest() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.Session = NewFakeSession(s.Devices...)
	s.Registry = &MockRegistry{}
}

// TearDownTest closes the session and forgets per-test configuration.
func (s *SessionSuite) TearDownTest() {
	if s.Session != nil {
		_ = s.Session.Close()
	}
	s.Devices = nil
}
