package main

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/mijiabridge/internal/devicefactory"
	"github.com/srg/mijiabridge/internal/testutils"
	"github.com/srg/mijiabridge/internal/transport"
)

// CommandTestSuite runs commands against the fake session from SessionSuite.
// All cmd/mijiabridge test suites should embed this.
type CommandTestSuite struct {
	testutils.SessionSuite

	originalFactory func(backend, adapter string, logger *logrus.Logger) (transport.Session, error)
}

func (s *CommandTestSuite) SetupTest() {
	s.SessionSuite.SetupTest()

	s.originalFactory = devicefactory.SessionFactory
	devicefactory.SessionFactory = func(string, string, *logrus.Logger) (transport.Session, error) {
		return s.Session, nil
	}
	resetFlags(rootCmd.PersistentFlags())
	resetFlags(sensorsCmd.Flags())
}

func (s *CommandTestSuite) TearDownTest() {
	devicefactory.SessionFactory = s.originalFactory
	s.SessionSuite.TearDownTest()
}

// resetFlags restores flag defaults; commands are package globals shared by tests.
func resetFlags(flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
}

// WriteFile writes content to name in a per-test directory and returns its path.
func (s *CommandTestSuite) WriteFile(name, content string) string {
	path := filepath.Join(s.T().TempDir(), name)
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600), "fixture write MUST succeed")
	return path
}

// ExecuteCommand runs a cobra command with args, returns stdout, stderr and error.
func (s *CommandTestSuite) ExecuteCommand(cmd *cobra.Command, args ...string) (string, string, error) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}
