package testutils

import (
	"context"
	"fmt"

	"github.com/srg/mijiabridge/internal/homie"
	"github.com/stretchr/testify/mock"
)

// MockRegistry implements the bridge registry collaborator for testing.
type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) AddNode(ctx context.Context, n homie.Node) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockRegistry) RemoveNode(ctx context.Context, nodeID string) error {
	args := m.Called(ctx, nodeID)
	return args.Error(0)
}

func (m *MockRegistry) PublishValue(ctx context.Context, nodeID, propertyID, value string) error {
	args := m.Called(ctx, nodeID, propertyID, value)
	return args.Error(0)
}

func (m *MockRegistry) Ready(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// AllowAll accepts any call that no earlier expectation matched.
// Register specific expectations (failures) before calling it.
func (m *MockRegistry) AllowAll() *MockRegistry {
	m.On("AddNode", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("RemoveNode", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("PublishValue", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("Ready", mock.Anything).Return(nil).Maybe()
	return m
}

// CallsTo returns the arguments (without the context) of every recorded call to method.
func (m *MockRegistry) CallsTo(method string) [][]any {
	var out [][]any
	for _, c := range m.snapshot() {
		if c.Method == method {
			out = append(out, c.Arguments[1:])
		}
	}
	return out
}

// Published returns recorded PublishValue calls formatted as "node/property=value".
func (m *MockRegistry) Published() []string {
	var out []string
	for _, args := range m.CallsTo("PublishValue") {
		out = append(out, fmt.Sprintf("%s/%s=%s", args[0], args[1], args[2]))
	}
	return out
}

// NodeIDs returns the ids of nodes passed to AddNode, in call order.
func (m *MockRegistry) NodeIDs() []string {
	var out []string
	for _, args := range m.CallsTo("AddNode") {
		out = append(out, args[0].(homie.Node).ID)
	}
	return out
}

// Removed returns the node ids passed to RemoveNode, in call order.
func (m *MockRegistry) Removed() []string {
	var out []string
	for _, args := range m.CallsTo("RemoveNode") {
		out = append(out, args[0].(string))
	}
	return out
}

func (m *MockRegistry) snapshot() []mock.Call {
	// Only valid once the code under test stopped calling the mock.
	return append([]mock.Call(nil), m.Calls...)
}
