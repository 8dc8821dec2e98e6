package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/Duskaraa/Plots-Manager/internal/lifecycle"
)

// MockSource is a mock implementation of lifecycle.Source.
type MockSource struct {
	mock.Mock
}

//nolint:revive
func (m *MockSource) Subscribe(handler func(payload any)) error {
	args := m.Called(handler)
	return args.Error(0)
}

// MockFatalSource is a mock implementation of lifecycle.FatalSource.
type MockFatalSource struct {
	mock.Mock
}

//nolint:revive
func (m *MockFatalSource) SubscribeFatal(handler func(sig lifecycle.FatalSignal)) error {
	args := m.Called(handler)
	return args.Error(0)
}

// MockFatalSignal is a mock implementation of lifecycle.FatalSignal.
type MockFatalSignal struct {
	mock.Mock
}

//nolint:revive
func (m *MockFatalSignal) Reason() string {
	args := m.Called()
	return args.String(0)
}

//nolint:revive
func (m *MockFatalSignal) Cancel() error {
	args := m.Called()
	return args.Error(0)
}
