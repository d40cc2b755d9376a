package ctlplane

import (
	"grimm.is/warden/internal/fwdata"
	"grimm.is/warden/internal/rules"

	"github.com/stretchr/testify/mock"
)

// MockControlPlaneClient is a mock implementation of ControlPlaneClient for testing.
type MockControlPlaneClient struct {
	mock.Mock
}

var _ ControlPlaneClient = (*MockControlPlaneClient)(nil)

func (m *MockControlPlaneClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockControlPlaneClient) AddRule(d *fwdata.Descriptor, opts rules.AddOptions) (*AddRuleReply, error) {
	args := m.Called(d, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AddRuleReply), args.Error(1)
}

func (m *MockControlPlaneClient) ListRules() ([]RuleInfo, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]RuleInfo), args.Error(1)
}

func (m *MockControlPlaneClient) RemoveRule(id uint64) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *MockControlPlaneClient) RemoveAll() (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func (m *MockControlPlaneClient) RemoveUnknown() (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func (m *MockControlPlaneClient) Refresh() (*RefreshReply, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RefreshReply), args.Error(1)
}

func (m *MockControlPlaneClient) GetStatus() (*Status, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Status), args.Error(1)
}

func (m *MockControlPlaneClient) GetHistory(a *GetHistoryArgs) (*GetHistoryReply, error) {
	args := m.Called(a)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*GetHistoryReply), args.Error(1)
}

func (m *MockControlPlaneClient) GetLogs(a *GetLogsArgs) (*GetLogsReply, error) {
	args := m.Called(a)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*GetLogsReply), args.Error(1)
}
