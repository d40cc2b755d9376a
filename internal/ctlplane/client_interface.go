package ctlplane

import (
	"grimm.is/warden/internal/fwdata"
	"grimm.is/warden/internal/rules"
)

// ControlPlaneClient defines the interface for communicating with the control plane.
// This interface enables mocking in unit tests.
type ControlPlaneClient interface {
	Close() error

	// --- Rules ---
	AddRule(d *fwdata.Descriptor, opts rules.AddOptions) (*AddRuleReply, error)
	ListRules() ([]RuleInfo, error)
	RemoveRule(id uint64) error
	RemoveAll() (int, error)
	RemoveUnknown() (int, error)
	Refresh() (*RefreshReply, error)

	// --- Status & Journal ---
	GetStatus() (*Status, error)
	GetHistory(args *GetHistoryArgs) (*GetHistoryReply, error)
	GetLogs(args *GetLogsArgs) (*GetLogsReply, error)
}

var _ ControlPlaneClient = (*Client)(nil)
