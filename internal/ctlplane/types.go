package ctlplane

import (
	"time"

	"grimm.is/warden/internal/audit"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/scheduler"
	"grimm.is/warden/internal/services"
)

// Empty is used for RPC methods that take or return nothing.
type Empty struct{}

// RuleInfo describes one indexed rule.
type RuleInfo struct {
	ID         uint64    `json:"id"`
	Family     string    `json:"family"`
	Hash       string    `json:"hash"`
	Expiration time.Time `json:"expiration"`
	Name       string    `json:"name"`
}

// AddRuleArgs carries a rule descriptor in its binary wire form.
type AddRuleArgs struct {
	Descriptor []byte
	Weight     uint64
	Permit     bool
	Persistent bool
}

// AddRuleResult is the outcome of one family layer.
type AddRuleResult struct {
	Family   string `json:"family"`
	Hash     string `json:"hash"`
	Outcome  string `json:"outcome"`
	ID       uint64 `json:"id,omitempty"`
	Replaced uint64 `json:"replaced,omitempty"`
	Error    string `json:"error,omitempty"`
}

type AddRuleReply struct {
	RequestID string
	Results   []AddRuleResult
}

type ListRulesReply struct {
	Rules []RuleInfo
}

type RemoveRuleArgs struct {
	ID uint64
}

type RemoveAllReply struct {
	Removed int
}

type RemoveUnknownReply struct {
	Removed int
}

// RefreshReply mirrors rules.RefreshReport.
type RefreshReply struct {
	Indexed        int
	Foreign        int
	Expired        int
	Duplicates     int
	FailedRemovals int
}

// Status is the daemon status shown by `warden status`.
type Status struct {
	Version     string         `json:"version"`
	Backend     string         `json:"backend"`
	StartedAt   time.Time      `json:"started_at"`
	Uptime      string         `json:"uptime"`
	Rules       int            `json:"rules"`
	Capacity    int            `json:"capacity"`
	ByFamily    map[string]int `json:"by_family"`
	SweepActive bool           `json:"sweep_active"`
	Interval    time.Duration  `json:"interval"`
	LastSweep   time.Time      `json:"last_sweep,omitempty"`
	Sweeps      uint64         `json:"sweeps"`
	Journal     bool           `json:"journal"`

	Tasks    []scheduler.TaskStatus `json:"tasks,omitempty"`
	Services []services.Health      `json:"services,omitempty"`
}

type GetStatusReply struct {
	Status Status
}

// GetHistoryArgs filters journal events. Zero values mean no filter.
type GetHistoryArgs struct {
	Since  time.Time
	Action string
	RuleID uint64
	Limit  int
}

type GetHistoryReply struct {
	Events []audit.Event
}

// GetLogsArgs selects buffered daemon log entries.
type GetLogsArgs struct {
	Source string // component name, empty for all
	Level  string // minimum level, empty for all
	Limit  int
}

type GetLogsReply struct {
	Entries []logging.Entry
}
