package engine

import (
	"errors"
	"time"

	"momentum-trader/internal/strategy"
)

var (
	ErrCycleRunning  = errors.New("scan cycle already running")
	ErrInvalidStatus = errors.New("invalid order status")
)

// CycleResult summarises one scan cycle.
type CycleResult struct {
	Seq        uint64        `json:"seq"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Ranked     int           `json:"ranked"`
	Candidates int           `json:"candidates"`
	Subscribed []string      `json:"subscribed,omitempty"`
	Dropped    []string      `json:"dropped,omitempty"`
	Evaluated  int           `json:"evaluated"`
	QuoteMiss  int           `json:"quote_miss"`
	Signals    int           `json:"signals"`
	Submitted  int           `json:"submitted"`
	Failed     int           `json:"failed"`
	Error      string        `json:"error,omitempty"`
}

// SystemStatus represents the system runtime status.
type SystemStatus struct {
	SessionID    string              `json:"session_id"`
	Mode         string              `json:"mode"`
	DryRun       bool                `json:"dry_run"`
	Broker       string              `json:"broker"`
	HostID       string              `json:"host_id"`
	Thresholds   strategy.Thresholds `json:"thresholds"`
	ScanInterval string              `json:"scan_interval"`
	Cycles       uint64              `json:"cycles"`
	LastCycle    *CycleResult        `json:"last_cycle,omitempty"`
	Subscribed   []string            `json:"subscribed"`
	Tracked      int                 `json:"tracked_orders"`
	Trading      bool                `json:"trading_enabled"`
	Version      string              `json:"version"`
	ServerTime   time.Time           `json:"server_time"`
}

// Meta is static session information reported by Status.
type Meta struct {
	SessionID    string
	Mode         string
	DryRun       bool
	Broker       string
	HostID       string
	ScanInterval time.Duration
	Version      string
}
