package replicator

import (
	"fmt"
	"strings"
)

// ActivityLevel is the coarse replication state shown to applications.
type ActivityLevel int

const (
	Stopped ActivityLevel = iota
	Offline
	Connecting
	Idle
	Busy
)

func (l ActivityLevel) String() string {
	switch l {
	case Stopped:
		return "STOPPED"
	case Offline:
		return "OFFLINE"
	case Connecting:
		return "CONNECTING"
	case Idle:
		return "IDLE"
	case Busy:
		return "BUSY"
	default:
		return fmt.Sprintf("ActivityLevel(%d)", int(l))
	}
}

// Raw activity codes reported by the engine.
const (
	RawStopped    = 0
	RawOffline    = 1
	RawConnecting = 2
	RawIdle       = 3
	RawBusy       = 4
)

// LevelFromRaw maps an engine activity code. Unknown codes map to Busy and
// ok is false.
func LevelFromRaw(code int) (level ActivityLevel, ok bool) {
	switch code {
	case RawStopped:
		return Stopped, true
	case RawOffline:
		return Offline, true
	case RawConnecting:
		return Connecting, true
	case RawIdle:
		return Idle, true
	case RawBusy:
		return Busy, true
	default:
		return Busy, false
	}
}

// Type is the replication direction a replicator is configured for.
type Type int

const (
	PushAndPull Type = iota
	Push
	Pull
)

func (t Type) String() string {
	switch t {
	case Push:
		return "push"
	case Pull:
		return "pull"
	default:
		return "pushAndPull"
	}
}

// ParseType parses "push", "pull" or "pushAndPull" (case-insensitive).
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "", "pushandpull", "push_and_pull":
		return PushAndPull, nil
	case "push":
		return Push, nil
	case "pull":
		return Pull, nil
	default:
		return PushAndPull, fmt.Errorf("unknown replicator type %q", s)
	}
}

// Direction is the direction a batch of documents moved in.
type Direction int

const (
	Pulled Direction = iota
	Pushed
)

func (d Direction) String() string {
	if d == Pushed {
		return "push"
	}
	return "pull"
}

// ProgressLevel selects how much progress detail the engine reports.
type ProgressLevel int

const (
	ProgressOverall ProgressLevel = iota
	ProgressPerDocument
	ProgressPerAttachment
)

// DocumentFlags are the engine's per-document replication flags.
type DocumentFlags uint32

const (
	FlagDeleted DocumentFlags = 1 << iota
	FlagAccessRemoved
)

// Progress counts replication units.
type Progress struct {
	Completed uint64
	Total     uint64
}

// Error is an engine error carried by a status or a document outcome.
type Error struct {
	Domain  int
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("replication error %d/%d: %s", e.Domain, e.Code, e.Message)
	}
	return fmt.Sprintf("replication error %d/%d", e.Domain, e.Code)
}

func newError(domain, code int, msg string) error {
	if code == 0 {
		return nil
	}
	return &Error{Domain: domain, Code: code, Message: msg}
}

// Status is an immutable snapshot of a replicator's state.
type Status struct {
	level    ActivityLevel
	progress Progress
	err      error
}

// NewStatus builds a status snapshot.
func NewStatus(level ActivityLevel, progress Progress, err error) Status {
	return Status{level: level, progress: progress, err: err}
}

func (s Status) ActivityLevel() ActivityLevel { return s.level }

func (s Status) Progress() Progress { return s.progress }

// Err returns the error reported with this status, if any.
func (s Status) Err() error { return s.err }

func (s Status) String() string {
	if s.err != nil {
		return fmt.Sprintf("%s(%d/%d): %v", s.level, s.progress.Completed, s.progress.Total, s.err)
	}
	return fmt.Sprintf("%s(%d/%d)", s.level, s.progress.Completed, s.progress.Total)
}

// RawStatus is a status event as the engine reports it.
type RawStatus struct {
	Level      int
	Completed  uint64
	Total      uint64
	ErrDomain  int
	ErrCode    int
	ErrMessage string
}

// DocumentEnded is the engine's report that one document finished
// replicating.
type DocumentEnded struct {
	DocID      string
	Flags      DocumentFlags
	ErrDomain  int
	ErrCode    int
	ErrMessage string
	Conflicted bool
	Transient  bool
}

// ReplicatedDocument is a document outcome delivered to listeners.
type ReplicatedDocument struct {
	ID        string
	Flags     DocumentFlags
	Err       error
	Transient bool
}

// DocumentReplication is one document listener notification.
type DocumentReplication struct {
	Direction Direction
	Documents []ReplicatedDocument
}
