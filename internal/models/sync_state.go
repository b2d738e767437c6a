package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncState is the durable record of one named sync and the progress of its latest run
type SyncState struct {
	ID           int64
	Name         string
	Type         SyncType
	Target       Target
	Options      *SyncOptions
	SoupName     string
	Status       SyncStatus
	Progress     int
	TotalSize    int
	MaxTimeStamp int64
	StartTime    time.Time
	EndTime      time.Time
	Error        string
	Conflicts    []string
	Failures     []RecordFailure
}

// RecordFailure is a hard per-record error collected during an up-sync
type RecordFailure struct {
	RecordID string `json:"recordId"`
	Message  string `json:"message"`
}

type syncStateJSON struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name,omitempty"`
	Type         SyncType        `json:"type"`
	Target       json.RawMessage `json:"target"`
	Options      *SyncOptions    `json:"options"`
	SoupName     string          `json:"soupName"`
	Status       SyncStatus      `json:"status"`
	Progress     int             `json:"progress"`
	TotalSize    int             `json:"totalSize"`
	MaxTimeStamp int64           `json:"maxTimeStamp"`
	StartTime    *time.Time      `json:"startTime,omitempty"`
	EndTime      *time.Time      `json:"endTime,omitempty"`
	Error        string          `json:"error,omitempty"`
	Conflicts    []string        `json:"conflicts,omitempty"`
	Failures     []RecordFailure `json:"failures,omitempty"`
}

// NewSyncState validates the configuration and returns a state in status NEW
func NewSyncState(syncType SyncType, target Target, options *SyncOptions, soupName, name string) (*SyncState, error) {
	s := &SyncState{
		Name:         name,
		Type:         syncType,
		Target:       target,
		Options:      options,
		SoupName:     soupName,
		Status:       StatusNew,
		TotalSize:    -1,
		MaxTimeStamp: NoTimeStamp,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that the state describes a runnable sync
func (s *SyncState) Validate() error {
	if !s.Type.Valid() {
		return &ConfigError{Field: "syncType", Reason: fmt.Sprintf("%q is not supported", s.Type)}
	}
	if s.SoupName == "" {
		return missing("soupName")
	}
	if s.Target == nil {
		return missing("target")
	}
	if err := s.Target.Validate(); err != nil {
		return err
	}
	if s.Target.SyncType() != s.Type {
		return &ConfigError{
			Field:  "target",
			Reason: fmt.Sprintf("of type %q cannot be used by a %s", s.Target.Kind(), s.Type),
		}
	}
	if s.Options == nil {
		return missing("options")
	}
	return s.Options.Validate()
}

// IsDown reports whether this is a down-sync
func (s *SyncState) IsDown() bool { return s.Type == SyncTypeDown }

// IsUp reports whether this is an up-sync
func (s *SyncState) IsUp() bool { return s.Type == SyncTypeUp }

// MergeMode returns the configured merge mode
func (s *SyncState) MergeMode() MergeMode {
	if s.Options == nil {
		return ""
	}
	return s.Options.MergeMode
}

func (s *SyncState) transition(next SyncStatus) error {
	if !s.Status.CanTransitionTo(next) {
		return &TransitionError{From: s.Status, To: next}
	}
	s.Status = next
	return nil
}

// Begin moves the state into RUNNING and resets the per-run fields
func (s *SyncState) Begin(now time.Time) error {
	if err := s.transition(StatusRunning); err != nil {
		return err
	}
	s.Progress = 0
	s.TotalSize = -1
	s.StartTime = now
	s.EndTime = time.Time{}
	s.Error = ""
	s.Conflicts = nil
	s.Failures = nil
	return nil
}

// Finish ends the run in the given terminal status
func (s *SyncState) Finish(status SyncStatus, now time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %s does not end a run", status)
	}
	if err := s.transition(status); err != nil {
		return err
	}
	if status == StatusDone {
		s.Progress = 100
	}
	s.EndTime = now
	return nil
}

// Fail ends the run as FAILED with the given error
func (s *SyncState) Fail(err error, now time.Time) error {
	if err != nil {
		s.Error = err.Error()
	}
	return s.Finish(StatusFailed, now)
}

// AdvanceMaxTimeStamp raises the high-water mark and never lowers it
func (s *SyncState) AdvanceMaxTimeStamp(ts int64) {
	if ts > s.MaxTimeStamp {
		s.MaxTimeStamp = ts
	}
}

// Clone returns a deep copy; target and options are immutable and shared
func (s *SyncState) Clone() *SyncState {
	if s == nil {
		return nil
	}
	out := *s
	if s.Conflicts != nil {
		out.Conflicts = append([]string(nil), s.Conflicts...)
	}
	if s.Failures != nil {
		out.Failures = append([]RecordFailure(nil), s.Failures...)
	}
	return &out
}

// MarshalJSON embeds the target with its type discriminator
func (s *SyncState) MarshalJSON() ([]byte, error) {
	target, err := EncodeTarget(s.Target)
	if err != nil {
		return nil, err
	}
	out := syncStateJSON{
		ID:           s.ID,
		Name:         s.Name,
		Type:         s.Type,
		Target:       target,
		Options:      s.Options,
		SoupName:     s.SoupName,
		Status:       s.Status,
		Progress:     s.Progress,
		TotalSize:    s.TotalSize,
		MaxTimeStamp: s.MaxTimeStamp,
		Error:        s.Error,
		Conflicts:    s.Conflicts,
		Failures:     s.Failures,
	}
	if !s.StartTime.IsZero() {
		start := s.StartTime
		out.StartTime = &start
	}
	if !s.EndTime.IsZero() {
		end := s.EndTime
		out.EndTime = &end
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes and validates the embedded target and options
func (s *SyncState) UnmarshalJSON(data []byte) error {
	var in syncStateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	target, err := DecodeTarget(in.Target)
	if err != nil {
		return err
	}
	if in.Options == nil {
		return missing("options")
	}
	if err := in.Options.Validate(); err != nil {
		return err
	}
	if !in.Status.Valid() {
		return &ConfigError{Field: "status", Reason: fmt.Sprintf("%q is not supported", in.Status)}
	}

	*s = SyncState{
		ID:           in.ID,
		Name:         in.Name,
		Type:         in.Type,
		Target:       target,
		Options:      in.Options,
		SoupName:     in.SoupName,
		Status:       in.Status,
		Progress:     in.Progress,
		TotalSize:    in.TotalSize,
		MaxTimeStamp: in.MaxTimeStamp,
		Error:        in.Error,
		Conflicts:    in.Conflicts,
		Failures:     in.Failures,
	}
	if in.StartTime != nil {
		s.StartTime = *in.StartTime
	}
	if in.EndTime != nil {
		s.EndTime = *in.EndTime
	}
	return nil
}

// String returns the JSON representation of the sync state
func (s *SyncState) String() string {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal sync state: %v"}`, err)
	}
	return string(data)
}
