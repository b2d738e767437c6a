package models

import "fmt"

// SyncType tells down-syncs from up-syncs
type SyncType string

const (
	SyncTypeDown SyncType = "syncDown"
	SyncTypeUp   SyncType = "syncUp"
)

// Valid reports whether the type is known
func (t SyncType) Valid() bool {
	return t == SyncTypeDown || t == SyncTypeUp
}

// SyncStatus is the lifecycle status of a sync
type SyncStatus string

const (
	StatusNew       SyncStatus = "NEW"
	StatusRunning   SyncStatus = "RUNNING"
	StatusStopped   SyncStatus = "STOPPED"
	StatusDone      SyncStatus = "DONE"
	StatusFailed    SyncStatus = "FAILED"
	StatusCancelled SyncStatus = "CANCELLED"
)

var statusTransitions = map[SyncStatus][]SyncStatus{
	StatusNew:       {StatusRunning},
	StatusRunning:   {StatusDone, StatusFailed, StatusStopped, StatusCancelled},
	StatusStopped:   {StatusRunning},
	StatusDone:      {StatusRunning},
	StatusFailed:    {StatusRunning},
	StatusCancelled: {StatusRunning},
}

// Valid reports whether the status is known
func (s SyncStatus) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// IsTerminal reports whether a run has ended in this status
func (s SyncStatus) IsTerminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusStopped, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s
func (s SyncStatus) CanTransitionTo(next SyncStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionError is returned for a status change the state machine forbids
type TransitionError struct {
	From SyncStatus
	To   SyncStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal sync status transition %s -> %s", e.From, e.To)
}
