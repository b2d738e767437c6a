package models

// ProgressPercent maps processed/total onto [0,100). A run only reports 100
// once it is DONE.
func ProgressPercent(processed, total int) int {
	if total <= 0 || processed <= 0 {
		return 0
	}
	p := processed * 100 / total
	if p > 99 {
		p = 99
	}
	return p
}

// UpdateProgress recomputes progress from the processed count without ever going backwards
func (s *SyncState) UpdateProgress(processed int) {
	if s.Status != StatusRunning {
		return
	}
	p := ProgressPercent(processed, s.TotalSize)
	if p > s.Progress {
		s.Progress = p
	}
}

// AddConflict records a record left untouched because the remote copy changed
func (s *SyncState) AddConflict(recordID string) {
	s.Conflicts = append(s.Conflicts, recordID)
}

// AddFailure records a hard per-record failure
func (s *SyncState) AddFailure(recordID string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.Failures = append(s.Failures, RecordFailure{RecordID: recordID, Message: msg})
}
