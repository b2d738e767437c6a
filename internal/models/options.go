package models

import (
	"encoding/json"
	"fmt"
)

// MergeMode decides what happens when the remote copy changed underneath a local edit
type MergeMode string

const (
	MergeModeOverwrite      MergeMode = "OVERWRITE"
	MergeModeLeaveIfChanged MergeMode = "LEAVE_IF_CHANGED"
)

// Valid reports whether the mode is known
func (m MergeMode) Valid() bool {
	return m == MergeModeOverwrite || m == MergeModeLeaveIfChanged
}

// SyncOptions are supplied when a sync is created and never change afterwards
type SyncOptions struct {
	MergeMode MergeMode `json:"mergeMode"`
	FieldList []string  `json:"fieldList,omitempty"`
}

// NewSyncOptions builds and validates options
func NewSyncOptions(mode MergeMode, fields ...string) (*SyncOptions, error) {
	o := &SyncOptions{MergeMode: mode, FieldList: fields}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Validate checks the merge mode
func (o *SyncOptions) Validate() error {
	if o.MergeMode == "" {
		return missing("options.mergeMode")
	}
	if !o.MergeMode.Valid() {
		return &ConfigError{Field: "options.mergeMode", Reason: fmt.Sprintf("%q is not supported", o.MergeMode)}
	}
	return nil
}

// DecodeOptions parses serialized options and validates them
func DecodeOptions(data []byte) (*SyncOptions, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, missing("options")
	}
	var o SyncOptions
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, &ConfigError{Field: "options", Reason: fmt.Sprintf("is malformed: %v", err)}
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &o, nil
}
