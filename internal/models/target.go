package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TargetKind is the discriminator of the serialized target
type TargetKind string

const (
	TargetQuery   TargetKind = "query"
	TargetRefresh TargetKind = "refresh"
	TargetPush    TargetKind = "push"
)

const (
	DefaultIDField           = "Id"
	DefaultModificationField = "LastModifiedDate"
	DefaultPageSize          = 200
)

// Target describes the remote side of a sync. The concrete types are
// QueryDownTarget, RefreshDownTarget and PushUpTarget.
type Target interface {
	Kind() TargetKind
	SyncType() SyncType
	Validate() error
	target()
}

// DownTarget is a Target a down-sync can fetch with
type DownTarget interface {
	Target
	Object() string
	IDField() string
	ModificationField() string
	Fields() []string
	BatchSize() int
}

// ConfigError reports malformed target or options configuration
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid sync configuration: %s %s", e.Field, e.Reason)
}

func missing(field string) error {
	return &ConfigError{Field: field, Reason: "is required"}
}

// QueryDownTarget fetches the records matched by a remote query
type QueryDownTarget struct {
	ObjectType                string   `json:"objectType"`
	Query                     string   `json:"query"`
	FieldList                 []string `json:"fieldList,omitempty"`
	IDFieldName               string   `json:"idFieldName"`
	ModificationDateFieldName string   `json:"modificationDateFieldName"`
	PageSize                  int      `json:"pageSize"`
}

// NewQueryDownTarget builds and validates a query target
func NewQueryDownTarget(objectType, query string, fields ...string) (*QueryDownTarget, error) {
	t := &QueryDownTarget{ObjectType: objectType, Query: query, FieldList: fields}
	t.applyDefaults()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *QueryDownTarget) applyDefaults() {
	if t.IDFieldName == "" {
		t.IDFieldName = DefaultIDField
	}
	if t.ModificationDateFieldName == "" {
		t.ModificationDateFieldName = DefaultModificationField
	}
	if t.PageSize == 0 {
		t.PageSize = DefaultPageSize
	}
}

func (t *QueryDownTarget) Kind() TargetKind  { return TargetQuery }
func (t *QueryDownTarget) SyncType() SyncType { return SyncTypeDown }
func (t *QueryDownTarget) target()            {}

func (t *QueryDownTarget) Object() string            { return t.ObjectType }
func (t *QueryDownTarget) IDField() string           { return t.IDFieldName }
func (t *QueryDownTarget) ModificationField() string { return t.ModificationDateFieldName }
func (t *QueryDownTarget) Fields() []string          { return t.FieldList }
func (t *QueryDownTarget) BatchSize() int            { return t.PageSize }

// Validate checks the required fields
func (t *QueryDownTarget) Validate() error {
	if strings.TrimSpace(t.ObjectType) == "" {
		return missing("objectType")
	}
	if strings.TrimSpace(t.Query) == "" {
		return missing("query")
	}
	if t.PageSize < 0 {
		return &ConfigError{Field: "pageSize", Reason: "must not be negative"}
	}
	return nil
}

// RefreshDownTarget re-fetches the records already cached in the soup
type RefreshDownTarget struct {
	ObjectType                string   `json:"objectType"`
	FieldList                 []string `json:"fieldList"`
	IDFieldName               string   `json:"idFieldName"`
	ModificationDateFieldName string   `json:"modificationDateFieldName"`
	PageSize                  int      `json:"pageSize"`
}

// NewRefreshDownTarget builds and validates a refresh target
func NewRefreshDownTarget(objectType string, fields ...string) (*RefreshDownTarget, error) {
	t := &RefreshDownTarget{ObjectType: objectType, FieldList: fields}
	t.applyDefaults()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *RefreshDownTarget) applyDefaults() {
	if t.IDFieldName == "" {
		t.IDFieldName = DefaultIDField
	}
	if t.ModificationDateFieldName == "" {
		t.ModificationDateFieldName = DefaultModificationField
	}
	if t.PageSize == 0 {
		t.PageSize = DefaultPageSize
	}
}

func (t *RefreshDownTarget) Kind() TargetKind  { return TargetRefresh }
func (t *RefreshDownTarget) SyncType() SyncType { return SyncTypeDown }
func (t *RefreshDownTarget) target()            {}

func (t *RefreshDownTarget) Object() string            { return t.ObjectType }
func (t *RefreshDownTarget) IDField() string           { return t.IDFieldName }
func (t *RefreshDownTarget) ModificationField() string { return t.ModificationDateFieldName }
func (t *RefreshDownTarget) Fields() []string          { return t.FieldList }
func (t *RefreshDownTarget) BatchSize() int            { return t.PageSize }

// Validate checks the required fields
func (t *RefreshDownTarget) Validate() error {
	if strings.TrimSpace(t.ObjectType) == "" {
		return missing("objectType")
	}
	if len(t.FieldList) == 0 {
		return missing("fieldList")
	}
	if t.PageSize < 0 {
		return &ConfigError{Field: "pageSize", Reason: "must not be negative"}
	}
	return nil
}

// PushUpTarget sends dirty local records to the backend
type PushUpTarget struct {
	ObjectType                string   `json:"objectType"`
	CreateFieldList           []string `json:"createFieldlist,omitempty"`
	UpdateFieldList           []string `json:"updateFieldlist,omitempty"`
	IDFieldName               string   `json:"idFieldName"`
	ModificationDateFieldName string   `json:"modificationDateFieldName"`
}

// NewPushUpTarget builds and validates a push target
func NewPushUpTarget(objectType string, createFields, updateFields []string) (*PushUpTarget, error) {
	t := &PushUpTarget{ObjectType: objectType, CreateFieldList: createFields, UpdateFieldList: updateFields}
	t.applyDefaults()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *PushUpTarget) applyDefaults() {
	if t.IDFieldName == "" {
		t.IDFieldName = DefaultIDField
	}
	if t.ModificationDateFieldName == "" {
		t.ModificationDateFieldName = DefaultModificationField
	}
}

func (t *PushUpTarget) Kind() TargetKind  { return TargetPush }
func (t *PushUpTarget) SyncType() SyncType { return SyncTypeUp }
func (t *PushUpTarget) target()            {}

// Validate checks the required fields
func (t *PushUpTarget) Validate() error {
	if strings.TrimSpace(t.ObjectType) == "" {
		return missing("objectType")
	}
	return nil
}

// CreatePayload selects the fields sent when creating a record remotely
func (t *PushUpTarget) CreatePayload(fields Record, fallback []string) Record {
	list := t.CreateFieldList
	if len(list) == 0 {
		list = fallback
	}
	return fields.Pick(list, t.IDFieldName, t.ModificationDateFieldName)
}

// UpdatePayload selects the fields sent when updating a record remotely
func (t *PushUpTarget) UpdatePayload(fields Record, fallback []string) Record {
	list := t.UpdateFieldList
	if len(list) == 0 {
		list = fallback
	}
	return fields.Pick(list, t.IDFieldName, t.ModificationDateFieldName)
}

type targetEnvelope struct {
	Type TargetKind `json:"type"`
}

// EncodeTarget serializes a target with its type discriminator
func EncodeTarget(t Target) (json.RawMessage, error) {
	if t == nil {
		return nil, missing("target")
	}
	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal target: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to marshal target: %w", err)
	}
	kind, _ := json.Marshal(t.Kind())
	fields["type"] = kind
	return json.Marshal(fields)
}

// DecodeTarget parses a serialized target, applies defaults and validates it
func DecodeTarget(data []byte) (Target, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, missing("target")
	}
	var env targetEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ConfigError{Field: "target", Reason: fmt.Sprintf("is malformed: %v", err)}
	}

	var t Target
	switch env.Type {
	case TargetQuery:
		q := &QueryDownTarget{}
		if err := json.Unmarshal(data, q); err != nil {
			return nil, &ConfigError{Field: "target", Reason: fmt.Sprintf("is malformed: %v", err)}
		}
		q.applyDefaults()
		t = q
	case TargetRefresh:
		r := &RefreshDownTarget{}
		if err := json.Unmarshal(data, r); err != nil {
			return nil, &ConfigError{Field: "target", Reason: fmt.Sprintf("is malformed: %v", err)}
		}
		r.applyDefaults()
		t = r
	case TargetPush:
		p := &PushUpTarget{}
		if err := json.Unmarshal(data, p); err != nil {
			return nil, &ConfigError{Field: "target", Reason: fmt.Sprintf("is malformed: %v", err)}
		}
		p.applyDefaults()
		t = p
	case "":
		return nil, missing("target.type")
	default:
		return nil, &ConfigError{Field: "target.type", Reason: fmt.Sprintf("%q is not supported", env.Type)}
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}
