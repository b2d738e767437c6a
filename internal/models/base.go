package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalIDPrefix marks record ids minted on the device before the server assigned one
const LocalIDPrefix = "local_"

// NoTimeStamp is the maxTimeStamp of a sync that never fetched anything
const NoTimeStamp int64 = -1

// Record is a remote business object as exchanged with the backend
type Record map[string]interface{}

// ID returns the string value of the given id field
func (r Record) ID(idField string) string {
	switch v := r[idField].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		data, _ := json.Marshal(v)
		return strings.Trim(string(data), `"`)
	}
}

// ModifiedAt returns the modification timestamp in epoch milliseconds
func (r Record) ModifiedAt(modField string) (int64, bool) {
	return ParseTimestamp(r[modField])
}

// Clone returns a shallow copy of the record
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Pick returns a copy holding only the listed fields. An empty list keeps every
// field except the excluded ones.
func (r Record) Pick(fields []string, exclude ...string) Record {
	out := make(Record)
	if len(fields) == 0 {
		for k, v := range r {
			out[k] = v
		}
	} else {
		for _, f := range fields {
			if v, ok := r[f]; ok {
				out[f] = v
			}
		}
	}
	for _, f := range exclude {
		delete(out, f)
	}
	return out
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05Z0700",
}

// ParseTimestamp normalizes a remote modification value to epoch milliseconds
func ParseTimestamp(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), true
	case time.Time:
		return t.UnixMilli(), true
	case string:
		if t == "" {
			return 0, false
		}
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n, true
		}
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UnixMilli(), true
			}
		}
	}
	return 0, false
}

// FormatTimestamp renders epoch milliseconds the way the backend emits them
func FormatTimestamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}

// NewLocalID mints an id for a record created while offline
func NewLocalID() string {
	return LocalIDPrefix + uuid.NewString()
}

// IsLocalID reports whether the id was minted locally and never reached the server
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}
