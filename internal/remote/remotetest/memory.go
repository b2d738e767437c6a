// Package remotetest provides an in-process backend for exercising sync runs
// without a network.
package remotetest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Kamar-Folarin/mobile-sync/internal/models"
	"github.com/Kamar-Folarin/mobile-sync/internal/remote"
)

// MemorySource is an in-process backend. Every write stamps the modification
// field from a strictly increasing millisecond clock.
type MemorySource struct {
	mu       sync.Mutex
	idField  string
	modField string
	objects  map[string]map[string]models.Record
	clock    int64
	nextID   int
	failures map[string]error
	fetched  int
	calls    map[string]int
}

// NewMemorySource creates an empty in-memory backend
func NewMemorySource(idField, modField string) *MemorySource {
	if idField == "" {
		idField = models.DefaultIDField
	}
	if modField == "" {
		modField = models.DefaultModificationField
	}
	return &MemorySource{
		idField:  idField,
		modField: modField,
		objects:  make(map[string]map[string]models.Record),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (m *MemorySource) tick() int64 {
	now := time.Now().UnixMilli()
	if now <= m.clock {
		now = m.clock + 1
	}
	m.clock = now
	return now
}

func (m *MemorySource) table(objectType string) map[string]models.Record {
	t, ok := m.objects[objectType]
	if !ok {
		t = make(map[string]models.Record)
		m.objects[objectType] = t
	}
	return t
}

func (m *MemorySource) stamp(rec models.Record) {
	rec[m.modField] = models.FormatTimestamp(m.tick())
}

// Put stores a record as if it was written remotely, assigning an id when it has none
func (m *MemorySource) Put(objectType string, rec models.Record) models.Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := rec.Clone()
	if stored == nil {
		stored = models.Record{}
	}
	if stored.ID(m.idField) == "" {
		stored[m.idField] = m.newID()
	}
	m.stamp(stored)
	m.table(objectType)[stored.ID(m.idField)] = stored
	return stored.Clone()
}

// Touch applies changes to an existing record as a remote edit
func (m *MemorySource) Touch(objectType, id string, changes models.Record) (models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.table(objectType)[id]
	if !ok {
		return nil, m.notFound(objectType, id)
	}
	for k, v := range changes {
		rec[k] = v
	}
	m.stamp(rec)
	return rec.Clone(), nil
}

// Remove deletes a record as a remote edit
func (m *MemorySource) Remove(objectType, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(objectType)
	if _, ok := t[id]; !ok {
		return false
	}
	delete(t, id)
	return true
}

// Get returns a copy of a stored record
func (m *MemorySource) Get(objectType, id string) (models.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.table(objectType)[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Len returns the number of records stored for an object type
func (m *MemorySource) Len(objectType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.table(objectType))
}

// FailOn makes the named operation fail with err. An empty id fails every call.
// Operations are count, query, retrieve, create, update, delete and exists.
func (m *MemorySource) FailOn(op, id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op+":"+id] = err
}

// ClearFailures removes all injected failures
func (m *MemorySource) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string]error)
}

// Fetched returns the number of records returned by Query so far
func (m *MemorySource) Fetched() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetched
}

// Calls returns how many times the named operation was invoked
func (m *MemorySource) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// ResetCounters zeroes Fetched and Calls
func (m *MemorySource) ResetCounters() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched = 0
	m.calls = make(map[string]int)
}

func (m *MemorySource) enter(op, id string) error {
	m.calls[op]++
	if err, ok := m.failures[op+":"+id]; ok {
		return err
	}
	if err, ok := m.failures[op+":"]; ok {
		return err
	}
	return nil
}

func (m *MemorySource) newID() string {
	m.nextID++
	return fmt.Sprintf("srv%06d", m.nextID)
}

func (m *MemorySource) notFound(objectType, id string) error {
	return remote.NewRemoteError(http.StatusNotFound, fmt.Sprintf("%s %s not found", objectType, id), nil)
}

func (m *MemorySource) project(rec models.Record, fields []string) models.Record {
	if len(fields) == 0 {
		return rec.Clone()
	}
	out := rec.Pick(fields)
	out[m.idField] = rec[m.idField]
	out[m.modField] = rec[m.modField]
	return out
}

// matching returns the records for spec sorted by modification time then id
func (m *MemorySource) matching(spec remote.QuerySpec) ([]models.Record, error) {
	conds, err := parseQuery(spec.Query)
	if err != nil {
		return nil, err
	}

	var ids map[string]bool
	if len(spec.IDs) > 0 {
		ids = make(map[string]bool, len(spec.IDs))
		for _, id := range spec.IDs {
			ids[id] = true
		}
	}

	var out []models.Record
	for id, rec := range m.table(spec.ObjectType) {
		if ids != nil && !ids[id] {
			continue
		}
		if spec.Since > models.NoTimeStamp {
			ts, ok := rec.ModifiedAt(m.modField)
			if !ok || ts <= spec.Since {
				continue
			}
		}
		if !matchAll(rec, conds) {
			continue
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		ti, _ := out[i].ModifiedAt(m.modField)
		tj, _ := out[j].ModifiedAt(m.modField)
		if ti != tj {
			return ti < tj
		}
		return out[i].ID(m.idField) < out[j].ID(m.idField)
	})
	return out, nil
}

func (m *MemorySource) Count(ctx context.Context, spec remote.QuerySpec) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("count", ""); err != nil {
		return 0, err
	}
	recs, err := m.matching(spec)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

func (m *MemorySource) Query(ctx context.Context, spec remote.QuerySpec) (*remote.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("query", spec.Cursor); err != nil {
		return nil, err
	}
	recs, err := m.matching(spec)
	if err != nil {
		return nil, err
	}

	offset := 0
	if spec.Cursor != "" {
		offset, err = strconv.Atoi(spec.Cursor)
		if err != nil || offset < 0 {
			return nil, remote.NewRemoteError(http.StatusBadRequest, fmt.Sprintf("invalid cursor %q", spec.Cursor), nil)
		}
	}
	if offset > len(recs) {
		offset = len(recs)
	}
	end := len(recs)
	if spec.PageSize > 0 && offset+spec.PageSize < end {
		end = offset + spec.PageSize
	}

	page := &remote.Page{TotalSize: len(recs)}
	for _, rec := range recs[offset:end] {
		page.Records = append(page.Records, m.project(rec, spec.Fields))
	}
	if end < len(recs) {
		page.NextCursor = strconv.Itoa(end)
	}
	page.MaxTimeStamp = remote.MaxTimeStamp(page.Records, m.modField)
	m.fetched += len(page.Records)
	return page, nil
}

func (m *MemorySource) Retrieve(ctx context.Context, objectType, id string, fields []string) (models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("retrieve", id); err != nil {
		return nil, err
	}
	rec, ok := m.table(objectType)[id]
	if !ok {
		return nil, m.notFound(objectType, id)
	}
	return m.project(rec, fields), nil
}

func (m *MemorySource) Create(ctx context.Context, objectType string, fields models.Record) (models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("create", ""); err != nil {
		return nil, err
	}
	rec := fields.Clone()
	if rec == nil {
		rec = models.Record{}
	}
	rec[m.idField] = m.newID()
	m.stamp(rec)
	m.table(objectType)[rec.ID(m.idField)] = rec
	return rec.Clone(), nil
}

func (m *MemorySource) Update(ctx context.Context, objectType, id string, fields models.Record) (models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("update", id); err != nil {
		return nil, err
	}
	rec, ok := m.table(objectType)[id]
	if !ok {
		return nil, m.notFound(objectType, id)
	}
	for k, v := range fields {
		if k == m.idField || k == m.modField {
			continue
		}
		rec[k] = v
	}
	m.stamp(rec)
	return rec.Clone(), nil
}

func (m *MemorySource) Delete(ctx context.Context, objectType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("delete", id); err != nil {
		return err
	}
	t := m.table(objectType)
	if _, ok := t[id]; !ok {
		return m.notFound(objectType, id)
	}
	delete(t, id)
	return nil
}

func (m *MemorySource) Exists(ctx context.Context, objectType string, ids []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("exists", ""); err != nil {
		return nil, err
	}
	t := m.table(objectType)
	existing := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := t[id]; ok {
			existing[id] = true
		}
	}
	return existing, nil
}

type condition struct {
	field  string
	negate bool
	isNull bool
	value  string
}

// parseQuery understands conjunctions of "Field = 'value'", "Field != value"
// and comparisons against null
func parseQuery(q string) ([]condition, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}

	var conds []condition
	for _, clause := range splitAnd(q) {
		var c condition
		var parts []string
		if strings.Contains(clause, "!=") {
			parts = strings.SplitN(clause, "!=", 2)
			c.negate = true
		} else if strings.Contains(clause, "=") {
			parts = strings.SplitN(clause, "=", 2)
		} else {
			return nil, remote.NewRemoteError(http.StatusBadRequest, fmt.Sprintf("unsupported query clause %q", clause), nil)
		}

		c.field = strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if c.field == "" || value == "" {
			return nil, remote.NewRemoteError(http.StatusBadRequest, fmt.Sprintf("unsupported query clause %q", clause), nil)
		}
		if strings.EqualFold(value, "null") {
			c.isNull = true
		} else {
			c.value = strings.Trim(value, `'"`)
		}
		conds = append(conds, c)
	}
	return conds, nil
}

func splitAnd(q string) []string {
	var out []string
	rest := q
	for {
		idx := strings.Index(strings.ToUpper(rest), " AND ")
		if idx < 0 {
			out = append(out, strings.TrimSpace(rest))
			return out
		}
		out = append(out, strings.TrimSpace(rest[:idx]))
		rest = rest[idx+len(" AND "):]
	}
}

func matchAll(rec models.Record, conds []condition) bool {
	for _, c := range conds {
		v, present := rec[c.field]
		var ok bool
		if c.isNull {
			ok = !present || v == nil
		} else {
			ok = present && v != nil && fmt.Sprint(v) == c.value
		}
		if c.negate {
			ok = !ok
		}
		if !ok {
			return false
		}
	}
	return true
}
