// Package requestmsg implements the request-message operations behind the
// admin API: validation against the field contract, id and timestamp
// generation, full replacement and partial merge.
package requestmsg

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ngoyal88/mimasaka/pkg/schema"
	"github.com/ngoyal88/mimasaka/pkg/storage"
)

// Payload field names.
const (
	FieldID             = "id"
	FieldMethod         = "method"
	FieldURIPath        = "uri_path"
	FieldRequestBody    = "request_body"
	FieldRequestHeaders = "request_headers"
	FieldCreatedAt      = "created_at"
)

// Contract is the field contract for client supplied payloads. id and
// created_at are server owned and never part of it.
var Contract = schema.NewContract(
	schema.Field{Name: FieldMethod, Kind: schema.String, Required: true},
	schema.Field{Name: FieldURIPath, Kind: schema.String, Required: true},
	schema.Field{Name: FieldRequestBody, Kind: schema.Mapping},
	schema.Field{Name: FieldRequestHeaders, Kind: schema.Mapping},
)

// serverFields are dropped from inbound payloads before validation.
var serverFields = []string{FieldID, FieldCreatedAt}

// Manager handles request message operations
type Manager struct {
	store storage.Store
	newID func() string
	now   func() time.Time

	// mu serializes check-then-write sequences so a replace or patch can't
	// resurrect a record deleted between its read and its write.
	mu sync.Mutex
}

// Option customizes a Manager.
type Option func(*Manager)

// WithIDGenerator overrides the UUIDv4 id generator.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// WithClock overrides the clock used for created_at.
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) { m.now = fn }
}

// New creates a new request message manager
func New(store storage.Store, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create validates payload and stores it as a new record with a generated
// id and created_at. Validation failures are returned as schema.Violations.
func (m *Manager) Create(ctx context.Context, payload map[string]any) (*storage.RequestMessage, error) {
	payload = stripServerFields(payload)
	if v := Contract.Validate(payload, false); v != nil {
		return nil, v
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.uniqueID(ctx)
	if err != nil {
		return nil, err
	}

	msg := &storage.RequestMessage{
		ID:        id,
		CreatedAt: storage.FormatCreatedAt(m.now()),
	}
	applyFields(msg, payload)

	if err := m.store.Put(ctx, msg); err != nil {
		return nil, fmt.Errorf("storing request message %s: %w", id, err)
	}
	return msg, nil
}

// Get returns the record with id, or storage.ErrNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*storage.RequestMessage, error) {
	return m.store.Get(ctx, id)
}

// Replace overwrites every client owned field of an existing record,
// dropping optional fields the payload omits. The payload is validated
// before existence is checked, so an invalid payload is reported even for
// an unknown id.
func (m *Manager) Replace(ctx context.Context, id string, payload map[string]any) (*storage.RequestMessage, error) {
	payload = stripServerFields(payload)
	if v := Contract.Validate(payload, false); v != nil {
		return nil, v
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	msg := &storage.RequestMessage{
		ID:        existing.ID,
		CreatedAt: existing.CreatedAt,
	}
	applyFields(msg, payload)

	if err := m.store.Put(ctx, msg); err != nil {
		return nil, fmt.Errorf("replacing request message %s: %w", id, err)
	}
	return msg, nil
}

// Patch merges the fields present in payload into an existing record.
// Missing records are reported before the payload is validated. An empty
// payload leaves the record untouched and returns changed=false.
func (m *Manager) Patch(ctx context.Context, id string, payload map[string]any) (msg *storage.RequestMessage, changed bool, err error) {
	payload = stripServerFields(payload)

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if v := Contract.Validate(payload, true); v != nil {
		return nil, false, v
	}
	if len(payload) == 0 {
		return existing, false, nil
	}

	applyFields(existing, payload)
	if err := m.store.Put(ctx, existing); err != nil {
		return nil, false, fmt.Errorf("patching request message %s: %w", id, err)
	}
	return existing, true, nil
}

// Delete removes the record. Unknown ids are not an error.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting request message %s: %w", id, err)
	}
	return nil
}

// uniqueID draws ids until one is unused. Caller must hold mu.
func (m *Manager) uniqueID(ctx context.Context) (string, error) {
	for {
		id := m.newID()
		_, err := m.store.Get(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return id, nil
		} else if err != nil {
			return "", fmt.Errorf("checking id %s: %w", id, err)
		}
	}
}

func stripServerFields(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	for _, f := range serverFields {
		delete(out, f)
	}
	return out
}

// applyFields copies validated payload fields onto msg.
func applyFields(msg *storage.RequestMessage, payload map[string]any) {
	for name, val := range payload {
		switch name {
		case FieldMethod:
			msg.Method = val.(string)
		case FieldURIPath:
			msg.URIPath = val.(string)
		case FieldRequestBody:
			msg.RequestBody = val.(map[string]any)
		case FieldRequestHeaders:
			msg.RequestHeaders = val.(map[string]any)
		}
	}
}
