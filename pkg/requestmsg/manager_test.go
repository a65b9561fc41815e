package requestmsg

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoyal88/mimasaka/pkg/schema"
	"github.com/ngoyal88/mimasaka/pkg/storage"
)

var fixedNow = time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)

func sequentialIDs(ids ...string) func() string {
	i := 0
	return func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func newTestManager(t *testing.T, ids ...string) (*Manager, *storage.MemoryStore) {
	t.Helper()

	if len(ids) == 0 {
		ids = []string{"id-1", "id-2", "id-3"}
	}
	store := storage.NewMemoryStore()
	m := New(store,
		WithIDGenerator(sequentialIDs(ids...)),
		WithClock(func() time.Time { return fixedNow }),
	)
	return m, store
}

func fullPayload() map[string]any {
	return map[string]any{
		"method":          "GET",
		"uri_path":        "/i/am/the/pogi",
		"request_body":    map[string]any{"Test": "Lorem Ipsum Dolor"},
		"request_headers": map[string]any{"Content-Type": "application/json"},
	}
}

func TestManagerCreate(t *testing.T) {
	t.Parallel()

	t.Run("full_payload", func(t *testing.T) {
		m, store := newTestManager(t)

		msg, err := m.Create(t.Context(), fullPayload())
		require.NoError(t, err)

		assert.Equal(t, "id-1", msg.ID)
		assert.Equal(t, "2024-03-09-14:05:07", msg.CreatedAt)
		assert.Equal(t, "GET", msg.Method)
		assert.Equal(t, "/i/am/the/pogi", msg.URIPath)
		assert.Equal(t, map[string]any{"Test": "Lorem Ipsum Dolor"}, msg.RequestBody)

		stored, err := store.Get(t.Context(), "id-1")
		require.NoError(t, err)
		assert.Equal(t, msg, stored)
	})

	t.Run("server_fields_ignored", func(t *testing.T) {
		m, _ := newTestManager(t)

		payload := fullPayload()
		payload["id"] = "client-id"
		payload["created_at"] = "1999-01-01-00:00:00"

		msg, err := m.Create(t.Context(), payload)
		require.NoError(t, err)
		assert.Equal(t, "id-1", msg.ID)
		assert.Equal(t, "2024-03-09-14:05:07", msg.CreatedAt)
	})

	t.Run("optional_fields_stay_absent", func(t *testing.T) {
		m, _ := newTestManager(t)

		msg, err := m.Create(t.Context(), map[string]any{"method": "GET", "uri_path": "/x"})
		require.NoError(t, err)
		assert.Nil(t, msg.RequestBody)
		assert.Nil(t, msg.RequestHeaders)
	})

	t.Run("violations_store_nothing", func(t *testing.T) {
		m, store := newTestManager(t)

		_, err := m.Create(t.Context(), map[string]any{"method": "GET"})

		var v schema.Violations
		require.ErrorAs(t, err, &v)
		assert.Equal(t, schema.Violations{"uri_path": {schema.MsgMissing}}, v)

		n, err := store.Count(t.Context())
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("skips_taken_ids", func(t *testing.T) {
		m, store := newTestManager(t, "dup", "dup", "fresh")
		require.NoError(t, store.Put(t.Context(), &storage.RequestMessage{ID: "dup", Method: "GET", URIPath: "/"}))

		msg, err := m.Create(t.Context(), fullPayload())
		require.NoError(t, err)
		assert.Equal(t, "fresh", msg.ID)
	})

	t.Run("distinct_ids", func(t *testing.T) {
		store := storage.NewMemoryStore()
		m := New(store)

		seen := make(map[string]bool)
		for range 50 {
			msg, err := m.Create(t.Context(), fullPayload())
			require.NoError(t, err)
			assert.False(t, seen[msg.ID], "duplicate id %s", msg.ID)
			seen[msg.ID] = true
		}
	})
}

func TestManagerReplace(t *testing.T) {
	t.Parallel()

	t.Run("preserves_identity_and_drops_optional", func(t *testing.T) {
		m, _ := newTestManager(t)
		created, err := m.Create(t.Context(), fullPayload())
		require.NoError(t, err)

		got, err := m.Replace(t.Context(), created.ID, map[string]any{
			"method":   "POST",
			"uri_path": "/new",
			"id":       "ignored",
		})
		require.NoError(t, err)

		want := &storage.RequestMessage{
			ID:        created.ID,
			Method:    "POST",
			URIPath:   "/new",
			CreatedAt: created.CreatedAt,
		}
		assert.Equal(t, want, got)

		stored, err := m.Get(t.Context(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, want, stored)
	})

	t.Run("missing_record", func(t *testing.T) {
		m, store := newTestManager(t)
		created, err := m.Create(t.Context(), fullPayload())
		require.NoError(t, err)

		_, err = m.Replace(t.Context(), "nope", map[string]any{"method": "POST", "uri_path": "/elsewhere"})
		assert.ErrorIs(t, err, storage.ErrNotFound)

		stored, err := m.Get(t.Context(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, created, stored)

		n, err := store.Count(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("validation_before_existence", func(t *testing.T) {
		m, _ := newTestManager(t)

		_, err := m.Replace(t.Context(), "nope", map[string]any{"method": 7})

		var v schema.Violations
		require.ErrorAs(t, err, &v)
		assert.Equal(t, []string{schema.MsgNotString}, v["method"])
		assert.Equal(t, []string{schema.MsgMissing}, v["uri_path"])
	})

	t.Run("invalid_leaves_record", func(t *testing.T) {
		m, _ := newTestManager(t)
		created, err := m.Create(t.Context(), fullPayload())
		require.NoError(t, err)

		_, err = m.Replace(t.Context(), created.ID, map[string]any{"method": "PUT"})
		require.Error(t, err)

		stored, err := m.Get(t.Context(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, created, stored)
	})
}

func TestManagerPatch(t *testing.T) {
	t.Parallel()

	t.Run("merges_supplied_fields", func(t *testing.T) {
		m, _ := newTestManager(t)
		created, err := m.Create(t.Context(), fullPayload())
		require.NoError(t, err)

		got, changed, err := m.Patch(t.Context(), created.ID, map[string]any{
			"request_body": map[string]any{"Test": "patched"},
		})
		require.NoError(t, err)
		assert.True(t, changed)

		want := created.Clone()
		want.RequestBody = map[string]any{"Test": "patched"}
		assert.Equal(t, want, got)

		stored, err := m.Get(t.Context(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, want, stored)
	})

	t.Run("empty_payload_is_no_change", func(t *testing.T) {
		m, _ := newTestManager(t)
		created, err := m.Create(t.Context(), fullPayload())
		require.NoError(t, err)

		got, changed, err := m.Patch(t.Context(), created.ID, map[string]any{"created_at": "x"})
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, created, got)
	})

	t.Run("missing_before_validation", func(t *testing.T) {
		m, _ := newTestManager(t)

		_, _, err := m.Patch(t.Context(), "nope", map[string]any{"method": nil})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("violations_leave_record", func(t *testing.T) {
		m, _ := newTestManager(t)
		created, err := m.Create(t.Context(), fullPayload())
		require.NoError(t, err)

		_, _, err = m.Patch(t.Context(), created.ID, map[string]any{
			"method":          "DELETE",
			"request_headers": "not a map",
		})
		var v schema.Violations
		require.ErrorAs(t, err, &v)
		assert.Equal(t, schema.Violations{"request_headers": {schema.MsgNotMapping}}, v)

		stored, err := m.Get(t.Context(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, created, stored)
	})

	t.Run("unknown_keys_rejected", func(t *testing.T) {
		m, _ := newTestManager(t)
		created, err := m.Create(t.Context(), fullPayload())
		require.NoError(t, err)

		_, _, err = m.Patch(t.Context(), created.ID, map[string]any{"methd": "GET"})
		var v schema.Violations
		require.ErrorAs(t, err, &v)
		assert.Equal(t, []string{schema.MsgUnknown}, v["methd"])
	})
}

func TestManagerDelete(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	created, err := m.Create(t.Context(), fullPayload())
	require.NoError(t, err)

	require.NoError(t, m.Delete(t.Context(), created.ID))
	require.NoError(t, m.Delete(t.Context(), created.ID))

	_, err = m.Get(t.Context(), created.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// brokenStore fails every call with ErrUnavailable.
type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (*storage.RequestMessage, error) {
	return nil, fmt.Errorf("%w: connection refused", storage.ErrUnavailable)
}

func (brokenStore) Put(context.Context, *storage.RequestMessage) error {
	return fmt.Errorf("%w: connection refused", storage.ErrUnavailable)
}

func (brokenStore) Delete(context.Context, string) error {
	return fmt.Errorf("%w: connection refused", storage.ErrUnavailable)
}

func (brokenStore) Count(context.Context) (int, error) {
	return 0, fmt.Errorf("%w: connection refused", storage.ErrUnavailable)
}

func (brokenStore) Ping(context.Context) error {
	return errors.New("connection refused")
}

func (brokenStore) Close() error { return nil }

func TestManagerStoreFailure(t *testing.T) {
	t.Parallel()

	m := New(brokenStore{})

	_, err := m.Create(t.Context(), fullPayload())
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	_, err = m.Replace(t.Context(), "x", fullPayload())
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	_, _, err = m.Patch(t.Context(), "x", map[string]any{"method": "GET"})
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	assert.ErrorIs(t, m.Delete(t.Context(), "x"), storage.ErrUnavailable)
}
