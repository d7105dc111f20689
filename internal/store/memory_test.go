package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, err := s.CreateLead(ctx, map[string]any{"name": "Ada", "score": float64(90)}, "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	lead, err := s.GetLead(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, "Ada", lead["name"])
	assert.Equal(t, id, lead["id"])
}

func TestMemoryStore_GetMissingReturnsNil(t *testing.T) {
	s := NewMemoryStore()
	lead, err := s.GetLead(context.Background(), "ghost", "")
	require.NoError(t, err)
	assert.Nil(t, lead)
}

func TestMemoryStore_UpdateMergesFields(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, _ := s.CreateLead(ctx, map[string]any{"name": "Ada", "status": "new"}, "")

	ok, err := s.UpdateLead(ctx, id, map[string]any{"status": "qualified"}, "")
	require.NoError(t, err)
	assert.True(t, ok)

	lead, _ := s.GetLead(ctx, id, "")
	assert.Equal(t, "qualified", lead["status"])
	assert.Equal(t, "Ada", lead["name"])
}

func TestMemoryStore_UpdateMissingReturnsFalse(t *testing.T) {
	s := NewMemoryStore()
	ok, err := s.UpdateLead(context.Background(), "ghost", map[string]any{"a": 1}, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_IDFieldIsNotUpdatable(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, _ := s.CreateLead(ctx, map[string]any{"name": "Ada"}, "")
	_, err := s.UpdateLead(ctx, id, map[string]any{"id": "hijacked"}, "")
	require.NoError(t, err)

	lead, _ := s.GetLead(ctx, id, "")
	assert.Equal(t, id, lead["id"])
}

func TestMemoryStore_CollectionsAreIsolated(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, _ := s.CreateLead(ctx, map[string]any{"name": "Ada"}, "prospects")

	lead, err := s.GetLead(ctx, id, "leads")
	require.NoError(t, err)
	assert.Nil(t, lead)

	lead, err = s.GetLead(ctx, id, "prospects")
	require.NoError(t, err)
	assert.NotNil(t, lead)
}

func TestMemoryStore_ListAndDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a, _ := s.CreateLead(ctx, map[string]any{"name": "Ada"}, "")
	_, _ = s.CreateLead(ctx, map[string]any{"name": "Bob"}, "")

	leads, err := s.ListLeads(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, leads, 2)

	leads, _ = s.ListLeads(ctx, "", 1)
	assert.Len(t, leads, 1)

	require.NoError(t, s.DeleteLead(ctx, a, ""))
	assert.Error(t, s.DeleteLead(ctx, a, ""))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, _ := s.CreateLead(ctx, map[string]any{"name": "Ada"}, "")
	lead, _ := s.GetLead(ctx, id, "")
	lead["name"] = "mutated"

	fresh, _ := s.GetLead(ctx, id, "")
	assert.Equal(t, "Ada", fresh["name"])
}
