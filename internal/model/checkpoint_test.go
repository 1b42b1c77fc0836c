package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpoint_MergeDedupesByID(t *testing.T) {
	t.Parallel()

	cp := NewCheckpoint("db-1")
	assert.True(t, cp.Empty())

	cp.Merge([]Record{{ID: "a", Name: "A"}, {ID: "b"}}, "c1")
	cp.Merge([]Record{{ID: "a", Name: "A2"}, {ID: "c"}}, "c2")

	require.Len(t, cp.Records, 3)
	assert.Equal(t, "A2", cp.Records[0].Name)
	assert.Equal(t, Cursor("c2"), cp.Cursor)
	assert.Equal(t, 2, cp.Pages)
	assert.True(t, cp.Has("c"))
	assert.False(t, cp.Has("z"))
	assert.False(t, cp.Empty())
}

func TestCheckpoint_Complete(t *testing.T) {
	t.Parallel()

	cp := NewCheckpoint("db-1")
	cp.Merge([]Record{{ID: "a"}}, "next")
	cp.Complete()

	assert.True(t, cp.Completed)
	assert.Empty(t, cp.Cursor)
}

func TestCheckpoint_ReindexAfterDecode(t *testing.T) {
	t.Parallel()

	raw := `{"version":1,"database_id":"db","pages":2,"records":[{"id":"a","name":"old"},{"id":"b"},{"id":"a","name":"new"}]}`
	var cp Checkpoint
	require.NoError(t, json.Unmarshal([]byte(raw), &cp))
	cp.Reindex()

	require.Len(t, cp.Records, 2)
	assert.Equal(t, "new", cp.Records[0].Name)

	cp.Merge([]Record{{ID: "b", Name: "B"}}, "")
	require.Len(t, cp.Records, 2)
	assert.Equal(t, "B", cp.Records[1].Name)
}

func TestCheckpoint_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	cp := NewCheckpoint("db-1")
	cp.Merge([]Record{{ID: "a"}}, "c1")

	next := cp.Clone()
	next.Merge([]Record{{ID: "a", Name: "A2"}, {ID: "b"}}, "")
	next.Complete()

	assert.Equal(t, 1, cp.Pages)
	assert.Equal(t, Cursor("c1"), cp.Cursor)
	assert.False(t, cp.Completed)
	require.Len(t, cp.Records, 1)
	assert.Empty(t, cp.Records[0].Name)
	assert.False(t, cp.Has("b"))

	assert.Equal(t, 2, next.Pages)
	assert.True(t, next.Has("b"))
}
