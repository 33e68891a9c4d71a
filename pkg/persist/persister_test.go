package persist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersisterSaveLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := NewPersister[tokenState]("cache", NewLZ4Codec(nil))

	require.NoError(t, p.Save(dir, &tokenState{Key: "a.ts", Images: []string{"let", "x"}}))

	state, found, err := p.Load(dir)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "a.ts", state.Key)
	assert.Equal(t, []string{"let", "x"}, state.Images)
}

func TestPersisterLoadMissing(t *testing.T) {
	t.Parallel()

	p := NewPersister[tokenState]("cache", NewJSONCodec())

	state, found, err := p.Load(t.TempDir())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, state.Key)
}

func TestPersisterOverwrites(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := NewPersister[tokenState]("cache", NewJSONCodec())

	require.NoError(t, p.Save(dir, &tokenState{Key: "old"}))
	require.NoError(t, p.Save(dir, &tokenState{Key: "new"}))

	state, found, err := p.Load(dir)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "new", state.Key)
}
