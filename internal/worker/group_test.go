package worker

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupAddRejectsDuplicates(t *testing.T) {
	g := NewGroup()
	st := &stubStore{}

	require.NoError(t, g.Add(New("t1", noWork, st, zerolog.Nop())))
	err := g.Add(New("t1", noWork, st, zerolog.Nop()))
	require.ErrorIs(t, err, ErrDuplicateTask)

	assert.Equal(t, []string{"t1"}, g.IDs())
	assert.True(t, g.Contains("t1"))
}

func TestGroupStop(t *testing.T) {
	g := NewGroup()
	st := &stubStore{}

	w := New("t1", noWork, st, zerolog.Nop())
	require.NoError(t, g.Add(w))

	assert.True(t, g.Stop("t1"))
	assert.True(t, w.sig.Cancelled())
	assert.False(t, g.Stop("t1"), "second stop finds nothing")
	assert.False(t, g.Contains("t1"))
}

func TestGroupStopAll(t *testing.T) {
	g := NewGroup()
	st := &stubStore{}

	w1 := New("a", noWork, st, zerolog.Nop())
	w2 := New("b", noWork, st, zerolog.Nop())
	require.NoError(t, g.Add(w1))
	require.NoError(t, g.Add(w2))

	g.StopAll()
	assert.True(t, w1.sig.Cancelled())
	assert.True(t, w2.sig.Cancelled())
	assert.Empty(t, g.IDs())
}
