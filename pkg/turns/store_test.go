package turns

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AppendAssignsMonotonicSequence(t *testing.T) {
	s := NewStore()

	first, err := s.Append(KindUser, "what is the weather?")
	require.NoError(t, err)
	second, err := s.Append(KindAssistant, "Thought: check\nAction: get_weather[city=\"Nanjing\"]")
	require.NoError(t, err)
	third, err := s.Append(KindToolResult, "Nanjing: 22C")
	require.NoError(t, err)

	assert.Equal(t, 1, first.Sequence)
	assert.Equal(t, 2, second.Sequence)
	assert.Equal(t, 3, third.Sequence)
	assert.Equal(t, 3, s.Len())
}

func TestStore_AppendRejectsInvalidKind(t *testing.T) {
	s := NewStore()

	_, err := s.Append(Kind("system"), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidKind))
	assert.Equal(t, 0, s.Len())

	// the failed append must not consume a sequence index
	turn, err := s.Append(KindUser, "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, turn.Sequence)
}

func TestStore_Render(t *testing.T) {
	s := NewStore()
	s.MustAppend(KindUser, "task")
	s.MustAppend(KindAssistant, "Thought: a\nAction: b[c]")
	s.MustAppend(KindToolResult, "result")
	s.MustAppend(KindReflection, "looks fine")

	expected := "Question: task\nThought: a\nAction: b[c]\nObservation: result\nReflection: looks fine"
	assert.Equal(t, expected, s.Render())
}

func TestStore_RenderIsIdempotent(t *testing.T) {
	s := NewStore()
	s.MustAppend(KindUser, "task")
	s.MustAppend(KindToolResult, "x")

	first := s.Render()
	second := s.Render()
	assert.Equal(t, first, second)
}

func TestStore_RenderWithSkipsEmptyProjections(t *testing.T) {
	s := NewStore()
	s.MustAppend(KindUser, "task")
	s.MustAppend(KindAssistant, "draft")

	out := s.RenderWith(func(t Turn) string {
		if t.Kind != KindAssistant {
			return ""
		}
		return "-> " + t.Text
	})
	assert.Equal(t, "-> draft", out)
}

func TestStore_Last(t *testing.T) {
	s := NewStore()
	_, ok := s.Last(KindAssistant)
	assert.False(t, ok)

	s.MustAppend(KindAssistant, "v1")
	s.MustAppend(KindReflection, "needs work")
	s.MustAppend(KindAssistant, "v2")
	s.MustAppend(KindReflection, "no further improvement")

	last, ok := s.Last(KindAssistant)
	require.True(t, ok)
	assert.Equal(t, "v2", last.Text)
	assert.Equal(t, 3, last.Sequence)
}

func TestStore_ResetClearsSequence(t *testing.T) {
	s := NewStore()
	s.MustAppend(KindUser, "a")
	s.MustAppend(KindUser, "b")
	s.Reset()

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, "", s.Render())
	turn := s.MustAppend(KindUser, "c")
	assert.Equal(t, 1, turn.Sequence)
}

func TestStore_TurnsReturnsCopy(t *testing.T) {
	s := NewStore()
	s.MustAppend(KindUser, "a")

	ts := s.Turns()
	ts[0].Text = "mutated"

	assert.Equal(t, "Question: a", s.Render())
}

func TestStore_ZeroValueIsUsable(t *testing.T) {
	var s Store
	turn, err := s.Append(KindUser, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, turn.Sequence)
}
