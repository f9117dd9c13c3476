package engine

import (
	"context"
	"testing"

	"github.com/go-go-golems/marionette/pkg/helpers"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticEngine struct {
	text string
	err  error
}

func (s staticEngine) Generate(ctx context.Context, messages []Message, temperature float64) (string, error) {
	return s.text, s.err
}

func feed(results ...helpers.Result[string]) <-chan helpers.Result[string] {
	c := make(chan helpers.Result[string], len(results))
	for _, r := range results {
		c <- r
	}
	close(c)
	return c
}

func TestCollect_ConcatenatesFragments(t *testing.T) {
	var seen []string
	text, err := Collect(context.Background(), feed(
		helpers.NewValueResult("Thought: "),
		helpers.NewValueResult(""),
		helpers.NewValueResult("ok"),
	), func(s string) { seen = append(seen, s) })

	require.NoError(t, err)
	assert.Equal(t, "Thought: ok", text)
	assert.Equal(t, []string{"Thought: ", "ok"}, seen)
}

func TestCollect_ErrorDiscardsPartialText(t *testing.T) {
	text, err := Collect(context.Background(), feed(
		helpers.NewValueResult("Thought: partial"),
		helpers.NewErrorResult[string](errors.New("connection reset")),
	), nil)

	assert.EqualError(t, err, "connection reset")
	assert.Empty(t, text)
}

func TestCollect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Collect(ctx, make(chan helpers.Result[string]), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStream_AdaptsBlockingEngine(t *testing.T) {
	ctx := context.Background()

	c, err := Stream(ctx, staticEngine{text: "whole answer"}, nil, 0)
	require.NoError(t, err)
	text, err := Collect(ctx, c, nil)
	require.NoError(t, err)
	assert.Equal(t, "whole answer", text)

	c, err = Stream(ctx, staticEngine{}, nil, 0)
	require.NoError(t, err)
	text, err = Collect(ctx, c, nil)
	require.NoError(t, err)
	assert.Equal(t, "", text)

	c, err = Stream(ctx, staticEngine{err: ErrNoResponse}, nil, 0)
	require.NoError(t, err)
	_, err = Collect(ctx, c, nil)
	assert.ErrorIs(t, err, ErrNoResponse)
}
