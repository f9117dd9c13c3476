package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-go-golems/marionette/pkg/inference/agentloop"
	"github.com/go-go-golems/marionette/pkg/inference/ollama"
	"github.com/go-go-golems/marionette/pkg/inference/openai"
	"github.com/go-go-golems/marionette/pkg/settings"
	"github.com/go-go-golems/marionette/pkg/transcript"
	"github.com/go-go-golems/marionette/pkg/turns"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	require.NoError(t, settings.ConfigureViper(viper.GetViper()))
	t.Cleanup(viper.Reset)
}

func TestReadTask_JoinsArguments(t *testing.T) {
	task, err := readTask([]string{"weather", "in", " Nanjing "})
	require.NoError(t, err)
	assert.Equal(t, "weather in  Nanjing", task)
}

func TestNewBaseEngine_SelectsProvider(t *testing.T) {
	s := settings.NewSettings()
	s.API.APIKey = "sk-test"
	eng, err := newBaseEngine(s)
	require.NoError(t, err)
	assert.IsType(t, &openai.Engine{}, eng)

	t.Setenv("OLLAMA_HOST", "127.0.0.1:11434")
	s.Chat.Provider = settings.ProviderOllama
	s.Chat.Model = "llama2"
	eng, err = newBaseEngine(s)
	require.NoError(t, err)
	assert.IsType(t, &ollama.Engine{}, eng)
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "short", shorten("short", 10))
	assert.Equal(t, "a b c", shorten("a\n b\t c", 10))
	assert.Equal(t, "abcdefg...", shorten("abcdefghijklmnop", 10))
}

func TestConfigCommand_MasksAPIKey(t *testing.T) {
	resetViper(t)
	viper.Set("api.api-key", "sk-secret")
	viper.Set("loop.max-iterations", 7)

	var out bytes.Buffer
	cmd := newConfigCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	assert.NotContains(t, out.String(), "sk-secret")
	assert.Contains(t, out.String(), "***")
	assert.Contains(t, out.String(), "max-iterations: 7")
}

func TestTranscriptsCommand_ListAndShow(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), "runs.db")
	viper.Set("transcript.path", path)

	store, err := transcript.Open(path)
	require.NoError(t, err)
	started := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, store.Save(context.Background(), transcript.Record{
		RunID:      "run-42",
		Variant:    "react",
		Task:       "What is the weather in Nanjing?",
		Outcome:    "answer",
		StopReason: "finished",
		Answer:     "22C and sunny",
		Iterations: 2,
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
		Turns: []turns.Turn{
			{Sequence: 1, Kind: turns.KindUser, Text: "What is the weather in Nanjing?"},
		},
	}))
	require.NoError(t, store.Close())

	var out bytes.Buffer
	cmd := newTranscriptsCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"list"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "run-42")
	assert.Contains(t, out.String(), "finished")

	out.Reset()
	cmd = newTranscriptsCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"show", "run-42"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "answer:     22C and sunny")
	assert.Contains(t, out.String(), "--- 1 user")
}

func TestPrintResult_NoAnswerPrintsSummary(t *testing.T) {
	var out bytes.Buffer
	res := &agentloop.Result{Outcome: agentloop.OutcomeNoAnswer, StopReason: agentloop.StopMaxIterations, Iterations: 3}
	printResult(&out, res, false)
	assert.Equal(t, res.String()+"\n", out.String())

	out.Reset()
	printResult(&out, &agentloop.Result{Outcome: agentloop.OutcomeAnswer, Answer: "42"}, false)
	assert.Equal(t, "42\n", out.String())
}
