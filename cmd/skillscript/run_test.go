package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/skillscript/internal/logging"
	"github.com/rendis/skillscript/internal/streaming"
	"github.com/rendis/skillscript/internal/validation"
	"github.com/rendis/skillscript/pkg/schema"
)

func testApp(t *testing.T, files map[string]string) *app {
	t.Helper()
	return testAppOn(t, "", files)
}

func testAppOn(t *testing.T, bus string, files map[string]string) *app {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	cfg := Config{
		ScriptsDir:   dir,
		LogLevel:     "error",
		TickInterval: "1ms",
		StepBudget:   100,
		Trigger:      "OnCast",
		EventBus:     bus,
	}
	a, err := newApp(context.Background(), cfg, logging.New(&bytes.Buffer{}, "error"))
	require.NoError(t, err)
	t.Cleanup(a.close)
	return a
}

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"hp=12", "name=Ayla", "armed=true", "ratio=0.5", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"hp":    float64(12),
		"name":  "Ayla",
		"armed": true,
		"ratio": 0.5,
		"empty": "",
	}, vars)

	_, err = parseVars([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseVars([]string{"=3"})
	assert.Error(t, err)
}

func TestRunScript_Completes(t *testing.T) {
	a := testApp(t, map[string]string{"greet.yml": `
OnCast:
  - targetbehaviour.sendmessage:
      message: "hi"
  - controlflow.delay:
      duration: 2
  - targetbehaviour.sendmessage:
      message: "bye"
`})
	var out bytes.Buffer
	err := runScript(context.Background(), a, &out, runOptions{
		script: "greet", trigger: "OnCast", actor: "player", maxTicks: 50, noWait: true,
	})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "[tick 1] player: hi")
	assert.Contains(t, out.String(), "player: bye")
	assert.Contains(t, out.String(), "completed")
	assert.Zero(t, a.sched.Len())
}

func TestRunScript_GoChannelBus(t *testing.T) {
	a := testAppOn(t, "gochannel", map[string]string{"ping.yml": `
OnCast:
  - targetbehaviour.sendmessage:
      message: "ping"
`})
	ctx := context.Background()
	ch, cancel, err := a.hub.Subscribe(ctx, streaming.EventFilter{
		EventTypes: []string{schema.EventMessageSent, schema.EventTaskCompleted},
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, runScript(ctx, a, &bytes.Buffer{}, runOptions{
		script: "ping", trigger: "OnCast", actor: "player", maxTicks: 10, noWait: true,
	}))

	var got []string
	for range 2 {
		select {
		case ev := <-ch:
			got = append(got, ev.EventType)
		case <-time.After(time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, []string{schema.EventMessageSent, schema.EventTaskCompleted}, got)
}

func TestRunScript_Failure(t *testing.T) {
	a := testApp(t, map[string]string{"lost.yml": `
OnCast:
  - targetbehaviour.sendmessage:
      message: "hi"
      target: ghost
`})
	var out bytes.Buffer
	err := runScript(context.Background(), a, &out, runOptions{
		script: "lost", trigger: "OnCast", actor: "player", maxTicks: 10, noWait: true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
	assert.Contains(t, out.String(), "failed")
}

func TestRunScript_MaxTicksCancels(t *testing.T) {
	a := testApp(t, map[string]string{"slow.yml": `
OnCast:
  - controlflow.delay:
      duration: 1000
`})
	var out bytes.Buffer
	err := runScript(context.Background(), a, &out, runOptions{
		script: "slow", trigger: "OnCast", actor: "player", maxTicks: 3, noWait: true,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "stopped 1 running task(s)")
	assert.Contains(t, out.String(), "cancelled")
}

func TestRunScript_UnknownScript(t *testing.T) {
	a := testApp(t, nil)
	err := runScript(context.Background(), a, &bytes.Buffer{}, runOptions{
		script: "nope", trigger: "OnCast", actor: "player", maxTicks: 1, noWait: true,
	})
	require.Error(t, err)
}

func TestValidateFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.yml"), []byte(`
OnCast:
  - targetbehaviour.sendmessage:
      message: "hi"
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(`
OnCast:
  - targetbehaviour.sendmessage:
      target: hero
`), 0o644))

	files, err := scriptFiles(dir, nil)
	require.NoError(t, err)
	require.Len(t, files, 2)

	reg, err := newRegistry(logging.New(&bytes.Buffer{}, "error"), nil)
	require.NoError(t, err)
	sv, err := validation.NewScriptValidator(reg)
	require.NoError(t, err)

	var out bytes.Buffer
	assert.Equal(t, 1, validateFiles(&out, sv, files))
	assert.Contains(t, out.String(), "ok   good")
	assert.Contains(t, out.String(), "FAIL bad")

	path, err := resolveScript(dir, "good")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "good.yml"), path)
	_, err = resolveScript(dir, "missing")
	assert.Error(t, err)
}
