package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npcnix/npcnix/pkg/datadir"
	"github.com/npcnix/npcnix/pkg/logging/testoutput"
)

type harness struct {
	t        *testing.T
	dataDir  string
	settings string
	rebuild  string
}

func newHarness(t *testing.T) *harness {
	testoutput.Record(t)
	dir := t.TempDir()
	return &harness{
		t:        t,
		dataDir:  filepath.Join(dir, "data"),
		settings: filepath.Join(dir, "npcnix.toml"),
		rebuild:  fakeRebuild(t, dir),
	}
}

// run executes the CLI and returns its stdout and exit code.
func (h *harness) run(args ...string) (string, int) {
	h.t.Helper()
	var out bytes.Buffer
	argv := append([]string{
		"npcnix",
		"--data-dir", h.dataDir,
		"--settings", h.settings,
		"--nixos-rebuild", h.rebuild,
	}, args...)
	code := _main(argv, &out)
	return out.String(), code
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, code := h.run(args...)
	require.Equal(h.t, 0, code, "npcnix %s", strings.Join(args, " "))
	return out
}

func (h *harness) show() map[string]interface{} {
	h.t.Helper()
	var shown map[string]interface{}
	require.NoError(h.t, json.Unmarshal([]byte(h.mustRun("show")), &shown))
	return shown
}

// fakeRebuild writes a nixos-rebuild stand-in that appends its arguments to
// a log next to it.
func fakeRebuild(t *testing.T, dir string) string {
	bin := filepath.Join(dir, "nixos-rebuild")
	script := "#!/bin/sh\ntest -f flake.nix || exit 9\necho \"$@\" >> \"$0.log\"\nexit ${FAKE_REBUILD_EXIT:-0}\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0755))
	return bin
}

func (h *harness) rebuildCalls() []string {
	data, err := os.ReadFile(h.rebuild + ".log")
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(h.t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func sourceTree(t *testing.T) string {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "flake.nix"), []byte("{ }"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "hosts"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "hosts", "web.nix"), []byte("{ }"), 0644))
	return src
}

func TestShowFreshDataDir(t *testing.T) {
	h := newHarness(t)
	shown := h.show()
	assert.Nil(t, shown["remote"])
	assert.Nil(t, shown["configuration"])
	assert.Nil(t, shown["paused"])
	assert.NoFileExists(t, filepath.Join(h.dataDir, "config.json"), "show must not create a config")
}

func TestSetRemoteInit(t *testing.T) {
	h := newHarness(t)
	h.mustRun("set", "remote", "--init", "s3://first/flake.tar.zst")
	h.mustRun("set", "remote", "--init", "s3://second/flake.tar.zst")
	assert.Equal(t, "s3://first/flake.tar.zst", h.show()["remote"])

	h.mustRun("set", "remote", "s3://second/flake.tar.zst")
	assert.Equal(t, "s3://second/flake.tar.zst", h.show()["remote"])
}

func TestSetErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"remote without scheme", []string{"set", "remote", "bucket/key"}},
		{"missing argument", []string{"set", "configuration"}},
		{"empty configuration", []string{"set", "configuration", ""}},
		{"bad duration", []string{"set", "min-sleep", "soon"}},
		{"zero duration", []string{"set", "max-sleep", "0s"}},
		{"sub-second duration", []string{"set", "min-sleep", "500ms"}},
		{"fractional duration", []string{"set", "max-sleep", "1.5s"}},
		{"unknown once policy", []string{"follow", "--once", "twice"}},
		{"activate without configuration", []string{"activate", "--src", "."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, code := h.run(tt.args...)
			assert.Equal(t, 1, code)
		})
	}
}

func TestSetSleeps(t *testing.T) {
	h := newHarness(t)
	h.mustRun("set", "min-sleep", "30s")
	h.mustRun("set", "max-sleep", "2h")
	h.mustRun("set", "max-sleep-after", "24h")
	shown := h.show()
	assert.EqualValues(t, 30, shown["min_sleep_secs"])
	assert.EqualValues(t, 7200, shown["max_sleep_secs"])
	assert.EqualValues(t, 86400, shown["max_sleep_after_secs"])
}

func TestPauseUnpause(t *testing.T) {
	h := newHarness(t)
	h.mustRun("pause")
	assert.Equal(t, map[string]interface{}{"indefinite": true}, h.show()["paused"])
	assert.Contains(t, h.mustRun("status"), "indefinitely")

	h.mustRun("pause", "--for", "1h")
	paused, ok := h.show()["paused"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, paused, "until")

	h.mustRun("unpause")
	assert.Nil(t, h.show()["paused"])
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun("status")
	assert.Contains(t, out, "remote:")
	assert.Contains(t, out, "not set")
	assert.Contains(t, out, "never")
}

func TestPackPushPullFollow(t *testing.T) {
	h := newHarness(t)
	src := sourceTree(t)
	remote := "file://" + filepath.Join(t.TempDir(), "remote", "flake.tar.zst")

	packed := filepath.Join(t.TempDir(), "flake.tar.zst")
	h.mustRun("pack", "--src", src, "--include", "hosts", "--dst", packed)
	assert.FileExists(t, packed)

	h.mustRun("set", "remote", remote)
	h.mustRun("set", "configuration", "web")
	h.mustRun("push", "--src", src, "--remote", remote)

	pulled := filepath.Join(t.TempDir(), "pulled")
	h.mustRun("pull", "--dst", pulled)
	assert.FileExists(t, filepath.Join(pulled, "hosts", "web.nix"))

	h.mustRun("follow", "--once", "activate", "--extra-substituters", "https://cache.example")
	assert.Equal(t, []string{
		"switch -L --option extra-substituters https://cache.example --flake .#web",
	}, h.rebuildCalls())

	shown := h.show()
	assert.Equal(t, "web", shown["last_configuration"])
	assert.NotEmpty(t, shown["last_fingerprint"])

	// Unchanged remote: a second run checks and stops without activating.
	h.mustRun("follow", "--once", "any")
	assert.Len(t, h.rebuildCalls(), 1)
}

func TestPushRequiresExplicitRemote(t *testing.T) {
	h := newHarness(t)
	src := sourceTree(t)
	stored := filepath.Join(t.TempDir(), "remote", "flake.tar.zst")
	h.mustRun("set", "remote", "file://"+stored)

	_, code := h.run("push", "--src", src)
	assert.Equal(t, 1, code)
	assert.NoFileExists(t, stored)

	_, code = h.run("push", "--src", src, "--remote", "bucket/key")
	assert.Equal(t, 1, code)
}

func TestActivateCommand(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(h.settings, []byte(`
[activate]
extra-trusted-public-keys = ["cache.example:AAAA"]
`), 0644))
	src := sourceTree(t)
	h.mustRun("set", "configuration", "web")
	h.mustRun("activate", "--src", src, "--configuration", "db")
	assert.Equal(t, []string{
		"switch -L --option extra-trusted-public-keys cache.example:AAAA --flake .#db",
	}, h.rebuildCalls())

	c, err := datadir.New(h.dataDir).LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "db", c.LastConfiguration())
	assert.Equal(t, "", c.LastFingerprint())
}

func TestActivateFailureExitsNonZero(t *testing.T) {
	h := newHarness(t)
	t.Setenv("FAKE_REBUILD_EXIT", "1")
	_, code := h.run("activate", "--src", sourceTree(t), "--configuration", "web")
	assert.Equal(t, 1, code)

	c, err := datadir.New(h.dataDir).LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "", c.LastConfiguration())
}
