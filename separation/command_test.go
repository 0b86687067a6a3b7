package separation

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/DubKit/types"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// writeHelper creates an executable shell script acting as the separation
// helper.
func writeHelper(t *testing.T, dir, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell helper scripts are not runnable on windows")
	}
	path := filepath.Join(dir, "helper.sh")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o700))
	return path
}

func TestCommandEngine_Argv(t *testing.T) {
	e := NewCommandEngine("demucs --two-stems=vocals -o {out} {in}")
	argv := e.argv("/tmp/in.wav", "/tmp/sep")
	assert.Equal(t, []string{"demucs", "--two-stems=vocals", "-o", "/tmp/sep", "/tmp/in.wav"}, argv)
}

func TestCommandEngine_ArgvAppendsInputWhenNoPlaceholder(t *testing.T) {
	e := NewCommandEngine("spleeter separate -o {out}")
	argv := e.argv("/tmp/in.wav", "/tmp/sep")
	assert.Equal(t, []string{"spleeter", "separate", "-o", "/tmp/sep", "/tmp/in.wav"}, argv)
}

func TestCommandEngine_Separate(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.wav")
	writeFile(t, input, "RIFFdata")
	outDir := filepath.Join(dir, "sep")
	require.NoError(t, os.MkdirAll(outDir, 0o750))

	helper := writeHelper(t, dir, `out="$1"
mkdir -p "$out/model/track"
printf audio > "$out/model/track/vocals.wav"
printf audio > "$out/model/track/no_vocals.wav"`)

	e := NewCommandEngine(helper + " {out} {in}")
	result, err := e.Separate(context.Background(), input, outDir)
	require.NoError(t, err)

	assert.FileExists(t, result.VocalsPath)
	assert.FileExists(t, result.AccompanimentPath)
	assert.Equal(t, "accompaniment.wav", filepath.Base(result.AccompanimentPath))
	// no_vocals was renamed, not copied
	assert.NoFileExists(t, filepath.Join(outDir, "model", "track", "no_vocals.wav"))
	// Input untouched.
	data, err := os.ReadFile(input)
	require.NoError(t, err)
	assert.Equal(t, "RIFFdata", string(data))
}

func TestCommandEngine_MissingStemsAfterExit(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.wav")
	writeFile(t, input, "RIFFdata")
	outDir := filepath.Join(dir, "sep")
	require.NoError(t, os.MkdirAll(outDir, 0o750))

	helper := writeHelper(t, dir, "exit 0")

	e := NewCommandEngine(helper + " {out} {in}")
	_, err := e.Separate(context.Background(), input, outDir)

	var toolErr *types.ExternalToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, Component, toolErr.Component)
}

func TestCommandEngine_HelperFailureCarriesStderr(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.wav")
	writeFile(t, input, "RIFFdata")

	helper := writeHelper(t, dir, `echo "CUDA out of memory" >&2
exit 3`)

	e := NewCommandEngine(helper + " {out} {in}")
	_, err := e.Separate(context.Background(), input, dir)

	var toolErr *types.ExternalToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Contains(t, toolErr.StderrTail, "CUDA out of memory")
}

func TestCommandEngine_Timeout(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.wav")
	writeFile(t, input, "RIFFdata")

	helper := writeHelper(t, dir, "sleep 5")

	e := NewCommandEngine(helper+" {out} {in}", WithTimeout(50*time.Millisecond))
	_, err := e.Separate(context.Background(), input, dir)

	var timeoutErr *types.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, Component, timeoutErr.Component)
}

func TestCommandEngine_MissingInput(t *testing.T) {
	e := NewCommandEngine("")
	_, err := e.Separate(context.Background(), "/nonexistent/in.wav", t.TempDir())

	var artErr *types.InvalidArtifactError
	assert.ErrorAs(t, err, &artErr)
}

func TestRegistry(t *testing.T) {
	e := NewCommandEngine("")
	Register(e)

	got, err := Get("command")
	require.NoError(t, err)
	assert.Same(t, Engine(e), got)

	_, err = Get("nope")
	assert.Error(t, err)
	assert.Contains(t, Names(), "command")
}
