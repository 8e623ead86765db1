package patch

import (
	"bytes"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func seeded() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// assertPatched checks that out differs from in only inside the token windows.
func assertPatched(t *testing.T, in, out []byte, wantCount int) {
	t.Helper()
	require.Len(t, out, len(in))

	windows := make([]bool, len(in))
	count := 0
	for i := 0; i+len(marker) <= len(in); {
		j := bytes.Index(in[i:], marker)
		if j < 0 {
			break
		}
		start := i + j + len(marker)
		if start+TokenLen > len(in) {
			break
		}
		for k := start; k < start+TokenLen; k++ {
			windows[k] = true
			assert.True(t, isLetter(out[k]), "byte %d = %q is not a letter", k, out[k])
		}
		count++
		i += j + 1
	}
	assert.Equal(t, wantCount, count)

	for k := range in {
		if !windows[k] {
			assert.Equal(t, in[k], out[k], "byte %d outside a token window changed", k)
		}
	}
}

func TestPatchBytes(t *testing.T) {
	t.Run("rewrites every token", func(t *testing.T) {
		in := []byte("\x7fELF\x00cdc_adoQpoasnfa76pfcZLmcfl_Array\x00junk\x00cdc_adoQpoasnfa76pfcZLmcfl_Promise\x00")
		out, count := PatchBytes(in, seeded())
		assert.Equal(t, 2, count)
		assertPatched(t, in, out, 2)
		assert.NotContains(t, string(out), "adoQpoasnfa76pfcZLmcfl_")
	})

	t.Run("input is not modified", func(t *testing.T) {
		in := []byte("cdc_adoQpoasnfa76pfcZLmcfl_Symbol")
		orig := bytes.Clone(in)
		_, _ = PatchBytes(in, seeded())
		assert.Equal(t, orig, in)
	})

	t.Run("zero markers", func(t *testing.T) {
		in := []byte("no markers in here, only cd_ and dc_")
		out, count := PatchBytes(in, seeded())
		assert.Zero(t, count)
		assert.Equal(t, in, out)
	})

	t.Run("marker too close to the end", func(t *testing.T) {
		in := []byte("xxcdc_shorttail")
		out, count := PatchBytes(in, seeded())
		assert.Zero(t, count)
		assert.Equal(t, in, out)
	})

	t.Run("exactly enough trailing bytes", func(t *testing.T) {
		in := []byte("cdc_" + strings.Repeat("9", TokenLen))
		out, count := PatchBytes(in, seeded())
		assert.Equal(t, 1, count)
		assertPatched(t, in, out, 1)
	})

	t.Run("marker inside a token window", func(t *testing.T) {
		in := []byte("cdc_ab" + "cdc_" + strings.Repeat("z", TokenLen))
		out, count := PatchBytes(in, seeded())
		assert.Equal(t, 2, count)
		assertPatched(t, in, out, 2)
		assert.Equal(t, "cdc_", string(out[:4]))
		assert.NotContains(t, string(out[4:]), "_")
	})

	t.Run("reapplication patches the same windows", func(t *testing.T) {
		in := []byte("aaa cdc_adoQpoasnfa76pfcZLmcfl_ bbb cdc_0123456789abcdefgh ccc")
		once, n1 := PatchBytes(in, seeded())
		twice, n2 := PatchBytes(once, rand.New(rand.NewPCG(7, 8)))
		assert.Equal(t, n1, n2)
		assertPatched(t, once, twice, n2)
	})

	t.Run("nil source falls back to the global generator", func(t *testing.T) {
		in := []byte("cdc_adoQpoasnfa76pfcZLmcfl_")
		_, count := PatchBytes(in, nil)
		assert.Equal(t, 1, count)
	})
}

func TestPatcher_Patch(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "chromedriver")
	dst := filepath.Join(dir, "chromedriver_PATCHED")
	payload := []byte("head cdc_adoQpoasnfa76pfcZLmcfl_Array tail")
	require.NoError(t, os.WriteFile(src, payload, 0o644))

	res, err := NewPatcher(zaptest.NewLogger(t), seeded()).Patch(src, dst)
	require.NoError(t, err)
	assert.Equal(t, Result{Count: 1, Bytes: len(payload)}, res)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assertPatched(t, payload, got, 1)

	orig, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, payload, orig)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(dst)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	}
}

func TestPatcher_ZeroMarkersWarns(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	dir := t.TempDir()
	src := filepath.Join(dir, "chromedriver")
	require.NoError(t, os.WriteFile(src, []byte("already clean"), 0o755))

	res, err := NewPatcher(zap.New(core), nil).Patch(src, filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Zero(t, res.Count)
	assert.Equal(t, 1, logs.FilterMessageSnippet("No automation markers").Len())
}

func TestPatcher_Errors(t *testing.T) {
	dir := t.TempDir()
	p := NewPatcher(zaptest.NewLogger(t), nil)

	_, err := p.Patch(filepath.Join(dir, "missing"), filepath.Join(dir, "out"))
	var pe *PatchError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "read", pe.Op)

	src := filepath.Join(dir, "chromedriver")
	require.NoError(t, os.WriteFile(src, []byte("cdc_"), 0o755))
	_, err = p.Patch(src, filepath.Join(dir, "no-such-dir", "out"))
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "write", pe.Op)
}
