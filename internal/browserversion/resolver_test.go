package browserversion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/stealthdriver/internal/platform"
)

// fakeRunner answers probes from a fixed table and records every call.
type fakeRunner struct {
	outputs map[string]string
	calls   []string
}

func (f *fakeRunner) run(_ context.Context, name string, _ ...string) ([]byte, error) {
	f.calls = append(f.calls, name)
	out, ok := f.outputs[name]
	if !ok {
		return nil, errors.New("executable file not found in $PATH")
	}
	return []byte(out), nil
}

func TestResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("first successful linux probe wins", func(t *testing.T) {
		fr := &fakeRunner{outputs: map[string]string{
			"chromium": "Chromium 113.0.5672.126",
		}}
		r := NewResolver(zaptest.NewLogger(t), "linux", WithCommandRunner(fr.run))

		v, err := r.Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, Version("113.0.5672.126"), v)
		assert.Equal(t, []string{"google-chrome", "google-chrome-stable", "chromium"}, fr.calls)
	})

	t.Run("windows reads the registry", func(t *testing.T) {
		fr := &fakeRunner{outputs: map[string]string{
			"reg": "    version    REG_SZ    115.0.5790.110",
		}}
		r := NewResolver(zaptest.NewLogger(t), "windows", WithCommandRunner(fr.run))

		v, err := r.Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, Version("115.0.5790.110"), v)
	})

	t.Run("override skips probing", func(t *testing.T) {
		fr := &fakeRunner{}
		r := NewResolver(zaptest.NewLogger(t), "linux", WithCommandRunner(fr.run), WithOverride("116.0.5845.96"))

		v, err := r.Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, Version("116.0.5845.96"), v)
		assert.Empty(t, fr.calls)
	})

	t.Run("fallback is used after all probes fail", func(t *testing.T) {
		fr := &fakeRunner{}
		fallback := func(context.Context) (string, error) { return "HeadlessChrome/121.0.6167.85", nil }
		r := NewResolver(zaptest.NewLogger(t), "darwin", WithCommandRunner(fr.run), WithFallback(fallback))

		v, err := r.Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, Version("121.0.6167.85"), v)
		assert.Len(t, fr.calls, 1)
	})

	t.Run("detection failure", func(t *testing.T) {
		fr := &fakeRunner{outputs: map[string]string{"google-chrome": "no digits here"}}
		fallback := func(context.Context) (string, error) { return "", errors.New("no browser") }
		r := NewResolver(zaptest.NewLogger(t), "linux", WithCommandRunner(fr.run), WithFallback(fallback))

		_, err := r.Resolve(ctx)
		require.ErrorIs(t, err, ErrVersionDetectionFailed)
		assert.Contains(t, err.Error(), "no browser")
	})

	t.Run("unsupported operating system", func(t *testing.T) {
		r := NewResolver(zaptest.NewLogger(t), "plan9")
		_, err := r.Resolve(ctx)
		assert.ErrorIs(t, err, platform.ErrUnsupportedOS)
	})
}
