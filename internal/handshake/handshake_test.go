package handshake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tebeka/selenium"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/stealthdriver/internal/capabilities"
)

// scriptedOpener fails until the succeedOn-th call. Zero never succeeds.
type scriptedOpener struct {
	mu        sync.Mutex
	succeedOn int
	calls     int
	urls      []string
	caps      []selenium.Capabilities
	wd        selenium.WebDriver
}

func (o *scriptedOpener) Open(_ context.Context, urlPrefix string, caps selenium.Capabilities) (selenium.WebDriver, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	o.urls = append(o.urls, urlPrefix)
	o.caps = append(o.caps, caps)
	if o.succeedOn > 0 && o.calls == o.succeedOn {
		return o.wd, nil
	}
	return nil, fmt.Errorf("dial tcp %s: connection refused", urlPrefix)
}

type fakeProcess struct {
	kills int
	waits int
	done  chan struct{}
}

func (p *fakeProcess) Kill() error { p.kills++; return nil }
func (p *fakeProcess) Wait() error { p.waits++; return errors.New("signal: killed") }

type exitingProcess struct {
	fakeProcess
}

func (p *exitingProcess) Done() <-chan struct{} { return p.done }

func newRetrier(t *testing.T, opener Opener, maxAttempts int) (*Retrier, *int) {
	r := New(zaptest.NewLogger(t), opener, maxAttempts, time.Millisecond)
	waits := 0
	inner := r.wait
	r.wait = func(ctx context.Context, d time.Duration, exited <-chan struct{}) error {
		waits++
		assert.Equal(t, time.Millisecond, d)
		return inner(ctx, d, exited)
	}
	return r, &waits
}

// fakeWebDriver answers only SessionID; other methods panic through the nil interface.
type fakeWebDriver struct {
	selenium.WebDriver
	id string
}

func (f *fakeWebDriver) SessionID() string { return f.id }

func sessionDriver(id string) *fakeWebDriver {
	return &fakeWebDriver{id: id}
}

func TestConnect_SucceedsOnNthAttempt(t *testing.T) {
	defer goleak.VerifyNone(t)

	for _, n := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("attempt %d", n), func(t *testing.T) {
			wd := sessionDriver("abc")
			opener := &scriptedOpener{succeedOn: n, wd: wd}
			r, waits := newRetrier(t, opener, 15)
			proc := &fakeProcess{}

			got, err := r.Connect(context.Background(), 4444, capabilities.Default(), proc)
			require.NoError(t, err)
			assert.Same(t, wd, got)
			assert.Equal(t, n, opener.calls)
			assert.Equal(t, n-1, *waits)
			assert.Zero(t, proc.kills)
			assert.Equal(t, "http://127.0.0.1:4444", opener.urls[0])
		})
	}
}

func TestConnect_FreshCapabilitiesPerAttempt(t *testing.T) {
	opener := &scriptedOpener{succeedOn: 3, wd: sessionDriver("abc")}
	r, _ := newRetrier(t, opener, 15)

	_, err := r.Connect(context.Background(), 2500, capabilities.Default(), &fakeProcess{})
	require.NoError(t, err)
	require.Len(t, opener.caps, 3)

	opener.caps[0]["mutated"] = true
	_, ok := opener.caps[1]["mutated"]
	assert.False(t, ok)
}

func TestConnect_Exhaustion(t *testing.T) {
	defer goleak.VerifyNone(t)

	opener := &scriptedOpener{}
	r, waits := newRetrier(t, opener, 4)
	proc := &fakeProcess{}

	_, err := r.Connect(context.Background(), 3333, capabilities.Default(), proc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)

	var ee *ExhaustedError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 4, ee.Attempts)
	assert.Contains(t, ee.Last.Error(), "connection refused")

	assert.Equal(t, 4, opener.calls)
	assert.Equal(t, 3, *waits)
	assert.Equal(t, 1, proc.kills)
	assert.Equal(t, 1, proc.waits)
}

func TestConnect_ContextCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	opener := &scriptedOpener{}
	r := New(zaptest.NewLogger(t), opener, 15, time.Hour)
	proc := &fakeProcess{}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := r.Connect(ctx, 3333, capabilities.Default(), proc)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, opener.calls)
	assert.Equal(t, 1, proc.kills)
	assert.Equal(t, 1, proc.waits)
}

func TestConnect_ProcessExitStopsRetrying(t *testing.T) {
	defer goleak.VerifyNone(t)

	opener := &scriptedOpener{}
	r := New(zaptest.NewLogger(t), opener, 15, time.Hour)
	proc := &exitingProcess{fakeProcess{done: make(chan struct{})}}
	close(proc.done)

	_, err := r.Connect(context.Background(), 3333, capabilities.Default(), proc)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, ErrProcessExited)
	assert.Equal(t, 1, opener.calls)
	assert.Equal(t, 1, proc.kills)
}

func TestNew_Defaults(t *testing.T) {
	r := New(zaptest.NewLogger(t), nil, 0, 0)
	assert.Equal(t, DefaultMaxAttempts, r.MaxAttempts())
	assert.Equal(t, DefaultInterval, r.interval)
	assert.IsType(t, SeleniumOpener{}, r.opener)
}

func TestSleep(t *testing.T) {
	start := time.Now()
	require.NoError(t, sleep(context.Background(), 30*time.Millisecond, nil))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

// hangingServer accepts connections and never answers until the test ends.
func hangingServer(t *testing.T) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	return srv
}

func TestSeleniumOpener_UnansweredRequest(t *testing.T) {
	t.Run("attempt timeout", func(t *testing.T) {
		srv := hangingServer(t)
		start := time.Now()
		_, err := SeleniumOpener{Timeout: 100 * time.Millisecond}.Open(context.Background(), srv.URL, capabilities.Default().Selenium())
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("caller deadline", func(t *testing.T) {
		srv := hangingServer(t)
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := SeleniumOpener{}.Open(ctx, srv.URL, capabilities.Default().Selenium())
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("counts as a failed attempt", func(t *testing.T) {
		srv := hangingServer(t)
		port := srv.Listener.Addr().(*net.TCPAddr).Port
		r := New(zaptest.NewLogger(t), SeleniumOpener{Timeout: 50 * time.Millisecond}, 3, time.Millisecond)
		proc := &fakeProcess{}

		_, err := r.Connect(context.Background(), port, capabilities.Default(), proc)
		require.Error(t, err)
		var ee *ExhaustedError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, 3, ee.Attempts)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 1, proc.kills)
		assert.Equal(t, 1, proc.waits)
	})
}

func TestSeleniumOpener_NewSessionPayload(t *testing.T) {
	var (
		mu   sync.Mutex
		body []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/session":
			b, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			mu.Lock()
			if body == nil {
				body = b
			}
			mu.Unlock()
			_, _ = io.WriteString(w, `{"value":{"sessionId":"fake-session","capabilities":{"browserName":"chrome"}}}`)
		case r.Method == http.MethodDelete && r.URL.Path == "/session/fake-session":
			_, _ = io.WriteString(w, `{"value":null}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	opts, err := capabilities.New(capabilities.WithHeadless(true))
	require.NoError(t, err)

	wd, err := SeleniumOpener{Timeout: 5 * time.Second}.Open(context.Background(), srv.URL, opts.Selenium())
	require.NoError(t, err)
	assert.Equal(t, "fake-session", wd.SessionID())
	require.NoError(t, wd.Quit())

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, body)

	var payload struct {
		Capabilities struct {
			AlwaysMatch map[string]json.RawMessage `json:"alwaysMatch"`
		} `json:"capabilities"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	raw, ok := payload.Capabilities.AlwaysMatch["goog:chromeOptions"]
	require.True(t, ok, "alwaysMatch must carry goog:chromeOptions: %s", body)

	var chromeOpts struct {
		Args            []string `json:"args"`
		ExcludeSwitches []string `json:"excludeSwitches"`
	}
	require.NoError(t, json.Unmarshal(raw, &chromeOpts))
	assert.Equal(t, opts.Args(), chromeOpts.Args)
	assert.Equal(t, opts.ExcludeSwitches(), chromeOpts.ExcludeSwitches)
	assert.Contains(t, chromeOpts.Args, "--headless=new")
}

func TestSeleniumOpener_ConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	start := time.Now()
	_, err = SeleniumOpener{Timeout: 5 * time.Second}.Open(context.Background(), "http://"+addr, capabilities.Default().Selenium())
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
