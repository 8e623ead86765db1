package driver

import (
	"context"

	"github.com/tebeka/selenium"

	"github.com/xkilldash9x/stealthdriver/internal/browserversion"
	"github.com/xkilldash9x/stealthdriver/internal/capabilities"
	"github.com/xkilldash9x/stealthdriver/internal/fetch"
	"github.com/xkilldash9x/stealthdriver/internal/handshake"
	"github.com/xkilldash9x/stealthdriver/internal/patch"
	"github.com/xkilldash9x/stealthdriver/internal/platform"
	"github.com/xkilldash9x/stealthdriver/internal/supervisor"
)

// VersionResolver reports the installed browser version.
type VersionResolver interface {
	Resolve(ctx context.Context) (browserversion.Version, error)
}

// Fetcher downloads and installs the driver matching a browser version.
type Fetcher interface {
	Fetch(ctx context.Context, version browserversion.Version, p platform.Platform) (fetch.Locator, error)
}

// Patcher writes a scrubbed copy of src to dst.
type Patcher interface {
	Patch(src, dst string) (patch.Result, error)
}

// Process is a running driver owned by whoever holds it.
type Process interface {
	Kill() error
	Wait() error
	Port() int
	PID() int
}

// Spawner starts a driver executable on a port.
type Spawner interface {
	Spawn(ctx context.Context, executable string, port int) (Process, error)
}

// Handshaker opens a WebDriver session, killing proc if it cannot.
type Handshaker interface {
	Connect(ctx context.Context, port int, caps capabilities.Options, proc handshake.Killer) (selenium.WebDriver, error)
}

// SupervisorSpawner adapts a *supervisor.Supervisor to Spawner.
type SupervisorSpawner struct {
	Supervisor *supervisor.Supervisor
}

// Spawn implements Spawner.
func (s SupervisorSpawner) Spawn(ctx context.Context, executable string, port int) (Process, error) {
	p, err := s.Supervisor.Spawn(ctx, executable, port)
	if err != nil {
		return nil, err
	}
	return p, nil
}
