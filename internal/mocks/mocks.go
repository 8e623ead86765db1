// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/tebeka/selenium"

	"github.com/xkilldash9x/stealthdriver/internal/browserversion"
	"github.com/xkilldash9x/stealthdriver/internal/capabilities"
	"github.com/xkilldash9x/stealthdriver/internal/driver"
	"github.com/xkilldash9x/stealthdriver/internal/fetch"
	"github.com/xkilldash9x/stealthdriver/internal/handshake"
	"github.com/xkilldash9x/stealthdriver/internal/patch"
	"github.com/xkilldash9x/stealthdriver/internal/platform"
)

// -- Version Resolver Mock --

// MockVersionResolver mocks driver.VersionResolver.
type MockVersionResolver struct {
	mock.Mock
}

func (m *MockVersionResolver) Resolve(ctx context.Context) (browserversion.Version, error) {
	args := m.Called(ctx)
	return args.Get(0).(browserversion.Version), args.Error(1)
}

// -- Fetcher Mock --

// MockFetcher mocks driver.Fetcher.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, version browserversion.Version, p platform.Platform) (fetch.Locator, error) {
	args := m.Called(ctx, version, p)
	return args.Get(0).(fetch.Locator), args.Error(1)
}

// -- Patcher Mock --

// MockPatcher mocks driver.Patcher.
type MockPatcher struct {
	mock.Mock
}

func (m *MockPatcher) Patch(src, dst string) (patch.Result, error) {
	args := m.Called(src, dst)
	return args.Get(0).(patch.Result), args.Error(1)
}

// -- Process Mocks --

// MockProcess mocks driver.Process.
type MockProcess struct {
	mock.Mock
}

func (m *MockProcess) Kill() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockProcess) Wait() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockProcess) Port() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockProcess) PID() int {
	args := m.Called()
	return args.Int(0)
}

// MockSpawner mocks driver.Spawner.
type MockSpawner struct {
	mock.Mock
}

func (m *MockSpawner) Spawn(ctx context.Context, executable string, port int) (driver.Process, error) {
	args := m.Called(ctx, executable, port)
	var p driver.Process
	if v := args.Get(0); v != nil {
		p = v.(driver.Process)
	}
	return p, args.Error(1)
}

// -- Handshake Mock --

// MockHandshaker mocks driver.Handshaker.
type MockHandshaker struct {
	mock.Mock
}

func (m *MockHandshaker) Connect(ctx context.Context, port int, caps capabilities.Options, proc handshake.Killer) (selenium.WebDriver, error) {
	args := m.Called(ctx, port, caps, proc)
	var wd selenium.WebDriver
	if v := args.Get(0); v != nil {
		wd = v.(selenium.WebDriver)
	}
	return wd, args.Error(1)
}

// -- WebDriver Mock --

// MockWebDriver mocks the selenium.WebDriver methods the lifecycle code calls. Any other
// method panics through the nil embedded interface.
type MockWebDriver struct {
	selenium.WebDriver
	mock.Mock
}

func (m *MockWebDriver) SessionID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockWebDriver) Quit() error {
	args := m.Called()
	return args.Error(0)
}
