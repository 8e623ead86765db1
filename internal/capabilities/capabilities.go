// Package capabilities builds the browser launch configuration handed to chromedriver
// during the session handshake.
package capabilities

import (
	"fmt"
	"strings"

	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
	"go.uber.org/multierr"

	"github.com/xkilldash9x/stealthdriver/internal/config"
)

// Point is a window coordinate.
type Point struct {
	X, Y int
}

// Size is a window size in pixels.
type Size struct {
	Width, Height int
}

// OffscreenPosition parks the window far outside any real display.
var OffscreenPosition = Point{X: -32000, Y: -32000}

// Options is an immutable, validated set of browser launch options.
// The zero value is not valid; use New or FromConfig.
type Options struct {
	noSandbox                       bool
	disableDevShmUsage              bool
	windowSize                      Size
	userAgent                       string
	hideAutomationIndicators        bool
	disableSearchEngineChoiceScreen bool
	windowPosition                  *Point
	headless                        bool
}

// Option mutates the draft during construction.
type Option func(*Options)

// WithNoSandbox toggles --no-sandbox.
func WithNoSandbox(v bool) Option { return func(o *Options) { o.noSandbox = v } }

// WithDisableDevShmUsage toggles --disable-dev-shm-usage.
func WithDisableDevShmUsage(v bool) Option { return func(o *Options) { o.disableDevShmUsage = v } }

// WithWindowSize sets the initial window size.
func WithWindowSize(width, height int) Option {
	return func(o *Options) { o.windowSize = Size{Width: width, Height: height} }
}

// WithUserAgent overrides the browser user agent.
func WithUserAgent(ua string) Option { return func(o *Options) { o.userAgent = ua } }

// WithHideAutomationIndicators suppresses the "controlled by automated software" infobar
// and the enable-automation switch.
func WithHideAutomationIndicators(v bool) Option {
	return func(o *Options) { o.hideAutomationIndicators = v }
}

// WithDisableSearchEngineChoiceScreen toggles the first-run search engine prompt.
func WithDisableSearchEngineChoiceScreen(v bool) Option {
	return func(o *Options) { o.disableSearchEngineChoiceScreen = v }
}

// WithWindowPosition places the window at p.
func WithWindowPosition(p Point) Option {
	return func(o *Options) { o.windowPosition = &p }
}

// WithOffscreen places the window at OffscreenPosition.
func WithOffscreen() Option { return WithWindowPosition(OffscreenPosition) }

// WithHeadless toggles the new headless mode.
func WithHeadless(v bool) Option { return func(o *Options) { o.headless = v } }

func defaults() Options {
	return Options{
		noSandbox:                       true,
		disableDevShmUsage:              true,
		windowSize:                      Size{Width: 1920, Height: 1080},
		userAgent:                       config.DefaultUserAgent,
		hideAutomationIndicators:        true,
		disableSearchEngineChoiceScreen: true,
	}
}

// Default returns the default options. They are always valid.
func Default() Options {
	return defaults()
}

// ValidationError lists every rejected option.
type ValidationError struct {
	Problems []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return "invalid capabilities: " + strings.Join(msgs, "; ")
}

// New applies opts over the defaults and validates the result once.
func New(opts ...Option) (Options, error) {
	o := defaults()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return Options{}, err
	}
	return o, nil
}

// FromConfig builds Options from the capabilities section of the configuration.
func FromConfig(c config.CapabilitiesConfig) (Options, error) {
	opts := []Option{
		WithNoSandbox(c.NoSandbox),
		WithDisableDevShmUsage(c.DisableDevShmUsage),
		WithWindowSize(c.WindowWidth, c.WindowHeight),
		WithUserAgent(c.UserAgent),
		WithHideAutomationIndicators(c.HideAutomationIndicators),
		WithDisableSearchEngineChoiceScreen(c.DisableSearchEngineChoiceScreen),
		WithHeadless(c.Headless),
	}
	if c.Offscreen {
		opts = append(opts, WithOffscreen())
	}
	if c.WindowPosition.Enabled {
		opts = append(opts, WithWindowPosition(Point{X: c.WindowPosition.X, Y: c.WindowPosition.Y}))
	}
	return New(opts...)
}

func (o Options) validate() error {
	var err error
	if o.windowSize.Width <= 0 {
		err = multierr.Append(err, fmt.Errorf("window width must be positive, got %d", o.windowSize.Width))
	}
	if o.windowSize.Height <= 0 {
		err = multierr.Append(err, fmt.Errorf("window height must be positive, got %d", o.windowSize.Height))
	}
	if strings.TrimSpace(o.userAgent) == "" {
		err = multierr.Append(err, fmt.Errorf("user agent must not be empty"))
	} else if strings.ContainsAny(o.userAgent, "\r\n") {
		err = multierr.Append(err, fmt.Errorf("user agent must be a single line"))
	}
	if err != nil {
		return &ValidationError{Problems: multierr.Errors(err)}
	}
	return nil
}

// Headless reports whether the browser runs headless.
func (o Options) Headless() bool { return o.headless }

// UserAgent returns the configured user agent.
func (o Options) UserAgent() string { return o.userAgent }

// WindowSize returns the configured window size.
func (o Options) WindowSize() Size { return o.windowSize }

// WindowPosition returns the configured window position, if any.
func (o Options) WindowPosition() (Point, bool) {
	if o.windowPosition == nil {
		return Point{}, false
	}
	return *o.windowPosition, true
}

// Args returns the browser command line arguments in a deterministic order.
func (o Options) Args() []string {
	var args []string
	if o.noSandbox {
		args = append(args, "--no-sandbox")
	}
	if o.disableDevShmUsage {
		args = append(args, "--disable-dev-shm-usage")
	}
	args = append(args,
		"--disable-blink-features=AutomationControlled",
		fmt.Sprintf("window-size=%d,%d", o.windowSize.Width, o.windowSize.Height),
		"user-agent="+o.userAgent,
	)
	if o.hideAutomationIndicators {
		args = append(args, "disable-infobars")
	}
	if o.disableSearchEngineChoiceScreen {
		args = append(args, "--disable-search-engine-choice-screen")
	}
	if o.windowPosition != nil {
		args = append(args, fmt.Sprintf("--window-position=%d,%d", o.windowPosition.X, o.windowPosition.Y))
	}
	if o.headless {
		args = append(args, "--headless=new")
	}
	return args
}

// ExcludeSwitches returns the chromedriver default switches to suppress.
func (o Options) ExcludeSwitches() []string {
	if o.hideAutomationIndicators {
		return []string{"enable-automation"}
	}
	return nil
}

// Selenium returns a fresh WebDriver capabilities map. Each call allocates new maps and
// slices so a handshake attempt may consume it freely.
func (o Options) Selenium() selenium.Capabilities {
	caps := selenium.Capabilities{"browserName": "chrome"}
	caps.AddChrome(chrome.Capabilities{
		Args:            o.Args(),
		ExcludeSwitches: o.ExcludeSwitches(),
		W3C:             true,
	})
	return caps
}
