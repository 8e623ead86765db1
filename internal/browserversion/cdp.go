package browserversion

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
)

const cdpProbeTimeout = 30 * time.Second

// CDPProbe launches the locally installed browser headless over the DevTools protocol and
// returns its product string, e.g. "HeadlessChrome/115.0.5790.170". chromedp locates the
// browser binary using its own search path, which covers installs the command probes miss.
func CDPProbe(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, cdpProbeTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var product string
	err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		_, product, _, _, _, err = browser.GetVersion().Do(ctx)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("cdp version probe: %w", err)
	}
	return product, nil
}
