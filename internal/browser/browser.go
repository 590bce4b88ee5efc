// Package browser wraps playwright behind the small capability set the
// decision engine needs. The engine and pattern library only ever see the
// Controller interface, so tests run against the Stub in stub.go.
package browser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

const (
	defaultNavTimeout    = 30 * time.Second
	defaultActionTimeout = 10 * time.Second
	headlessEnv          = "HARNESS_HEADLESS"
)

// FrameInfo identifies an active frame on the page.
type FrameInfo struct {
	Name string
	URL  string
}

// Controller exposes the browser actions the harness needs. All blocking
// calls take a context and fail fast on the underlying action timeout.
type Controller interface {
	Close(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	URL() string
	Title() string
	VisibleText(ctx context.Context) (string, error)

	Count(ctx context.Context, selector string) (int, error)
	TextContent(ctx context.Context, selector string) (string, error)
	AttrValue(ctx context.Context, selector, attr string) (string, error)
	InputValue(ctx context.Context, selector string) (string, error)
	IsVisible(ctx context.Context, selector string) bool
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error

	Click(ctx context.Context, selector string) error
	ClickText(ctx context.Context, text string, exact bool) error
	ClickRole(ctx context.Context, role, name string) error
	Fill(ctx context.Context, selector, value string) error
	Clear(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string, perKeyDelay time.Duration) error
	Press(ctx context.Context, selector, key string) error
	Focus(ctx context.Context, selector string) error
	SelectByLabel(ctx context.Context, selector, label string) error
	SelectByValue(ctx context.Context, selector, value string) error

	Frames() []FrameInfo
	FrameFill(ctx context.Context, frameMatch, selector, value string) error
	FrameClick(ctx context.Context, frameMatch, selector string) error

	Screenshot(ctx context.Context) ([]byte, error)
	Eval(ctx context.Context, script string, arg any) (any, error)
}

// Launcher owns the playwright lifecycle.
type Launcher struct {
	pw       *playwright.Playwright
	browser  playwright.Browser
	headless bool
}

func NewLauncher(ctx context.Context) (*Launcher, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	headless := parseBoolEnv(headlessEnv, true)
	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &Launcher{pw: pw, browser: b, headless: headless}, nil
}

// NewController opens an isolated browser context with its own page. Each
// scenario run gets its own controller; nothing is shared between runs except
// the step cache.
func (l *Launcher) NewController(ctx context.Context) (Controller, error) {
	bctx, err := l.browser.NewContext(playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(float64(defaultActionTimeout.Milliseconds()))
	return &controller{context: bctx, page: page}, nil
}

func (l *Launcher) Close() error {
	if l.browser != nil {
		_ = l.browser.Close()
	}
	if l.pw != nil {
		return l.pw.Stop()
	}
	return nil
}

type controller struct {
	context playwright.BrowserContext
	page    playwright.Page
}

func (c *controller) Close(ctx context.Context) error {
	_ = ctx
	if c.page != nil {
		_ = c.page.Close()
	}
	if c.context != nil {
		return c.context.Close()
	}
	return nil
}

func (c *controller) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(defaultNavTimeout.Milliseconds())),
	})
	return wrap(err)
}

func (c *controller) URL() string { return c.page.URL() }

func (c *controller) Title() string {
	title, _ := c.page.Title()
	return title
}

func (c *controller) VisibleText(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := c.page.InnerText("body")
	if err != nil {
		return "", wrap(err)
	}
	return strings.TrimSpace(text), nil
}

func (c *controller) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := c.page.Locator(selector).Count()
	if err != nil {
		return 0, wrap(err)
	}
	return n, nil
}

func (c *controller) TextContent(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := c.page.Locator(selector).First().TextContent()
	if err != nil {
		return "", wrap(err)
	}
	return strings.TrimSpace(text), nil
}

func (c *controller) AttrValue(ctx context.Context, selector, attr string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	val, err := c.page.Locator(selector).First().GetAttribute(attr)
	if err != nil {
		return "", wrap(err)
	}
	return val, nil
}

func (c *controller) InputValue(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	val, err := c.page.Locator(selector).First().InputValue()
	if err != nil {
		return "", wrap(err)
	}
	return val, nil
}

func (c *controller) IsVisible(ctx context.Context, selector string) bool {
	if ctx.Err() != nil {
		return false
	}
	visible, err := c.page.Locator(selector).First().IsVisible()
	return err == nil && visible
}

func (c *controller) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	return wrap(c.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}))
}

// visibleFirst resolves a selector to its first visible match. First() avoids
// strict-mode violations when several elements match.
func (c *controller) visibleFirst(selector string) (playwright.Locator, error) {
	loc := c.page.Locator(selector).First()
	if err := loc.WaitFor(playwright.LocatorWaitForOptions{State: playwright.WaitForSelectorStateVisible}); err != nil {
		return nil, wrap(err)
	}
	if err := loc.ScrollIntoViewIfNeeded(); err != nil {
		// Element may already be in view; the action itself will surface
		// real failures.
		_ = err
	}
	return loc, nil
}

func (c *controller) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc, err := c.visibleFirst(selector)
	if err != nil {
		return err
	}
	return wrap(loc.Click())
}

func (c *controller) ClickText(ctx context.Context, text string, exact bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc := c.page.GetByText(text, playwright.PageGetByTextOptions{Exact: playwright.Bool(exact)}).First()
	if err := loc.WaitFor(playwright.LocatorWaitForOptions{State: playwright.WaitForSelectorStateVisible}); err != nil {
		return wrap(err)
	}
	return wrap(loc.Click())
}

func (c *controller) ClickRole(ctx context.Context, role, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	aria := playwright.AriaRole(strings.ToLower(strings.TrimSpace(role)))
	loc := c.page.GetByRole(aria, playwright.PageGetByRoleOptions{Name: name}).First()
	if err := loc.WaitFor(playwright.LocatorWaitForOptions{State: playwright.WaitForSelectorStateVisible}); err != nil {
		return wrap(err)
	}
	return wrap(loc.Click())
}

func (c *controller) Fill(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc, err := c.visibleFirst(selector)
	if err != nil {
		return err
	}
	return wrap(loc.Fill(value))
}

func (c *controller) Clear(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc, err := c.visibleFirst(selector)
	if err != nil {
		return err
	}
	return wrap(loc.Clear())
}

func (c *controller) Type(ctx context.Context, selector, text string, perKeyDelay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc, err := c.visibleFirst(selector)
	if err != nil {
		return err
	}
	opts := playwright.LocatorPressSequentiallyOptions{}
	if perKeyDelay > 0 {
		opts.Delay = playwright.Float(float64(perKeyDelay.Milliseconds()))
	}
	return wrap(loc.PressSequentially(text, opts))
}

func (c *controller) Press(ctx context.Context, selector, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(c.page.Locator(selector).First().Press(key))
}

func (c *controller) Focus(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(c.page.Locator(selector).First().Focus())
}

func (c *controller) SelectByLabel(ctx context.Context, selector, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc, err := c.visibleFirst(selector)
	if err != nil {
		return err
	}
	_, serr := loc.SelectOption(playwright.SelectOptionValues{Labels: &[]string{label}})
	return wrap(serr)
}

func (c *controller) SelectByValue(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc, err := c.visibleFirst(selector)
	if err != nil {
		return err
	}
	_, serr := loc.SelectOption(playwright.SelectOptionValues{Values: &[]string{value}})
	return wrap(serr)
}

func (c *controller) Frames() []FrameInfo {
	frames := c.page.Frames()
	infos := make([]FrameInfo, 0, len(frames))
	for _, f := range frames {
		if f == c.page.MainFrame() {
			continue
		}
		infos = append(infos, FrameInfo{Name: f.Name(), URL: f.URL()})
	}
	return infos
}

// frameByMatch finds the first non-main frame whose URL or name contains match.
func (c *controller) frameByMatch(match string) (playwright.Frame, error) {
	for _, f := range c.page.Frames() {
		if f == c.page.MainFrame() {
			continue
		}
		if strings.Contains(f.URL(), match) || strings.Contains(f.Name(), match) {
			return f, nil
		}
	}
	return nil, fmt.Errorf("no frame matching %q", match)
}

func (c *controller) FrameFill(ctx context.Context, frameMatch, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := c.frameByMatch(frameMatch)
	if err != nil {
		return err
	}
	loc := frame.Locator(selector).First()
	if err := loc.WaitFor(playwright.LocatorWaitForOptions{State: playwright.WaitForSelectorStateVisible}); err != nil {
		return wrap(err)
	}
	return wrap(loc.Fill(value))
}

func (c *controller) FrameClick(ctx context.Context, frameMatch, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := c.frameByMatch(frameMatch)
	if err != nil {
		return err
	}
	loc := frame.Locator(selector).First()
	if err := loc.WaitFor(playwright.LocatorWaitForOptions{State: playwright.WaitForSelectorStateVisible}); err != nil {
		return wrap(err)
	}
	return wrap(loc.Click())
}

func (c *controller) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := c.page.Screenshot(playwright.PageScreenshotOptions{})
	if err != nil {
		return nil, wrap(err)
	}
	return data, nil
}

func (c *controller) Eval(ctx context.Context, script string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, err := c.page.Evaluate(script, arg)
	if err != nil {
		return nil, wrap(err)
	}
	return val, nil
}

func parseBoolEnv(name string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
