package portal

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/danpilch/mrtbot/internal/config"
)

// RodBrowser drives one Chrome page through go-rod.
type RodBrowser struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	timeout  time.Duration
}

// LaunchRod starts (or, with BrowserBin set, uses the given) Chrome and opens a blank page.
func LaunchRod(cfg config.PortalConfig) (*RodBrowser, error) {
	l := launcher.New().Headless(cfg.Headless)
	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launching chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connecting to chrome: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, fmt.Errorf("opening page: %w", err)
	}

	timeout := cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &RodBrowser{
		launcher: l,
		browser:  browser,
		page:     page,
		timeout:  timeout,
	}, nil
}

func (r *RodBrowser) scoped(ctx context.Context) *rod.Page {
	return r.page.Context(ctx).Timeout(r.timeout)
}

func (r *RodBrowser) find(ctx context.Context, selector string) (*rod.Element, error) {
	has, el, err := r.scoped(ctx).Has(selector)
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", selector, err)
	}
	if !has {
		return nil, fmt.Errorf("%s: %w", selector, ErrElementNotFound)
	}
	return el, nil
}

func (r *RodBrowser) Navigate(ctx context.Context, url string) error {
	p := r.scoped(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("waiting for %s to load: %w", url, err)
	}
	return nil
}

// Screenshot waits for the element since it is usually called right after a navigation.
func (r *RodBrowser) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	el, err := r.scoped(ctx).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", selector, ErrElementNotFound, err)
	}
	img, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("capturing %s: %w", selector, err)
	}
	return img, nil
}

func (r *RodBrowser) Input(ctx context.Context, selector, text string) error {
	el, err := r.find(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("clearing %s: %w", selector, err)
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("typing into %s: %w", selector, err)
	}
	return nil
}

func (r *RodBrowser) Click(ctx context.Context, selector string) error {
	el, err := r.find(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("clicking %s: %w", selector, err)
	}
	return nil
}

func (r *RodBrowser) Has(ctx context.Context, selector string) (bool, error) {
	has, _, err := r.scoped(ctx).Has(selector)
	if err != nil {
		return false, fmt.Errorf("looking up %s: %w", selector, err)
	}
	return has, nil
}

func (r *RodBrowser) Options(ctx context.Context, selector string) ([]string, error) {
	el, err := r.find(ctx, selector)
	if err != nil {
		return nil, err
	}
	options, err := el.Elements("option")
	if err != nil {
		return nil, fmt.Errorf("listing options of %s: %w", selector, err)
	}

	labels := make([]string, 0, len(options))
	for _, o := range options {
		text, err := o.Text()
		if err != nil {
			return nil, fmt.Errorf("reading option text: %w", err)
		}
		labels = append(labels, text)
	}
	return labels, nil
}

func (r *RodBrowser) Select(ctx context.Context, selector, label string) error {
	el, err := r.find(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.Select([]string{label}, true, rod.SelectorTypeText); err != nil {
		return fmt.Errorf("selecting %q in %s: %w", label, selector, err)
	}
	return nil
}

func (r *RodBrowser) HTML(ctx context.Context) (string, error) {
	html, err := r.scoped(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("reading page html: %w", err)
	}
	return html, nil
}

// Close shuts Chrome down and removes its profile directory.
func (r *RodBrowser) Close() error {
	err := r.browser.Close()
	if err != nil {
		r.launcher.Kill()
	}
	r.launcher.Cleanup()
	return err
}
