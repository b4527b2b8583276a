// Package live runs the injection runtime against a real Chrome page driven
// over CDP by go-rod. It backs headless snapshot capture and live previews.
package live

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// BrowserConfig selects the Chrome to drive.
type BrowserConfig struct {
	// RemoteURL is a DevTools websocket URL. Empty launches a local Chrome.
	RemoteURL string
	Headful   bool
	// NavTimeout bounds navigation and load. Default 30s.
	NavTimeout time.Duration
	Logger     *slog.Logger
}

// Browser is a connected Chrome.
type Browser struct {
	b      *rod.Browser
	lnch   *launcher.Launcher
	cfg    BrowserConfig
	logger *slog.Logger
}

// Launch connects to cfg.RemoteURL or starts a local Chrome.
func Launch(cfg BrowserConfig) (*Browser, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}

	wsURL := cfg.RemoteURL
	var l *launcher.Launcher
	if wsURL == "" {
		l = launcher.New().Headless(!cfg.Headful).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("live: launch: %w", err)
		}
		wsURL = u
		cfg.Logger.Info("live: launched local chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("live: connect: %w", err)
	}
	return &Browser{b: b, lnch: l, cfg: cfg, logger: cfg.Logger}, nil
}

// Open creates a stealth tab and loads pageURL.
func (br *Browser) Open(ctx context.Context, pageURL string) (*rod.Page, error) {
	page, err := stealth.Page(br.b)
	if err != nil {
		return nil, fmt.Errorf("live: create tab: %w", err)
	}
	navCtx, cancel := context.WithTimeout(ctx, br.cfg.NavTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("live: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		br.logger.Warn("live: wait load timeout", "url", pageURL, "error", err)
	}
	return page, nil
}

// Close disconnects and kills a locally launched Chrome.
func (br *Browser) Close() error {
	err := br.b.Close()
	if br.lnch != nil {
		br.lnch.Kill()
	}
	return err
}
