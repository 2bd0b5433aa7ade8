// Package portal drives the target website through a headless browser:
// authenticating, locating the listing that matches a job record and
// submitting its accept form. The site's markup and timing are not
// under our control, so every lookup runs through ordered fallback
// strategies and every outcome is verified through several heuristics.
package portal

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"golang.org/x/time/rate"

	"helferbot/internal/config"
	"helferbot/internal/logging"
)

// Manager owns the single browser instance and its page. The page is a
// single-writer resource: the orchestrator serializes all access, so
// Manager performs no locking around page operations itself.
type Manager struct {
	cfg      *config.Config
	launcher *launcher.Launcher
	logger   logging.Logger
	limiter  *rate.Limiter

	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
	authed  bool
}

// NewManager creates a portal manager. Call Start before use.
func NewManager(cfg *config.Config) *Manager {
	logger := logging.GetGlobalLogger()

	l := launcher.New().
		Headless(cfg.Portal.HeadlessMode).
		NoSandbox(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-web-security").
		Set("disable-background-timer-throttling").
		Set("disable-backgrounding-occluded-windows").
		Set("disable-renderer-backgrounding").
		// Required for navigation inside containers
		Set("disable-gpu").
		Set("disable-dev-shm-usage")

	if chromePath := systemChromePath(); chromePath != "" {
		l = l.Bin(chromePath)
		logger.Info("Using system Chrome browser", map[string]interface{}{
			"chrome_path": chromePath,
		})
	} else {
		logger.Warn("System Chrome not found, Rod will download browser")
	}

	if cfg.Portal.UserAgent != "" {
		l = l.Set("user-agent", cfg.Portal.UserAgent)
	}

	// Portal requests per minute, burst of one
	limit := rate.Every(time.Minute / time.Duration(max(cfg.Portal.RateLimit, 1)))

	return &Manager{
		cfg:      cfg,
		launcher: l,
		logger:   logger,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Start launches the browser, creates the stealth page and restores a
// persisted session snapshot if one exists.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	url, err := m.launcher.Launch()
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}
	m.browser = browser

	if err := m.restoreCookies(); err != nil {
		m.logger.Warn("Failed to restore session snapshot", map[string]interface{}{
			"error": err.Error(),
		})
	}

	page, err := m.createStealthPage()
	if err != nil {
		browser.MustClose()
		m.browser = nil
		return fmt.Errorf("failed to create stealth page: %w", err)
	}
	m.page = page

	m.logger.Info("Portal browser started")
	return nil
}

// createStealthPage creates the page with stealth mode and a desktop
// viewport, mirroring a regular user's browser fingerprint.
func (m *Manager) createStealthPage() (*rod.Page, error) {
	page, err := stealth.Page(m.browser)
	if err != nil {
		return nil, fmt.Errorf("failed to create stealth page: %w", err)
	}

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             1920,
		Height:            1080,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		m.logger.Warn("Failed to set viewport", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if m.cfg.Portal.UserAgent != "" {
		err = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent: m.cfg.Portal.UserAgent,
		})
		if err != nil {
			m.logger.Warn("Failed to set user agent", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	return page, nil
}

// Ready reports whether the browser is up and responsive.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser == nil {
		return false
	}
	return rod.Try(func() { m.browser.MustPages() }) == nil
}

// Cleanup closes the page and browser.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.page != nil {
		_ = rod.Try(func() { m.page.MustClose() })
		m.page = nil
	}
	if m.browser != nil {
		_ = rod.Try(func() { m.browser.MustClose() })
		m.browser = nil
	}
	m.launcher.Cleanup()
	m.logger.Info("Portal browser cleanup completed")
}

// navigate drives the page to the given URL with a bounded timeout.
func (m *Manager) navigate(ctx context.Context, url string, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := rod.Try(func() {
		m.page.Context(navCtx).MustNavigate(url).MustWaitLoad()
	})
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}

	m.logger.Debug("Navigated", map[string]interface{}{"url": url})
	return nil
}

// pageHTML returns the full HTML content of the current page.
func (m *Manager) pageHTML() (string, error) {
	html, err := m.page.HTML()
	if err != nil {
		return "", fmt.Errorf("failed to get page HTML: %w", err)
	}
	return html, nil
}

// pageURL returns the current page URL, empty on failure.
func (m *Manager) pageURL() string {
	info, err := m.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// systemChromePath finds a system-installed Chrome/Chromium browser.
func systemChromePath() string {
	if chromeBin := os.Getenv("CHROME_BIN"); chromeBin != "" {
		if _, err := os.Stat(chromeBin); err == nil {
			return chromeBin
		}
	}

	commonPaths := []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
		"/usr/bin/google-chrome-stable",
		"/opt/google/chrome/chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}

	for _, path := range commonPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
