package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"helferbot/pkg/utils"
)

// Field and control selectors for the login form, in preference order.
// The portal has changed its markup before, so each lookup walks the
// list until one matches.
var (
	usernameSelectors = []string{
		`input[name="username"]`,
		`input[name="email"]`,
		`input[type="email"]`,
		`input[name="login"]`,
	}
	passwordSelectors = []string{
		`input[name="password"]`,
		`input[type="password"]`,
	}
	submitSelectors = []string{
		`button[type="submit"]`,
		`input[type="submit"]`,
		`form button`,
	}
	loggedInSelectors = []string{
		`a[href*="logout"]`,
		`a[href*="abmelden"]`,
		`.user-menu`,
	}
)

// EnsureAuthenticated makes sure the page holds a logged-in session,
// logging in at most once per call. Safe to call before every portal
// operation; when the restored session is still valid it only costs a
// navigation.
func (m *Manager) EnsureAuthenticated(ctx context.Context) error {
	if err := m.navigate(ctx, m.listingsURL(), m.cfg.Portal.RequestTimeout); err != nil {
		return err
	}

	if m.isAuthenticated() {
		if !m.authed {
			m.logger.Info("Portal session restored from snapshot")
			m.authed = true
		}
		return nil
	}

	m.authed = false
	m.logger.Info("Portal session invalid, logging in", map[string]interface{}{
		"login_url": m.loginURL(),
	})

	// One bounded retry; transient load failures on the login page are
	// common right after the portal's nightly maintenance window.
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		if lastErr = m.login(ctx); lastErr == nil {
			m.authed = true
			if err := m.saveCookies(); err != nil {
				m.logger.Warn("Failed to persist session snapshot", map[string]interface{}{
					"error": err.Error(),
				})
			}
			return nil
		}
		m.logger.Warn("Login attempt failed", map[string]interface{}{
			"attempt": attempt,
			"error":   lastErr.Error(),
		})
	}

	return utils.NewAuthError(fmt.Sprintf("portal login failed: %v", lastErr))
}

// isAuthenticated inspects the current page. A redirect back to the
// login path or a visible password field means the session is gone.
func (m *Manager) isAuthenticated() bool {
	url := m.pageURL()
	if url == "" {
		return false
	}
	if strings.Contains(url, m.cfg.Portal.LoginPath) {
		return false
	}

	hasPassword := rod.Try(func() {
		m.page.Timeout(2 * time.Second).MustElement(`input[type="password"]`)
	}) == nil

	return !hasPassword
}

// login navigates to the login form, fills the credentials and waits
// for the post-login page.
func (m *Manager) login(ctx context.Context) error {
	if err := m.navigate(ctx, m.loginURL(), m.cfg.Portal.RequestTimeout); err != nil {
		return err
	}

	userField, err := m.findElement(usernameSelectors)
	if err != nil {
		return fmt.Errorf("username field not found: %w", err)
	}
	passField, err := m.findElement(passwordSelectors)
	if err != nil {
		return fmt.Errorf("password field not found: %w", err)
	}

	err = rod.Try(func() {
		userField.MustSelectAllText().MustInput(m.cfg.Portal.Username)
		passField.MustSelectAllText().MustInput(m.cfg.Portal.Password)
	})
	if err != nil {
		return fmt.Errorf("failed to fill login form: %w", err)
	}

	submit, err := m.findElement(submitSelectors)
	if err != nil {
		return fmt.Errorf("submit control not found: %w", err)
	}
	if err := rod.Try(func() { submit.MustClick() }); err != nil {
		return fmt.Errorf("failed to submit login form: %w", err)
	}

	return m.waitForLogin(ctx)
}

// waitForLogin polls until the page has left the login path or shows a
// logged-in marker, bounded by the request timeout.
func (m *Manager) waitForLogin(ctx context.Context) error {
	deadline := time.Now().Add(m.cfg.Portal.RequestTimeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}

		url := m.pageURL()
		if url != "" && !strings.Contains(url, m.cfg.Portal.LoginPath) {
			return nil
		}
		for _, sel := range loggedInSelectors {
			if m.elementExists(sel) {
				return nil
			}
		}
	}

	return fmt.Errorf("login did not complete within %s", m.cfg.Portal.RequestTimeout)
}

// findElement returns the first element matching any of the selectors.
func (m *Manager) findElement(selectors []string) (*rod.Element, error) {
	for _, sel := range selectors {
		var el *rod.Element
		err := rod.Try(func() {
			el = m.page.Timeout(2 * time.Second).MustElement(sel)
		})
		if err == nil && el != nil {
			return el, nil
		}
	}
	return nil, fmt.Errorf("no element matched %v", selectors)
}

func (m *Manager) elementExists(selector string) bool {
	return rod.Try(func() {
		m.page.Timeout(1 * time.Second).MustElement(selector)
	}) == nil
}

// saveCookies writes the browser's cookie jar to the configured file so
// the next process start can reuse the session.
func (m *Manager) saveCookies() error {
	cookies, err := m.browser.GetCookies()
	if err != nil {
		return fmt.Errorf("failed to read cookies: %w", err)
	}

	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}

	if err := os.WriteFile(m.cfg.Portal.CookieFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write cookie file: %w", err)
	}

	m.logger.Debug("Session snapshot saved", map[string]interface{}{
		"file":    m.cfg.Portal.CookieFile,
		"cookies": len(cookies),
	})
	return nil
}

// restoreCookies loads a previously saved cookie jar into the browser.
// A missing file is not an error; a corrupt one is reported and the
// session starts cold.
func (m *Manager) restoreCookies() error {
	data, err := os.ReadFile(m.cfg.Portal.CookieFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cookie file: %w", err)
	}

	var cookies []*proto.NetworkCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return fmt.Errorf("failed to decode cookie file: %w", err)
	}

	if err := m.browser.SetCookies(proto.CookiesToParams(cookies)); err != nil {
		return fmt.Errorf("failed to install cookies: %w", err)
	}

	m.logger.Info("Session snapshot restored", map[string]interface{}{
		"file":    m.cfg.Portal.CookieFile,
		"cookies": len(cookies),
	})
	return nil
}

func (m *Manager) listingsURL() string {
	return strings.TrimSuffix(m.cfg.Portal.BaseURL, "/") + m.cfg.Portal.ListingsPath
}

func (m *Manager) loginURL() string {
	return strings.TrimSuffix(m.cfg.Portal.BaseURL, "/") + m.cfg.Portal.LoginPath
}
