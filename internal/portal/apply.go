package portal

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"helferbot/pkg/models"
	"helferbot/pkg/utils"
)

// fetchListingsJS pulls the listings page over the page's own session
// without a full navigation. Cheaper and less detectable than reloading.
const fetchListingsJS = `async (url) => {
	const res = await fetch(url, { credentials: 'same-origin' });
	if (!res.ok) {
		throw new Error('listings fetch failed: ' + res.status);
	}
	return await res.text();
}`

// submitFormJS posts the accept form's fields directly, hidden tokens
// included, and reports the response status.
const submitFormJS = `async (action, body) => {
	const res = await fetch(action, {
		method: 'POST',
		credentials: 'same-origin',
		headers: { 'Content-Type': 'application/x-www-form-urlencoded' },
		body: body,
	});
	return res.status;
}`

var acceptControlSelectors = []string{
	`button[type="submit"]`,
	`input[type="submit"]`,
	"button.accept",
	`a[href*="annehmen"]`,
}

// ApplyByDetails locates the listing matching the job record and
// submits its accept form. Returns (true, nil) when the application is
// verified, (false, nil) when no matching listing exists (a terminal
// outcome for the caller), and an error for infrastructure failures
// that are worth retrying.
func (m *Manager) ApplyByDetails(ctx context.Context, rec *models.JobRecord) (bool, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return false, err
	}

	if err := m.EnsureAuthenticated(ctx); err != nil {
		return false, err
	}

	listings, err := m.loadListings(ctx)
	if err != nil {
		return false, err
	}

	listing, strategy := FindListing(listings, rec)
	if listing == nil {
		m.logger.Info("No matching listing on portal", map[string]interface{}{
			"job":      rec.String(),
			"listings": len(listings),
		})
		return false, nil
	}

	m.logger.Info("Matched listing", map[string]interface{}{
		"job":        rec.String(),
		"listing_id": listing.ID,
		"strategy":   strategy,
		"status":     listing.Status,
	})

	if err := m.submitAccept(ctx, listing); err != nil {
		return false, err
	}

	return m.verifyAccept(ctx, listing.ID)
}

// loadListings fetches and parses the listings page, preferring the
// in-page fetch and falling back to a full navigation when the fetch
// fails or yields a page without listing markup (some error pages come
// back with status 200).
func (m *Manager) loadListings(ctx context.Context) ([]Listing, error) {
	html, err := m.fetchListingsHTML(ctx)
	if err == nil {
		listings, perr := ParseListings(html)
		if perr == nil && len(listings) > 0 {
			return listings, nil
		}
	} else {
		m.logger.Debug("In-page listings fetch failed, reloading", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if err := m.navigate(ctx, m.listingsURL(), m.cfg.Portal.RequestTimeout); err != nil {
		return nil, err
	}
	html, err = m.pageHTML()
	if err != nil {
		return nil, err
	}
	return ParseListings(html)
}

func (m *Manager) fetchListingsHTML(ctx context.Context) (string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.Portal.RequestTimeout)
	defer cancel()

	var html string
	err := rod.Try(func() {
		res := m.page.Context(fetchCtx).MustEval(fetchListingsJS, m.listingsURL())
		html = res.Str()
	})
	if err != nil {
		return "", fmt.Errorf("in-page listings fetch failed: %w", err)
	}
	return html, nil
}

// submitAccept prefers posting the parsed form directly (carries the
// hidden CSRF token and is immune to layout changes around the button),
// then falls back to clicking the accept control in the page.
func (m *Manager) submitAccept(ctx context.Context, listing *Listing) error {
	if listing.FormAction != "" && len(listing.FormFields) > 0 {
		err := m.submitForm(ctx, listing)
		if err == nil {
			return nil
		}
		m.logger.Warn("Direct form submission failed, falling back to click", map[string]interface{}{
			"listing_id": listing.ID,
			"error":      err.Error(),
		})
	}

	return m.clickAccept(ctx, listing)
}

func (m *Manager) submitForm(ctx context.Context, listing *Listing) error {
	action := listing.FormAction
	if !strings.HasPrefix(action, "http") {
		action = strings.TrimSuffix(m.cfg.Portal.BaseURL, "/") + "/" + strings.TrimPrefix(action, "/")
	}

	submitCtx, cancel := context.WithTimeout(ctx, m.cfg.Portal.RequestTimeout)
	defer cancel()

	var status int
	err := rod.Try(func() {
		res := m.page.Context(submitCtx).MustEval(submitFormJS, action, listing.FormFields.Encode())
		status = res.Int()
	})
	if err != nil {
		return fmt.Errorf("form post failed: %w", err)
	}
	if status >= 400 {
		return utils.NewPortalError(fmt.Sprintf("accept form rejected with status %d", status))
	}

	m.logger.Info("Accept form submitted", map[string]interface{}{
		"listing_id": listing.ID,
		"action":     action,
		"status":     status,
	})
	return nil
}

// clickAccept drives the accept control on the live page. Requires a
// full navigation first; the in-page fetch does not render the DOM.
func (m *Manager) clickAccept(ctx context.Context, listing *Listing) error {
	if err := m.navigate(ctx, m.listingsURL(), m.cfg.Portal.RequestTimeout); err != nil {
		return err
	}

	container, err := m.findListingElement(listing)
	if err != nil {
		return utils.NewPortalError(err.Error())
	}

	for _, sel := range acceptControlSelectors {
		err := rod.Try(func() {
			container.MustElement(sel).MustClick()
			m.page.Timeout(m.cfg.Portal.RequestTimeout).MustWaitLoad()
		})
		if err == nil {
			m.logger.Info("Accept control clicked", map[string]interface{}{
				"listing_id": listing.ID,
				"selector":   sel,
			})
			return nil
		}
	}

	return utils.NewPortalError(fmt.Sprintf("no accept control found for listing %s", listing.ID))
}

// findListingElement re-locates a parsed listing in the live page. IDs
// come from data-job-id or id attributes when the markup carries them,
// otherwise from the listing's position, so the lookup mirrors all
// three sources.
func (m *Manager) findListingElement(listing *Listing) (*rod.Element, error) {
	attrSelectors := []string{
		fmt.Sprintf(`[data-job-id=%q]`, listing.ID),
		fmt.Sprintf(`[id=%q]`, listing.ID),
	}
	for _, sel := range attrSelectors {
		var el *rod.Element
		err := rod.Try(func() {
			el = m.page.Timeout(2 * time.Second).MustElement(sel)
		})
		if err == nil && el != nil {
			return el, nil
		}
	}

	if idx, ok := positionalIndex(listing.ID); ok {
		// Same first-matching-selector-wins walk as ParseListings, so
		// the position maps onto the same container list.
		for _, sel := range listingSelectors {
			var els rod.Elements
			if rod.Try(func() { els = m.page.MustElements(sel) }) != nil {
				continue
			}
			if len(els) == 0 {
				continue
			}
			if idx < len(els) {
				return els[idx], nil
			}
			break
		}
	}

	return nil, fmt.Errorf("listing %s not found on page", listing.ID)
}

// positionalIndex recovers the container position from a fallback ID
// assigned by parseListing.
func positionalIndex(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, "listing-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// verifyAccept re-reads the listings page and checks for evidence that
// the accept went through. On an inconclusive first read it reloads the
// page once; the portal applies accepts asynchronously and a fast
// re-fetch can race the update.
func (m *Manager) verifyAccept(ctx context.Context, listingID string) (bool, error) {
	listings, err := m.loadListings(ctx)
	if err != nil {
		return false, err
	}
	if ok, reason := VerifyAccepted(listings, listingID); ok {
		m.logger.Info("Application verified", map[string]interface{}{
			"listing_id": listingID,
			"evidence":   reason,
		})
		return true, nil
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(2 * time.Second):
	}

	if err := m.navigate(ctx, m.listingsURL(), m.cfg.Portal.RequestTimeout); err != nil {
		return false, err
	}
	html, err := m.pageHTML()
	if err != nil {
		return false, err
	}
	listings, err = ParseListings(html)
	if err != nil {
		return false, err
	}

	ok, reason := VerifyAccepted(listings, listingID)
	if ok {
		m.logger.Info("Application verified after reload", map[string]interface{}{
			"listing_id": listingID,
			"evidence":   reason,
		})
		return true, nil
	}

	// Inconclusive even after the reload. Report not-applied rather
	// than an error: an error would make the caller retry the whole
	// apply and re-post the accept form for a job that may already be
	// ours.
	m.logger.Warn("Accept could not be verified, treating as not applied", map[string]interface{}{
		"listing_id": listingID,
	})
	return false, nil
}
