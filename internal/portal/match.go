package portal

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"helferbot/pkg/models"
)

// Listing is one job offer extracted from the listings page.
type Listing struct {
	ID         string
	Status     string
	Location   string
	FormAction string
	FormFields url.Values
	HasCancel  bool
}

// listingSelectors address one listing container each, in preference
// order. The portal has shipped the listings page as a card grid, a
// plain list and a table at different times.
var listingSelectors = []string{
	"li.job-listing",
	"div.job-listing",
	"div.auftrag",
	"tr.job-row",
	"[data-job-id]",
}

var locationSelectors = []string{
	".job-location",
	".location",
	".details",
	"h3",
}

var cancelSelectors = []string{
	`a[href*="storno"]`,
	`a[href*="cancel"]`,
	"button.cancel",
	".storno",
}

// Statuses that mean the listing is still up for grabs. An empty status
// attribute counts as open; older page versions carried none.
var openStatuses = map[string]bool{
	"":      true,
	"new":   true,
	"neu":   true,
	"open":  true,
	"offen": true,
}

// Statuses that mean our application went through.
var claimedStatuses = map[string]bool{
	"pending":    true,
	"accepted":   true,
	"angenommen": true,
	"reserviert": true,
	"wartend":    true,
}

// ParseListings extracts all listings from the listings page HTML. It
// walks the container selectors in order and stops at the first one
// that matches anything, so a page that renders both old and new markup
// is not double-counted.
func ParseListings(html string) ([]Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listings page: %w", err)
	}

	var listings []Listing
	for _, selector := range listingSelectors {
		sel := doc.Find(selector)
		if sel.Length() == 0 {
			continue
		}
		sel.Each(func(i int, s *goquery.Selection) {
			listings = append(listings, parseListing(i, s))
		})
		break
	}

	return listings, nil
}

func parseListing(index int, s *goquery.Selection) Listing {
	l := Listing{
		Status:   strings.ToLower(strings.TrimSpace(s.AttrOr("data-status", ""))),
		Location: listingLocation(s),
	}

	l.ID = strings.TrimSpace(s.AttrOr("data-job-id", ""))
	if l.ID == "" {
		l.ID = strings.TrimSpace(s.AttrOr("id", ""))
	}
	if l.ID == "" {
		// Positional fallback so verification can still re-find it.
		l.ID = fmt.Sprintf("listing-%d", index)
	}

	if form := s.Find("form").First(); form.Length() > 0 {
		l.FormAction = strings.TrimSpace(form.AttrOr("action", ""))
		l.FormFields = formFields(form)
	}

	for _, sel := range cancelSelectors {
		if s.Find(sel).Length() > 0 {
			l.HasCancel = true
			break
		}
	}

	return l
}

// listingLocation returns the line carrying the "Am {date} um {time} in
// {zip} {city}" phrase, falling back to the listing's full text.
func listingLocation(s *goquery.Selection) string {
	for _, sel := range locationSelectors {
		if node := s.Find(sel).First(); node.Length() > 0 {
			if text := normalizeSpace(node.Text()); text != "" {
				return text
			}
		}
	}
	return normalizeSpace(s.Text())
}

// formFields collects every named input of the accept form, including
// hidden tokens, pre-filled for direct submission.
func formFields(form *goquery.Selection) url.Values {
	fields := url.Values{}
	form.Find("input").Each(func(_ int, input *goquery.Selection) {
		name := strings.TrimSpace(input.AttrOr("name", ""))
		if name == "" {
			return
		}
		fields.Set(name, input.AttrOr("value", ""))
	})
	return fields
}

// normalizeSpace collapses whitespace runs (including NBSP, which the
// portal uses between the date and time) into single spaces.
func normalizeSpace(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}

// MatchesJob reports whether a listing's location line carries the job
// record's date, time and zip in the portal's standard phrasing. The
// city is not required to follow; the subject line and the listing
// sometimes disagree on spelling.
func MatchesJob(l Listing, rec *models.JobRecord) bool {
	want := fmt.Sprintf("Am %s um %s in %s", rec.Date, rec.Time, rec.Zip)
	return strings.Contains(l.Location, want)
}

// matchStrategy is one way of choosing a listing for a job record.
type matchStrategy struct {
	name string
	pick func(listings []Listing, rec *models.JobRecord) *Listing
}

// matchStrategies in priority order: prefer listings the portal still
// flags as open, then fall back to any matching listing at all (status
// attributes have gone missing in past page revisions).
var matchStrategies = []matchStrategy{
	{
		name: "open-listing",
		pick: func(listings []Listing, rec *models.JobRecord) *Listing {
			for i := range listings {
				if openStatuses[listings[i].Status] && MatchesJob(listings[i], rec) {
					return &listings[i]
				}
			}
			return nil
		},
	},
	{
		name: "any-listing",
		pick: func(listings []Listing, rec *models.JobRecord) *Listing {
			for i := range listings {
				if MatchesJob(listings[i], rec) {
					return &listings[i]
				}
			}
			return nil
		},
	},
}

// FindListing runs the matching strategies in order and returns the
// first hit plus the strategy name, or nil when no listing matches.
func FindListing(listings []Listing, rec *models.JobRecord) (*Listing, string) {
	for _, strategy := range matchStrategies {
		if l := strategy.pick(listings, rec); l != nil {
			return l, strategy.name
		}
	}
	return nil, ""
}

// VerifyAccepted checks a fresh parse of the listings page for evidence
// that the accept of the given listing went through: the listing is
// gone, its status flipped to a claimed value, or a cancel control
// appeared on it. Returns the matched heuristic for logging.
func VerifyAccepted(listings []Listing, id string) (bool, string) {
	for i := range listings {
		if listings[i].ID != id {
			continue
		}
		if claimedStatuses[listings[i].Status] {
			return true, "status-claimed"
		}
		if listings[i].HasCancel {
			return true, "cancel-control"
		}
		return false, ""
	}
	return true, "listing-gone"
}
