package portal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionalIndex(t *testing.T) {
	tests := []struct {
		id   string
		idx  int
		ok   bool
		name string
	}{
		{id: "listing-0", idx: 0, ok: true, name: "first position"},
		{id: "listing-12", idx: 12, ok: true, name: "later position"},
		{id: "j-101", ok: false, name: "attribute id"},
		{id: "listing-", ok: false, name: "missing index"},
		{id: "listing-x", ok: false, name: "non-numeric index"},
		{id: "listing--1", ok: false, name: "negative index"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, ok := positionalIndex(tt.id)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.idx, idx)
			}
		})
	}
}

// Listings without data-job-id fall back to the id attribute and then
// to the container position, so the re-lookup in findListingElement has
// to handle all three ID shapes.
func TestParseListingsIDFallbacks(t *testing.T) {
	page := `
	<div class="job-listing" data-job-id="j-55">
		<span class="job-location">Am 23.08.2025 um 15:00 in 58452 Witten</span>
	</div>
	<div class="job-listing" id="auftrag-56">
		<span class="job-location">Am 24.08.2025 um 09:00 in 44135 Dortmund</span>
	</div>
	<div class="job-listing">
		<span class="job-location">Am 25.08.2025 um 10:30 in 45127 Essen</span>
	</div>`

	listings, err := ParseListings(page)
	require.NoError(t, err)
	require.Len(t, listings, 3)

	assert.Equal(t, "j-55", listings[0].ID)
	assert.Equal(t, "auftrag-56", listings[1].ID)
	assert.Equal(t, "listing-2", listings[2].ID)

	// The positional fallback ID round-trips to its container index.
	idx, ok := positionalIndex(listings[2].ID)
	require.True(t, ok)
	assert.Equal(t, 2, idx)

	_, ok = positionalIndex(listings[1].ID)
	assert.False(t, ok)
}
