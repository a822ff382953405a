package tuner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webtuner/webtuner/internal/catalog"
)

func entries(names ...string) []GuideEntry {
	out := make([]GuideEntry, len(names))
	for i, n := range names {
		out[i] = GuideEntry{Index: i, Name: n}
	}
	return out
}

func TestSelectGuideEntryMatchTermsWinFirst(t *testing.T) {
	ch := &catalog.Channel{ID: "NBC-E", Number: "4", DisplayName: "NBC"}
	ch.SetMatchTerms([]string{"NBC (East)", "NBC HD"})

	got, ok := selectGuideEntry(entries(
		"ABC (East) 7:00 News",
		"NBC HD 7:00 The Voice",
		"NBC (East) 7:00 The Voice",
	), ch)
	require.True(t, ok)
	// First term wins even though the second term matches an earlier row.
	assert.Equal(t, 2, got)
}

func TestSelectGuideEntryMatchTermsCaseless(t *testing.T) {
	ch := &catalog.Channel{ID: "HBO-W", DisplayName: "HBO West"}
	ch.SetMatchTerms([]string{"hbo west"})

	got, ok := selectGuideEntry(entries("HBO WEST 8:00 Movie"), ch)
	require.True(t, ok)
	assert.Equal(t, 0, got)
}

func TestSelectGuideEntryPaddedNumber(t *testing.T) {
	ch := &catalog.Channel{ID: "KSTP", Number: "5", DisplayName: "KSTP"}

	got, ok := selectGuideEntry(entries(
		"205 Movies all day",
		"05 KSTP 6:30 News",
	), ch)
	require.True(t, ok)
	assert.Equal(t, 1, got)
}

func TestSelectGuideEntrySmallRawNumberNeverMatches(t *testing.T) {
	// "5" must not match the trailing digit context of another channel's
	// row; only the padded form counts for one- and two-digit numbers.
	ch := &catalog.Channel{ID: "CH5", Number: "5", DisplayName: "Unlisted"}

	_, ok := selectGuideEntry(entries(
		"SHOWTIME 2 5:00 Movie",
		"Channel 5 listings unavailable",
	), ch)
	// "Channel 5" would match the raw form on word boundaries, but the raw
	// form is disabled below three digits.
	assert.False(t, ok)
}

func TestSelectGuideEntryRawNumberThreeDigits(t *testing.T) {
	ch := &catalog.Channel{ID: "CH501", Number: "0501", DisplayName: "Unlisted"}

	got, ok := selectGuideEntry(entries("501 HBO 8:00 Movie"), ch)
	require.True(t, ok)
	assert.Equal(t, 0, got)
}

func TestSelectGuideEntryNumberNeedsWordBoundary(t *testing.T) {
	ch := &catalog.Channel{ID: "CH12", Number: "12", DisplayName: "Unlisted"}

	_, ok := selectGuideEntry(entries("512 Movies 9:00"), ch)
	assert.False(t, ok)

	got, ok := selectGuideEntry(entries("12 WKRP 9:00"), ch)
	require.True(t, ok)
	assert.Equal(t, 0, got)
}

func TestSelectGuideEntryDisplayNameSuffix(t *testing.T) {
	ch := &catalog.Channel{ID: "GSN", DisplayName: "Game Show Network"}

	got, ok := selectGuideEntry(entries("143 Game Show Network"), ch)
	require.True(t, ok)
	assert.Equal(t, 0, got)
}

func TestSelectGuideEntryFirstWordSkipsCommonNetworks(t *testing.T) {
	// "FOX" as a first word is too generic to match on.
	ch := &catalog.Channel{ID: "FOXSP", DisplayName: "FOX Sports Midwest"}

	_, ok := selectGuideEntry(entries("FOX News Channel 7:00"), ch)
	assert.False(t, ok)
}

func TestSelectGuideEntryFirstWordFallback(t *testing.T) {
	ch := &catalog.Channel{ID: "BRAVO", DisplayName: "Bravo East"}

	got, ok := selectGuideEntry(entries(
		"A&E 8:00 Storage Wars",
		"Bravo 8:00 Top Chef",
	), ch)
	require.True(t, ok)
	assert.Equal(t, 1, got)
}

func TestSelectGuideEntryShortFirstWordIgnored(t *testing.T) {
	ch := &catalog.Channel{ID: "ETV", DisplayName: "E! Entertainment"}

	_, ok := selectGuideEntry(entries("WE tv 8:00"), ch)
	assert.False(t, ok)
}

func TestSelectGuideEntryNoMatch(t *testing.T) {
	ch := &catalog.Channel{ID: "X", Number: "999", DisplayName: "Nowhere"}
	_, ok := selectGuideEntry(nil, ch)
	assert.False(t, ok)
}

func TestContainsWord(t *testing.T) {
	assert.True(t, containsWord("05 KSTP News", "05"))
	assert.True(t, containsWord("News 05", "05"))
	assert.True(t, containsWord("A-05-B", "05"))
	assert.False(t, containsWord("205 Movies", "05"))
	assert.False(t, containsWord("059", "05"))
	assert.True(t, containsWord("Bravo: Top Chef", "bravo"))
	assert.False(t, containsWord("", "05"))
	assert.False(t, containsWord("anything", ""))
}
