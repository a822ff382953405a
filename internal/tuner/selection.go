package tuner

import (
	"strings"
	"unicode"

	"github.com/webtuner/webtuner/internal/catalog"
)

// GuideEntry is one guide row as snapshotted from the page, in document
// order. Name is the element's accessible name.
type GuideEntry struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// commonNetworkWords are display-name first words too generic to match on.
var commonNetworkWords = map[string]bool{
	"the": true, "fox": true, "nbc": true, "cbs": true, "abc": true,
	"cnn": true, "hbo": true, "tbs": true, "tnt": true, "usa": true,
	"amc": true, "bet": true,
}

// selectGuideEntry picks the guide entry for a channel. Strategies run in
// strict priority order; within a priority the first matching entry in
// document order wins.
//
//  1. Each match term as a caseless substring of the accessible name.
//  2. The channel number on word boundaries: zero-padded form first, the
//     raw form only when it has 3+ digits (small raw numbers match digits
//     embedded in unrelated names, e.g. " 5 " inside "SHOWTIME 2"'s grid
//     row).
//  3. The display name as a suffix or whole word.
//  4. The display name's first word, if 3+ chars and not a common network
//     word.
func selectGuideEntry(entries []GuideEntry, ch *catalog.Channel) (int, bool) {
	for _, term := range ch.MatchTerms() {
		for _, e := range entries {
			if catalog.FoldContains(e.Name, term) {
				return e.Index, true
			}
		}
	}

	if padded := ch.PaddedNumber(); padded != "" {
		for _, e := range entries {
			if containsWord(e.Name, padded) {
				return e.Index, true
			}
		}
	}
	if raw := ch.RawNumber(); len(raw) >= 3 {
		for _, e := range entries {
			if containsWord(e.Name, raw) {
				return e.Index, true
			}
		}
	}

	if name := strings.TrimSpace(ch.DisplayName); name != "" {
		folded := catalog.FoldString(name)
		for _, e := range entries {
			entry := catalog.FoldString(e.Name)
			if strings.HasSuffix(entry, folded) || containsWord(e.Name, name) {
				return e.Index, true
			}
		}

		first := strings.Fields(name)[0]
		if len(first) >= 3 && !commonNetworkWords[strings.ToLower(first)] {
			for _, e := range entries {
				if containsWord(e.Name, first) {
					return e.Index, true
				}
			}
		}
	}

	return 0, false
}

// containsWord reports whether token occurs in s bounded by non-alphanumeric
// runes (or the string edges), compared under case folding.
func containsWord(s, token string) bool {
	if token == "" {
		return false
	}
	hay := catalog.FoldString(s)
	needle := catalog.FoldString(token)

	for start := 0; ; {
		i := strings.Index(hay[start:], needle)
		if i < 0 {
			return false
		}
		i += start
		if boundaryBefore(hay, i) && boundaryAfter(hay, i+len(needle)) {
			return true
		}
		start = i + 1
		if start >= len(hay) {
			return false
		}
	}
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r := rune(s[i-1])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r := rune(s[i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
