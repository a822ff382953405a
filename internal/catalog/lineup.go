package catalog

// StaticLineup returns the seeded national lineup. Match terms are ordered
// most specific first; the guide matcher tries them before falling back to
// numbers and display names.
func StaticLineup() []Channel {
	lineup := []struct {
		id     string
		number string
		name   string
		terms  []string
	}{
		{"NBC-E", "4", "NBC", []string{"NBC (East)", "NBC HD"}},
		{"CBS-E", "2", "CBS", []string{"CBS (East)", "CBS HD"}},
		{"ABC-E", "7", "ABC", []string{"ABC (East)", "ABC HD"}},
		{"FOX-E", "5", "FOX", []string{"FOX (East)", "FOX HD"}},
		{"CNN", "202", "CNN", []string{"CNN HD", "Cable News Network"}},
		{"FNC", "360", "Fox News Channel", []string{"Fox News Channel"}},
		{"ESPN", "206", "ESPN", []string{"ESPN HD"}},
		{"ESPN2", "209", "ESPN2", []string{"ESPN2 HD"}},
		{"HBO-E", "501", "HBO", []string{"HBO (East)", "HBO HD"}},
		{"SHOW-E", "545", "Showtime", []string{"SHOWTIME (East)", "Showtime HD"}},
		{"AMC", "254", "AMC", []string{"AMC HD"}},
		{"TNT", "245", "TNT", []string{"TNT HD"}},
		{"TBS", "247", "TBS", []string{"TBS HD"}},
		{"USA", "242", "USA Network", []string{"USA Network"}},
		{"BRAVO", "237", "Bravo", []string{"Bravo HD"}},
		{"FX", "248", "FX", []string{"FX HD", "FX Network"}},
		{"DISC", "278", "Discovery", []string{"Discovery Channel"}},
		{"NGC", "276", "National Geographic", []string{"National Geographic"}},
	}

	chans := make([]Channel, 0, len(lineup))
	for _, l := range lineup {
		ch := Channel{
			ID:          l.id,
			Number:      l.number,
			DisplayName: l.name,
			Source:      SourceStatic,
		}
		ch.SetMatchTerms(l.terms)
		chans = append(chans, ch)
	}
	return chans
}
