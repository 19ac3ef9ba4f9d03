package config

// DefaultCountryWeights returns the origin-country weights used when the
// config file does not override them. Unlisted countries weigh zero.
func DefaultCountryWeights() map[string]int {
	return map[string]int{
		"KR": 10,
		"CN": 9, "TW": 9, "HK": 9,
		"TH": 8,
		"TR": 7,
		"JP": 6,
		"IN": 4,
		"US": 2, "GB": 2, "CA": 2, "AU": 2, "FR": 2, "DE": 2,
		"ES": 2, "IT": 2, "BR": 2, "MX": 2,
		"PH": 1, "ID": 1, "VN": 1, "MY": 1,
	}
}

// DefaultTypeWeights returns the scoring-category weights.
func DefaultTypeWeights() map[string]int {
	return map[string]int{
		"drama": 10,
		"tv":    8,
		"movie": 6,
		"anime": 5,
	}
}

// DefaultDramaCountries returns the origins whose scripted TV is scored in
// the "drama" category rather than plain "tv".
func DefaultDramaCountries() []string {
	return []string{"KR", "CN", "TW", "HK", "TH", "TR", "JP", "PH", "ID", "VN", "MY", "SG"}
}

// DefaultRegions returns the discovery buckets, highest-priority first.
func DefaultRegions() []RegionConfig {
	return []RegionConfig{
		{Name: "KR", Countries: []string{"KR"}},
		{Name: "CN", Countries: []string{"CN", "TW", "HK"}},
		{Name: "TH", Countries: []string{"TH"}},
		{Name: "TR", Countries: []string{"TR"}},
		{Name: "JP", Countries: []string{"JP"}},
		{Name: "IN", Countries: []string{"IN"}},
		{Name: "WESTERN", Countries: []string{"US", "GB", "FR", "DE", "ES", "IT"}},
		{Name: "LATAM", Countries: []string{"BR", "MX", "AR", "CO"}},
		{Name: "SEA", Countries: []string{"PH", "ID", "VN", "MY", "SG"}},
	}
}
