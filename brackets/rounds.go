package brackets

// MatchDuration returns how long the poll for a match must stay open, in
// seconds. Early rounds run half an hour, later rounds progressively longer,
// the finale a full day.
func MatchDuration(index int) int {
	const hour = 3600
	switch {
	case index < 192:
		return hour / 2
	case index < 224:
		return hour
	case index < 240:
		return 2 * hour
	case index < 248:
		return 3 * hour
	case index < 252:
		return 6 * hour
	case index < 254:
		return 12 * hour
	default:
		return 24 * hour
	}
}

// RoundLabel names the round a match belongs to for announcements and the
// chat description. The thresholds are presentational and not the same as
// the duration tiers.
func RoundLabel(index int) string {
	switch {
	case index < 0 || index > FinalIndex:
		return "wait, that shouldn’t happen"
	case index < 128:
		return "round of 256"
	case index < 192:
		return "round of 128"
	case index < 224:
		return "round of 64"
	case index < 240:
		return "round of 32"
	case index < 248:
		return "round of 16"
	case index < 252:
		return "quarterfinals"
	case index < 254:
		return "semifinals"
	default:
		return "the FINALE"
	}
}
