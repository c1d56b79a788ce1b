package teamname

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Package teamname holds the pure name rules shared by the team resolver,
// the promotion pipeline, and the periodic name repair job. Everything here
// is deterministic string work; persistence stays out.

const maxPrefixWords = 6

var (
	whitespaceRegex    = regexp.MustCompile(`\s+`)
	trailingParenRegex = regexp.MustCompile(`\s*\([^)]*\)$`)
	fullYearRegex      = regexp.MustCompile(`\b(20[0-1][0-9])\b`)
	shortYearRegex     = regexp.MustCompile(`(?i)\b(?:([bg])\s*-?(0[5-9]|1[0-9])|(0[5-9]|1[0-9])\s*-?([bg]))\b`)
	ageTokenRegex      = regexp.MustCompile(`(?i)\bu-?([0-9]{1,2})\b`)
	preNALRegex        = regexp.MustCompile(`(?i)\bpre-?nal\s*([0-9]{2})\b`)
	boysGirlsRegex     = regexp.MustCompile(`(?i)\b(boys|girls)\b`)
	genderDigitRegex   = regexp.MustCompile(`(?i)\b(?:([bg])\s*-?[0-9]{1,4}|[0-9]{1,4}\s*-?([bg]))\b`)
	bareGenderRegex    = regexp.MustCompile(`\b(M|F)\b`)
)

// Normalize lowers a raw source name into resolver form: lowercase, single
// internal spaces, no trailing parenthesized qualifier, no duplicated
// immediate prefix. It is idempotent.
func Normalize(name string) string {
	lowered := strings.ToLower(strings.TrimSpace(name))
	collapsed := whitespaceRegex.ReplaceAllString(lowered, " ")
	stripped := StripTrailingQualifier(collapsed)

	return FixDoublePrefix(stripped)
}

// StripTrailingQualifier removes trailing parenthesized qualifiers such as
// " (U11 Boys)". Parentheticals in the middle of a name are kept.
func StripTrailingQualifier(name string) string {
	out := strings.TrimSpace(name)
	for {
		next := strings.TrimSpace(trailingParenRegex.ReplaceAllString(out, ""))
		if next == out {
			return out
		}
		out = next
	}
}

// FixDoublePrefix removes a duplicated immediate word prefix, recursively,
// for prefixes up to six words: "Derby United Derby United 15B" becomes
// "Derby United 15B". Comparison is case-insensitive; the kept remainder
// preserves its original casing.
func FixDoublePrefix(name string) string {
	trimmed := strings.TrimSpace(name)
	words := strings.Fields(trimmed)
	if len(words) < 2 {
		return trimmed
	}

	limit := len(words) / 2
	if limit > maxPrefixWords {
		limit = maxPrefixWords
	}

	for size := limit; size >= 1; size-- {
		if !wordsEqualFold(words[:size], words[size:2*size]) {
			continue
		}

		return FixDoublePrefix(strings.Join(words[size:], " "))
	}

	return strings.Join(words, " ")
}

func wordsEqualFold(a, b []string) bool {
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}

	return true
}

// ExtractBirthYear parses a birth year out of a team name. Precedence: a
// full year token (2000-2019), then a short year next to a B/G gender
// marker, then an age-group token (U13, Pre-NAL 14) counted back from the
// season year. Returns false when the name carries no year evidence.
func ExtractBirthYear(name string, seasonYear int) (int, bool) {
	if match := fullYearRegex.FindStringSubmatch(name); match != nil {
		year, err := strconv.Atoi(match[1])
		if err == nil {
			return year, true
		}
	}

	if match := shortYearRegex.FindStringSubmatch(name); match != nil {
		digits := match[2]
		if digits == "" {
			digits = match[3]
		}
		short, err := strconv.Atoi(digits)
		if err == nil {
			return 2000 + short, true
		}
	}

	if age, ok := extractAge(name); ok {
		return seasonYear - age, true
	}

	return 0, false
}

// HasExplicitYear reports whether the name carries a direct year token
// (full or short form), as opposed to age-group evidence that only implies
// one relative to the season.
func HasExplicitYear(name string) bool {
	return fullYearRegex.MatchString(name) || shortYearRegex.MatchString(name)
}

func extractAge(name string) (int, bool) {
	match := ageTokenRegex.FindStringSubmatch(name)
	if match == nil {
		match = preNALRegex.FindStringSubmatch(name)
	}
	if match == nil {
		return 0, false
	}

	age, err := strconv.Atoi(match[1])
	if err != nil || age < 5 || age > 19 {
		return 0, false
	}

	return age, true
}

// ExtractAgeGroup derives a "U14" style age-group label, either from an
// explicit age token or counted forward from a parsed birth year.
func ExtractAgeGroup(name string, seasonYear int) (string, bool) {
	if age, ok := extractAge(name); ok {
		return "U" + strconv.Itoa(age), true
	}

	year, ok := ExtractBirthYear(name, seasonYear)
	if !ok {
		return "", false
	}

	age := seasonYear - year
	if age < 5 || age > 19 {
		return "", false
	}

	return "U" + strconv.Itoa(age), true
}

// ExtractGender reads a gender marker from a team name: boys/girls words,
// a B/G letter attached to digits, or a bare uppercase M/F token. Returns
// "M" or "F", or false when the name carries no marker.
func ExtractGender(name string) (string, bool) {
	if match := boysGirlsRegex.FindStringSubmatch(name); match != nil {
		if strings.EqualFold(match[1], "boys") {
			return "M", true
		}

		return "F", true
	}

	if match := genderDigitRegex.FindStringSubmatch(name); match != nil {
		letter := match[1]
		if letter == "" {
			letter = match[2]
		}
		if strings.EqualFold(letter, "b") {
			return "M", true
		}

		return "F", true
	}

	if match := bareGenderRegex.FindStringSubmatch(name); match != nil {
		return match[1], true
	}

	return "", false
}

// SeasonYear maps a wall-clock instant to the youth-soccer season year.
// Seasons roll over in August: August 2025 onward belongs to season 2026.
func SeasonYear(now time.Time) int {
	if now.Month() >= time.August {
		return now.Year() + 1
	}

	return now.Year()
}

// ParseScore reads "2-1" style score strings, tolerating spaces and a few
// separator variants. Missing or unplayed results ("", "TBD", "vs") return
// ok=false rather than an error.
func ParseScore(raw string) (home int, away int, ok bool) {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return 0, 0, false
	}

	var parts []string
	for _, sep := range []string{"-", ":", "–"} {
		if strings.Contains(cleaned, sep) {
			parts = strings.SplitN(cleaned, sep, 2)
			break
		}
	}
	if len(parts) != 2 {
		return 0, 0, false
	}

	home, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || home < 0 {
		return 0, 0, false
	}

	away, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || away < 0 {
		return 0, 0, false
	}

	return home, away, true
}

// FormatScore renders a score pair in the canonical "2-1" form.
func FormatScore(home, away int) string {
	return strconv.Itoa(home) + "-" + strconv.Itoa(away)
}
