// Package naming derives file names for downloaded episodes: series titles
// are stripped of characters that are unsafe on common filesystems and episode
// numbers are zero-padded so files sort naturally.
package naming

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"epifetch/internal/task"
)

// seriesNameLimit caps sanitized series titles, in bytes.
const seriesNameLimit = 160

var (
	colonSpacedRe   = regexp.MustCompile(`([\p{L}0-9]): +([\p{L}0-9])`)
	colonTightRe    = regexp.MustCompile(`([\p{L}0-9]):([\p{L}0-9])`)
	questionMarksRe = regexp.MustCompile(`([\p{L}0-9])\?+ +([\p{L}0-9])`)
	slashBoundedRe  = regexp.MustCompile(`\b([\p{L}0-9])/+([\p{L}0-9])\b`)
	slashTightRe    = regexp.MustCompile(`([\p{L}0-9])/+([\p{L}0-9])`)
	multiSpaceRe    = regexp.MustCompile(` {2,}`)
)

// SeriesFileName sanitizes a series title for use as a file name component.
// Returns "" if nothing usable remains.
func SeriesFileName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		if unicode.IsSpace(r) {
			return ' '
		}
		return r
	}, name)

	cleaned = strings.ReplaceAll(cleaned, `"`, "")

	cleaned = colonSpacedRe.ReplaceAllString(cleaned, "${1} - ${2}")
	cleaned = colonTightRe.ReplaceAllString(cleaned, "${1} ${2}")
	cleaned = strings.ReplaceAll(cleaned, ":", "")

	cleaned = questionMarksRe.ReplaceAllString(cleaned, "${1} - ${2}")
	cleaned = strings.ReplaceAll(cleaned, "?", "")

	cleaned = slashBoundedRe.ReplaceAllString(cleaned, "${1}${2}")
	cleaned = slashTightRe.ReplaceAllString(cleaned, "${1} ${2}")
	cleaned = strings.ReplaceAll(cleaned, "/", "")

	cleaned = strings.Map(func(r rune) rune {
		switch r {
		case '\\', '*', '<', '>', '|':
			return -1
		}
		return r
	}, cleaned)

	cleaned = multiSpaceRe.ReplaceAllString(cleaned, " ")
	cleaned = strings.Trim(cleaned, " .")

	return truncateRunes(cleaned, seriesNameLimit)
}

// truncateRunes cuts s to at most limit bytes without splitting a rune.
func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	total := 0
	for i, r := range s {
		total += len(string(r))
		if total > limit {
			return s[:i]
		}
	}

	return s
}

// EpisodeFileName builds the base file name (no extension) for one episode,
// e.g. "Series - S01E05 - GerDub". The series name must already be sanitized
// and may be empty. The language suffix is omitted when fully unspecified.
func EpisodeFileName(seriesName string, language task.VideoType, info task.EpisodeInfo, includeTitle bool) string {
	var b strings.Builder

	if seriesName != "" {
		b.WriteString(seriesName)
		b.WriteString(" - ")
	}

	if info.SeasonNumber > 0 {
		fmt.Fprintf(&b, "S%02d", info.SeasonNumber)
	}

	b.WriteByte('E')
	b.WriteString(FormatEpisodeNumber(info.EpisodeNumber, EpisodeNumberWidth(info.MaxEpisodeNumberInSeason)))

	if !language.IsUnspecified() {
		b.WriteString(" - ")
		b.WriteString(language.String())
	}

	if includeTitle && info.Name != "" {
		b.WriteString(" - ")
		b.WriteString(info.Name)
	}

	return b.String()
}

// EpisodeNumberWidth returns the zero-padding width for a season whose
// largest known episode number is maxNumber. Widths below 2 render "E5" and
// "E15" inconsistently, so 2 is the floor; 0 (unknown max) also yields 2.
func EpisodeNumberWidth(maxNumber int) int {
	width := 0
	for n := maxNumber; n > 0; n /= 10 {
		width++
	}

	if width < 2 {
		width = 2
	}

	return width
}

// FormatEpisodeNumber renders an episode number zero-padded to width.
// Fractional text numbers such as "15.5" pad the integer part only; text that
// is not digits around a single '.' or ',' is passed through untouched.
func FormatEpisodeNumber(number task.EpisodeNumber, width int) string {
	if number.Text == "" {
		return fmt.Sprintf("%0*d", width, number.Number)
	}

	trimmed := strings.TrimSpace(number.Text)

	if idx := strings.IndexAny(trimmed, ".,"); idx > 0 {
		pre, post := trimmed[:idx], trimmed[idx+1:]
		if allDigits(pre) && allDigits(post) {
			if pad := width - len(pre); pad > 0 {
				pre = strings.Repeat("0", pad) + pre
			}
			return pre + string(trimmed[idx]) + post
		}
	}

	return trimmed
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}
