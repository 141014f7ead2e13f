package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	linkOnly   = regexp.MustCompile(`^!?\[[^\]]*\]\([^)]*\)$`)
	linkTarget = regexp.MustCompile(`\]\([^)]*\)|https?://\S+`)
)

// StripPromo removes promotional blocks from markdown text: short all-caps
// lines ("READ MORE", "SUBSCRIBE NOW") that sit next to a link, along with
// the link line itself when it carries nothing else.
func StripPromo(md string) string {
	lines := strings.Split(md, "\n")
	drop := make([]bool, len(lines))

	for i, line := range lines {
		if !isShout(line) {
			continue
		}
		prev, next := neighbor(lines, i, -1), neighbor(lines, i, 1)
		linked := hasLink(line)
		if prev >= 0 && hasLink(lines[prev]) {
			linked = true
		}
		if next >= 0 && hasLink(lines[next]) {
			linked = true
		}
		if !linked {
			continue
		}
		drop[i] = true
		for _, j := range []int{prev, next} {
			if j >= 0 && linkOnly.MatchString(strings.TrimSpace(stripMarkers(lines[j]))) {
				drop[j] = true
			}
		}
	}

	out := lines[:0]
	for i, line := range lines {
		if !drop[i] {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// neighbor returns the index of the nearest non-blank line in direction dir.
func neighbor(lines []string, i, dir int) int {
	for j := i + dir; j >= 0 && j < len(lines); j += dir {
		if strings.TrimSpace(lines[j]) != "" {
			return j
		}
	}
	return -1
}

func hasLink(line string) bool {
	return strings.Contains(line, "](") || strings.Contains(line, "http://") || strings.Contains(line, "https://")
}

// isShout reports whether line is a short run of upper-case words.
func isShout(line string) bool {
	s := strings.TrimSpace(linkTarget.ReplaceAllString(stripMarkers(line), "]"))
	if s == "" || utf8.RuneCountInString(s) > 60 || len(strings.Fields(s)) > 8 {
		return false
	}
	var upper int
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			upper++
		}
	}
	return upper >= 3
}

func stripMarkers(line string) string {
	return strings.TrimLeft(strings.TrimSpace(line), "#>*-_ ")
}
