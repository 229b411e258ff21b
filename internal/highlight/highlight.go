package highlight

import (
	"regexp"
	"strings"
	"unicode"
)

var ansiCSI = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)

type Result struct {
	Text      string
	Count     int
	LineIndex []int
}

// Contains reports a case-insensitive substring match. The query is used as
// given, spaces included. An empty query matches everything.
func Contains(s, query string) bool {
	q := []rune(query)
	if len(q) == 0 {
		return true
	}
	return indexFold([]rune(s), q, 0) >= 0
}

// Plain wraps every case-insensitive occurrence of query in s. It is meant
// for short unstyled text such as session names.
func Plain(s, query string, wrap func(string) string) (string, int) {
	if wrap == nil {
		wrap = func(s string) string { return s }
	}
	return applyToPlain(s, query, wrap)
}

// ApplyANSI highlights matches in styled multi-line text without touching
// escape sequences. Matches never span a sequence.
func ApplyANSI(input, query string, wrap func(string) string) Result {
	if query == "" {
		return Result{Text: input}
	}
	if wrap == nil {
		wrap = func(s string) string { return s }
	}

	var out strings.Builder
	var lineMatches []int
	total := 0
	for lineNo, line := range strings.SplitAfter(input, "\n") {
		core, nl := strings.CutSuffix(line, "\n")
		rendered, count := applyToANSIText(core, query, wrap)
		out.WriteString(rendered)
		if nl {
			out.WriteByte('\n')
		}
		if count > 0 {
			lineMatches = append(lineMatches, lineNo)
			total += count
		}
	}
	return Result{Text: out.String(), Count: total, LineIndex: lineMatches}
}

func applyToANSIText(s, query string, wrap func(string) string) (string, int) {
	indices := ansiCSI.FindAllStringIndex(s, -1)
	if len(indices) == 0 {
		return applyToPlain(s, query, wrap)
	}

	var out strings.Builder
	total := 0
	pos := 0
	for _, idx := range indices {
		if idx[0] > pos {
			plain, count := applyToPlain(s[pos:idx[0]], query, wrap)
			out.WriteString(plain)
			total += count
		}
		out.WriteString(s[idx[0]:idx[1]])
		pos = idx[1]
	}
	if pos < len(s) {
		plain, count := applyToPlain(s[pos:], query, wrap)
		out.WriteString(plain)
		total += count
	}
	return out.String(), total
}

// applyToPlain works on runes so that case folding never shifts a match
// off its byte boundaries.
func applyToPlain(s, query string, wrap func(string) string) (string, int) {
	if s == "" || query == "" {
		return s, 0
	}
	text := []rune(s)
	q := []rune(query)

	var out strings.Builder
	count := 0
	start := 0
	for {
		idx := indexFold(text, q, start)
		if idx < 0 {
			out.WriteString(string(text[start:]))
			break
		}
		out.WriteString(string(text[start:idx]))
		out.WriteString(wrap(string(text[idx : idx+len(q)])))
		count++
		start = idx + len(q)
	}
	return out.String(), count
}

func indexFold(text, q []rune, from int) int {
	for i := from; i+len(q) <= len(text); i++ {
		match := true
		for j, r := range q {
			if unicode.ToLower(text[i+j]) != unicode.ToLower(r) {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
