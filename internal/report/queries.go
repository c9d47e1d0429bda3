package report

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ayush/research-ai-agent/reportgen/internal/partialjson"
	"github.com/ayush/research-ai-agent/reportgen/internal/search"
)

// minQueryRunes is the shortest line the fallback parser accepts as a query.
const minQueryRunes = 4

// listMarker matches leading bullets and enumerations: "-", "*", "•", "1.",
// "2)", "(3)", "4:" and "5、".
var listMarker = regexp.MustCompile(`^\s*(?:[-*•]+\s+|\(\d+\)\s*|\d+[.)、:]\s*)`)

// quotedSep splits `"a", "b"` runs left over from JSON the parser rejected.
var quotedSep = regexp.MustCompile(`"\s*,\s*"`)

// ExtractQueries pulls search queries out of a completed model response. A
// JSON array of strings is preferred, then an object with a "queries" array,
// then an array of {"query": ...} objects, then one query per line. The result never has more than search.MaxQueries
// entries and may be empty.
func ExtractQueries(text string) []string {
	if res := partialjson.Extract[[]string](text); res.OK() {
		return search.NormalizeQueries(res.Value)
	}
	if res := partialjson.Extract[queryObject](text); res.OK() && len(res.Value.Queries) > 0 {
		return search.NormalizeQueries(res.Value.Queries)
	}
	if res := partialjson.Extract[[]queryItem](text); res.OK() {
		qs := make([]string, 0, len(res.Value))
		for _, it := range res.Value {
			qs = append(qs, it.Query)
		}
		if out := search.NormalizeQueries(qs); len(out) > 0 {
			return out
		}
	}
	return lineQueries(partialjson.StripFence(text))
}

type queryObject struct {
	Queries []string `json:"queries"`
}

type queryItem struct {
	Query string `json:"query"`
}

func lineQueries(text string) []string {
	out := make([]string, 0, search.MaxQueries)
	for _, line := range strings.Split(text, "\n") {
		line = listMarker.ReplaceAllString(line, "")
		for _, q := range quotedSep.Split(line, -1) {
			q = strings.Trim(q, " \t\r\"'`[],")
			// object fragments are never queries
			if strings.HasPrefix(q, "{") || strings.HasSuffix(q, "}") || utf8.RuneCountInString(q) < minQueryRunes {
				continue
			}
			out = append(out, q)
			if len(out) == search.MaxQueries {
				return out
			}
		}
	}
	return out
}
