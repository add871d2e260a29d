package storage

import (
	"regexp"
	"sort"
	"strings"

	"github.com/ogolikhin/procgraph/internal/process"
)

var (
	separatorRe = regexp.MustCompile(`[_\.\-\s]+`)
	camelRe     = regexp.MustCompile(`([a-z])([A-Z])`)
	letterNumRe = regexp.MustCompile(`([a-zA-Z])(\d)`)
	numLetterRe = regexp.MustCompile(`(\d)([a-zA-Z])`)
)

// tokenize splits text into lowercase search tokens.
// Handles camelCase, snake_case, dot notation and number boundaries.
func tokenize(text string) []string {
	tokens := make(map[string]bool)

	for _, part := range separatorRe.Split(text, -1) {
		if part == "" {
			continue
		}
		tokens[strings.ToLower(part)] = true

		// "UserTask" -> "User", "Task"
		for _, w := range strings.Fields(camelRe.ReplaceAllString(part, "$1 $2")) {
			tokens[strings.ToLower(w)] = true
		}

		// "Step2" -> "Step", "2"
		split := letterNumRe.ReplaceAllString(part, "$1 $2")
		split = numLetterRe.ReplaceAllString(split, "$1 $2")
		for _, w := range strings.Fields(split) {
			tokens[strings.ToLower(w)] = true
		}
	}

	result := make([]string, 0, len(tokens))
	for token := range tokens {
		result = append(result, token)
	}
	sort.Strings(result)
	return result
}

// score rates a process against the query tokens. A process name match
// weighs twice a shape name match.
func score(m *process.Model, query []string) float64 {
	name := make(map[string]bool)
	for _, t := range tokenize(m.Name) {
		name[t] = true
	}
	shapes := make(map[string]bool)
	for _, s := range m.Shapes {
		for _, t := range tokenize(s.Name) {
			shapes[t] = true
		}
	}

	var total float64
	for _, q := range query {
		switch {
		case name[q]:
			total += 2
		case shapes[q]:
			total++
		}
	}
	return total
}

// searchRecords ranks records against query. Records without a match are
// dropped; ties keep id order.
func searchRecords(records []*Record, query string, limit int) []Summary {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return []Summary{}
	}

	results := make([]Summary, 0)
	for _, r := range records {
		s := score(r.Model, tokens)
		if s == 0 {
			continue
		}
		sum := r.summary()
		sum.Score = s
		results = append(results, sum)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
