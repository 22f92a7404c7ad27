// Package fuzzy scores how well a search term matches mail fields, tolerating typos.
package fuzzy

import (
	"strings"
)

// Field weights. A hit in the subject outranks the sender, which outranks the body.
const (
	subjectWeight = 1.0
	senderWeight  = 0.8
	bodyWeight    = 0.5
)

// Distance is the Levenshtein edit distance between two strings, compared case-insensitively.
func Distance(s1, s2 string) int {
	r1 := []rune(normalize(s1))
	r2 := []rune(normalize(s2))
	if len(r1) == 0 {
		return len(r2)
	}
	if len(r2) == 0 {
		return len(r1)
	}

	prev := make([]int, len(r2)+1)
	cur := make([]int, len(r2)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(r1); i++ {
		cur[0] = i
		for j := 1; j <= len(r2); j++ {
			cost := 1
			if r1[i-1] == r2[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(r2)]
}

// Tolerance is the number of edits allowed for a term of this length.
func Tolerance(term string) int {
	n := len([]rune(term))
	switch {
	case n <= 3:
		return 0
	case n >= 8:
		return 2
	default:
		return 1
	}
}

// FieldScore rates term against text in [0, 1]: 1 for a whole-word hit, 0.9 for a substring,
// less for word prefixes and near-misses within Tolerance.
func FieldScore(term, text string) float64 {
	term = normalize(term)
	text = normalize(text)
	if term == "" || text == "" {
		return 0
	}

	words := strings.Fields(text)
	for _, w := range words {
		if w == term {
			return 1
		}
	}
	if strings.Contains(text, term) {
		return 0.9
	}

	best := 0.0
	tol := Tolerance(term)
	for _, w := range words {
		if strings.HasPrefix(w, term) {
			best = max(best, 0.7)
			continue
		}
		if tol == 0 {
			continue
		}
		if d := Distance(term, w); d <= tol {
			best = max(best, 0.6-0.2*float64(d-1))
		}
	}
	return best
}

// Score combines field scores of a mail into [0, 1]. Only the first 500 runes of body are scanned.
func Score(term, subject, sender, body string) float64 {
	if r := []rune(body); len(r) > 500 {
		body = string(r[:500])
	}
	s := max(
		subjectWeight*FieldScore(term, subject),
		senderWeight*FieldScore(term, sender),
		bodyWeight*FieldScore(term, body),
	)
	return s
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
