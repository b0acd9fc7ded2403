package query

import (
	"regexp"
	"strings"
)

// Type is the closed set of query classifications. Routing is a fixed table
// over this enum, so the dispatch surface stays enumerable and testable.
type Type string

const (
	TypeSemantic     Type = "semantic"
	TypeRelationship Type = "relationship"
	TypeProfile      Type = "profile"
	TypeTemporal     Type = "temporal"
	TypeFilter       Type = "filter"
	TypeHybrid       Type = "hybrid"
)

// Each rule contributes one point to its type when it matches. The highest
// scorer wins; a tie at the top, or no signal at all, falls back to hybrid,
// which targets both stores and therefore can only over-fetch, never miss.
var classifierRules = []struct {
	qtype    Type
	patterns []*regexp.Regexp
}{
	{TypeRelationship, compileAll(
		`\b(works? (with|at|for)|worked (with|at|for))\b`,
		`\b(knows?|married to|reports? to|manages?|friends? with|colleagues?)\b`,
		`\b(related to|connected to|relationship between)\b`,
		`\bbetween\s+\S+\s+and\b`,
	)},
	{TypeTemporal, compileAll(
		`\b(when|while|during)\b`,
		`\b(yesterday|today|last (week|month|year)|recently)\b`,
		`\b(\d+\s+(days?|weeks?|months?|years?)\s+ago)\b`,
		`\b(before|after|since|until)\b`,
		`\b(19|20)\d{2}\b`,
		`\b(history|timeline|changed? over time)\b`,
	)},
	{TypeProfile, compileAll(
		`\bwho is\b`,
		`\btell me (about|everything about)\b`,
		`\b(profile|summary|overview) (of|for)\b`,
		`\bwhat do (you|we) know about\b`,
	)},
	{TypeFilter, compileAll(
		`\b(all|every|each)\b.*\b(that|which|with|who)\b`,
		`\b(list|enumerate|show me all|count)\b`,
		`\bhow many\b`,
	)},
	{TypeSemantic, compileAll(
		`\b(feels?|felt|thinks?|thought|believes?|opinions?)\b`,
		`\b(likes?|loves?|hates?|prefers?|enjoys?|interested in)\b`,
		`\b(similar|like this|reminds?)\b`,
		`\b(mentioned|said|talked about|discussed)\b`,
	)},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// Classify scores the lexical signals in the query text.
func Classify(text string) Type {
	text = strings.ToLower(text)

	best := TypeHybrid
	bestScore := 0
	tied := false
	for _, rule := range classifierRules {
		score := 0
		for _, re := range rule.patterns {
			if re.MatchString(text) {
				score++
			}
		}
		switch {
		case score > bestScore:
			best, bestScore, tied = rule.qtype, score, false
		case score == bestScore && score > 0:
			tied = true
		}
	}

	if bestScore == 0 || tied {
		return TypeHybrid
	}
	return best
}
