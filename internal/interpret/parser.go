// Package interpret turns a document into a structured interpretation: it
// owns the completion client, the prompt material and the total parser
// that converts the model's free-form reply into explanation, recommended
// actions and attention indicators.
package interpret

import (
	"regexp"
	"sort"
	"strings"

	"github.com/careloop/medvault/internal/domain/record"
)

// Section markers the completion prompt instructs the model to emit. Each
// section runs until the next marker or end of text, in any order.
const (
	MarkerExplanation = "📋"
	MarkerActions     = "✅"
	MarkerWarnings    = "⚠️"
)

// Fixed fallback content. ParseDegradation is silent: the caller always
// receives a complete interpretation, never an error.
const (
	fallbackExplanation = "Your document was processed, but a detailed interpretation could not be generated. Please review the original document together with a qualified healthcare professional."
	fallbackAction      = "Discuss these results with a qualified healthcare professional."
	fallbackWarning     = "This automated interpretation is not medical advice; always consult a qualified healthcare professional."
)

// enumPrefix strips leading enumeration tokens from list lines: digits,
// dashes, bullets, asterisks, periods, closing parens and the surrounding
// whitespace.
var enumPrefix = regexp.MustCompile(`^[\s\d.\-*•·)]+`)

// labelPrefix matches an optional short label and colon straight after the
// explanation marker ("Explanation:", "What this means:", ...).
var labelPrefix = regexp.MustCompile(`^\s*[^:\n]{0,40}:`)

// sectionLabel matches a list-section header line such as
// "Recommended actions:" so it is not mistaken for an item.
var sectionLabel = regexp.MustCompile(`^[^:]{0,40}:$`)

type section struct {
	marker string
	start  int // byte offset of the marker
	body   int // byte offset just past the marker
}

// Parse converts a raw model reply into an interpretation. It is a total
// function: any input, including empty or malformed text, yields a fully
// populated result.
func Parse(raw string) (out record.Interpretation) {
	defer func() {
		// A panic while splitting takes the single generic recovery path.
		if r := recover(); r != nil {
			out = genericFallback()
		}
	}()

	if strings.TrimSpace(raw) == "" {
		return genericFallback()
	}

	sections := findSections(raw)
	if len(sections) == 0 {
		// No markers at all: the whole reply is the explanation.
		return record.Interpretation{
			Explanation:         strings.TrimSpace(raw),
			RecommendedActions:  []string{fallbackAction},
			AttentionIndicators: []string{fallbackWarning},
		}
	}

	out = record.Interpretation{
		RecommendedActions:  []string{},
		AttentionIndicators: []string{},
	}

	for i, sec := range sections {
		end := len(raw)
		if i+1 < len(sections) {
			end = sections[i+1].start
		}
		body := raw[sec.body:end]

		switch sec.marker {
		case MarkerExplanation:
			out.Explanation = strings.TrimSpace(labelPrefix.ReplaceAllString(body, ""))
		case MarkerActions:
			out.RecommendedActions = splitItems(body)
		case MarkerWarnings:
			out.AttentionIndicators = splitItems(body)
		}
	}

	if out.Explanation == "" {
		out.Explanation = fallbackExplanation
	}
	return out
}

// findSections locates the first occurrence of each marker, ordered by
// position in the text.
func findSections(raw string) []section {
	var sections []section
	for _, marker := range []string{MarkerExplanation, MarkerActions, MarkerWarnings} {
		if idx := strings.Index(raw, marker); idx >= 0 {
			sections = append(sections, section{
				marker: marker,
				start:  idx,
				body:   idx + len(marker),
			})
		}
	}
	sort.Slice(sections, func(i, j int) bool {
		return sections[i].start < sections[j].start
	})
	return sections
}

// splitItems normalizes a list section: one item per line, enumeration
// tokens stripped, empty lines discarded. A bare header line directly
// after the marker is skipped.
func splitItems(body string) []string {
	items := []string{}
	first := true
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if first {
			first = false
			if sectionLabel.MatchString(trimmed) {
				continue
			}
		}
		trimmed = strings.TrimSpace(enumPrefix.ReplaceAllString(trimmed, ""))
		if trimmed == "" {
			continue
		}
		items = append(items, trimmed)
	}
	return items
}

func genericFallback() record.Interpretation {
	return record.Interpretation{
		Explanation:         fallbackExplanation,
		RecommendedActions:  []string{fallbackAction},
		AttentionIndicators: []string{fallbackWarning},
	}
}
