// Package phone extracts Russian mobile phone numbers from chat transcripts
// and normalizes them to a single canonical international form.
package phone

import (
	"regexp"
	"sort"
	"strings"

	"github.com/p2p-trade-sync/internal/types"
)

// sep matches the separators people put between digit groups.
const sep = `[\s\-()]*`

// Ordered patterns for the written forms a Russian mobile number shows up in:
// leading +7, leading 8, or the bare 10-digit local form (mobile numbers
// start with 9). Patterns run independently; overlapping matches are allowed
// and collapse through the result set. Suppressing overlaps would change the
// extraction results for data already stored by earlier runs.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`\+7` + sep + `(\d{3})` + sep + `(\d{3})` + sep + `(\d{2})` + sep + `(\d{2})`),
	regexp.MustCompile(`8` + sep + `(\d{3})` + sep + `(\d{3})` + sep + `(\d{2})` + sep + `(\d{2})`),
	regexp.MustCompile(`(9\d{2})` + sep + `(\d{3})` + sep + `(\d{2})` + sep + `(\d{2})`),
}

// Extract scans the plain-text messages of a chat transcript and returns the
// deduplicated set of phone numbers found, in sorted order.
func Extract(messages []types.ChatMessage) []string {
	seen := make(map[string]struct{})
	for i := range messages {
		if !messages[i].IsText() {
			continue
		}
		for _, number := range FromText(messages[i].Message) {
			seen[number] = struct{}{}
		}
	}

	numbers := make([]string, 0, len(seen))
	for number := range seen {
		numbers = append(numbers, number)
	}
	sort.Strings(numbers)
	return numbers
}

// FromText extracts normalized phone numbers from a single text.
func FromText(text string) []string {
	seen := make(map[string]struct{})
	for _, pattern := range patterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			if number, ok := normalize(match[1:]); ok {
				seen[number] = struct{}{}
			}
		}
	}

	numbers := make([]string, 0, len(seen))
	for number := range seen {
		numbers = append(numbers, number)
	}
	sort.Strings(numbers)
	return numbers
}

// normalize concatenates captured digit groups and forces the "+7" prefix
// regardless of how the number was written. The result is accepted only when
// it is exactly 12 characters: "+" followed by 11 digits.
func normalize(groups []string) (string, bool) {
	var digits strings.Builder
	for _, group := range groups {
		for _, r := range group {
			if r >= '0' && r <= '9' {
				digits.WriteRune(r)
			}
		}
	}

	number := "+7" + digits.String()
	if len(number) != 12 {
		return "", false
	}
	return number, true
}
