// Package prompt builds the instruction sent to the text-generation service
// and extracts the rewrite from its answer.
//
//	out := prompt.Outbound(stored, "hi i is shivam")
//	text, err := enhancer.Enhance(ctx, out)
//	field := prompt.Parse(text)
package prompt

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Placeholder is replaced by the captured text when present in a stored instruction.
const Placeholder = "{text}"

// Default is used when no instruction is stored.
const Default = "Fix any grammatical errors and improve this text to be more professional, but keep it concise and only give option one: "

// Suffix is appended to every outbound instruction.
const Suffix = "\n\nConstraints: Respond with exactly one final rewrite/translation only. Do not include multiple options, bullets, quotes, examples, or explanations. Do not repeat or include the original/source text. Output only the final rewritten/translated sentence."

// Build combines a stored instruction with the captured source text.
//
//   - stored contains {text}: every occurrence is replaced, nothing is appended.
//   - stored is non-empty: "<stored>\n\nSource text:\n<captured>" (stored alone when captured is empty).
//   - stored is empty: the default grammar instruction followed by captured.
func Build(stored, captured string) string {
	stored = strings.TrimSpace(stored)
	switch {
	case strings.Contains(stored, Placeholder):
		return strings.ReplaceAll(stored, Placeholder, captured)
	case stored != "":
		if captured == "" {
			return stored
		}
		return stored + "\n\nSource text:\n" + captured
	default:
		return Default + captured
	}
}

// Outbound is Build followed by the output-discipline Suffix.
func Outbound(stored, captured string) string {
	return Build(stored, captured) + Suffix
}

var optionOne = regexp.MustCompile(`(?i)Option 1:\s*(.*)`)

var strict = bluemonday.StrictPolicy()

// Parse extracts the rewrite from a raw model answer: the text following an
// "Option 1:" marker when present, else the whole answer, trimmed and with
// any markup removed.
func Parse(raw string) string {
	if strings.ContainsRune(raw, '<') {
		raw = html.UnescapeString(strict.Sanitize(raw))
	}
	if m := optionOne.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}
