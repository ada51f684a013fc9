package markdown

import (
	"regexp"
	"strings"
)

// DescriptionLabel introduces a generated description below an image embed.
const DescriptionLabel = "Image description: "

// splicedRegex matches an image embed together with a description block a
// previous Splice may already have inserted after it.
var splicedRegex = regexp.MustCompile(markerRegex.String() + `(\n\n\*` + regexp.QuoteMeta(DescriptionLabel) + `(?:[^*\n\\]|\\.)*\*)?`)

// Splice inserts, after the n-th image embed of text, a description block for
// descriptions[ImageKey(n)] when that description is non-empty. Embeds without
// a description are left exactly as they are. A block inserted by an earlier
// call is replaced rather than duplicated, so splicing is idempotent.
func Splice(text string, descriptions map[string]string) string {
	if len(descriptions) == 0 {
		return text
	}
	n := 0
	return splicedRegex.ReplaceAllStringFunc(text, func(match string) string {
		n++
		desc := strings.TrimSpace(descriptions[ImageKey(n)])
		if desc == "" {
			return match
		}
		marker := markerRegex.FindString(match)
		return marker + DescriptionBlock(desc)
	})
}

// DescriptionBlock renders the block appended after an embed.
func DescriptionBlock(desc string) string {
	return "\n\n*" + DescriptionLabel + EscapeDescription(desc) + "*"
}

var descriptionEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `[`, `\[`, `]`, `\]`)

// EscapeDescription flattens desc onto one line and escapes the characters that
// would terminate the emphasis block early or be read as escapes. Brackets are
// escaped so a description never contains an embed of its own.
func EscapeDescription(desc string) string {
	flat := strings.Join(strings.Fields(desc), " ")
	return descriptionEscaper.Replace(flat)
}
