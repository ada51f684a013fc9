// Package markdown finds image embeds in converted documents, groups them by
// heading-delimited section and splices generated descriptions back in.
package markdown

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// markerRegex matches an image embed: ![alt](target).
	markerRegex = regexp.MustCompile(`!\[(.*?)\]\((.*?)\)`)
	// headingRegex matches the start of a heading line.
	headingRegex = regexp.MustCompile(`(?m)^#+ `)
)

// Marker is one image embed found in a piece of text. Start and End are byte
// offsets into the text that was scanned.
type Marker struct {
	Raw    string
	Alt    string
	Target string
	Start  int
	End    int
}

// Section is a heading-delimited span of a document. Start and End are byte
// offsets into the document; Markers are positioned relative to Text.
type Section struct {
	Index   int
	Start   int
	End     int
	Text    string
	Markers []Marker
}

// HasImages reports whether the section contains at least one embed.
func (s Section) HasImages() bool {
	return len(s.Markers) > 0
}

// ImageKey is the key the vision model uses for the n-th (1 based) image of a section.
func ImageKey(n int) string {
	return fmt.Sprintf("image%d", n)
}

// Placeholder is the token substituted for the n-th image in the context text.
func Placeholder(n int) string {
	return "[" + ImageKey(n) + "]"
}

// ScanMarkers returns every image embed in text, in document order.
func ScanMarkers(text string) []Marker {
	locs := markerRegex.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}
	markers := make([]Marker, 0, len(locs))
	for _, loc := range locs {
		markers = append(markers, Marker{
			Raw:    text[loc[0]:loc[1]],
			Alt:    text[loc[2]:loc[3]],
			Target: text[loc[4]:loc[5]],
			Start:  loc[0],
			End:    loc[1],
		})
	}
	return markers
}

// SplitSections partitions doc into sections. Text before the first heading is
// its own section; each heading starts a new one that runs to the next heading
// or the end of the document. A document without headings is one section.
// The sections always cover doc exactly, so concatenating their Text yields doc.
func SplitSections(doc string) []Section {
	var bounds []int
	for _, loc := range headingRegex.FindAllStringIndex(doc, -1) {
		bounds = append(bounds, loc[0])
	}
	if len(bounds) == 0 || bounds[0] != 0 {
		bounds = append([]int{0}, bounds...)
	}
	bounds = append(bounds, len(doc))

	sections := make([]Section, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		start, end := bounds[i], bounds[i+1]
		text := doc[start:end]
		sections = append(sections, Section{
			Index:   len(sections),
			Start:   start,
			End:     end,
			Text:    text,
			Markers: ScanMarkers(text),
		})
	}
	return sections
}

// WithPlaceholders returns text with the n-th image embed replaced by [imageN].
func WithPlaceholders(text string) string {
	n := 0
	return markerRegex.ReplaceAllStringFunc(text, func(string) string {
		n++
		return Placeholder(n)
	})
}

// Rebuild reassembles a document from its sections, substituting the text of
// any section present in replaced.
func Rebuild(sections []Section, replaced map[int]string) string {
	var sb strings.Builder
	for _, s := range sections {
		if text, ok := replaced[s.Index]; ok {
			sb.WriteString(text)
			continue
		}
		sb.WriteString(s.Text)
	}
	return sb.String()
}
