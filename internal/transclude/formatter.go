package transclude

import (
	"fmt"
	"strings"
)

// FormatKind tags how a content type is embedded when transcluded.
type FormatKind int

const (
	// FormatInline splices the target's text into the host content and
	// expands nested transclusions.
	FormatInline FormatKind = iota
	// FormatLink renders a placeholder line instead of raw bytes; used
	// for binary content that cannot be spliced into text.
	FormatLink
)

// ContentTypeFormatter is the tagged variant selecting the embedding
// strategy for a declared content type.
type ContentTypeFormatter struct {
	Kind        FormatKind
	ContentType string
}

// FormatterFor maps a declared content type to its formatter. Anything
// not explicitly textual falls through to the link formatter; there is
// no silent default to inline.
func FormatterFor(contentType string) ContentTypeFormatter {
	base := contentType
	if i := strings.Index(base, ";"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	switch {
	case strings.HasPrefix(base, "text/"):
		return ContentTypeFormatter{Kind: FormatInline, ContentType: base}
	default:
		return ContentTypeFormatter{Kind: FormatLink, ContentType: base}
	}
}

// Render produces the substitution text for a transcluded target.
// Inline rendering returns the raw text; callers expand nested
// transclusions themselves so cycle state stays with the caller.
func (f ContentTypeFormatter) Render(name string, content []byte) string {
	switch f.Kind {
	case FormatInline:
		return string(content)
	case FormatLink:
		return fmt.Sprintf("<<transcluded item: %s (%s, %d bytes)>>", name, f.ContentType, len(content))
	default:
		return fmt.Sprintf("<<transcluded item: %s>>", name)
	}
}
