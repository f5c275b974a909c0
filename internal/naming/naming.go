// Package naming validates and normalizes item names and namespaces.
package naming

import (
	"fmt"
	"strings"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ansuz/internal/apperr"
)

// SubitemSep separates an item name from its subitem names:
// "Home/Notes" is a subitem of "Home".
const SubitemSep = "/"

func noControlChars(value interface{}) error {
	s, _ := value.(string)
	for _, r := range s {
		if unicode.IsControl(r) {
			return fmt.Errorf("contains control character")
		}
	}
	return nil
}

func noTraversal(value interface{}) error {
	s, _ := value.(string)
	for _, seg := range strings.Split(s, SubitemSep) {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("empty or relative path segment")
		}
		// "+" segments are reserved for URL verbs like +history.
		if strings.HasPrefix(seg, "+") {
			return fmt.Errorf("segment starts with reserved character '+'")
		}
	}
	return nil
}

func noEdgeSpace(value interface{}) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) != s {
		return fmt.Errorf("leading or trailing whitespace")
	}
	return nil
}

// ValidateName checks an item name. Violations surface as
// apperr.ErrValidation so callers and the API layer can classify them.
func ValidateName(name string) error {
	err := validation.Validate(name,
		validation.Required,
		validation.Length(1, 255),
		validation.By(noEdgeSpace),
		validation.By(noControlChars),
		validation.By(noTraversal),
	)
	if err != nil {
		return fmt.Errorf("%w: item name %q: %v", apperr.ErrValidation, name, err)
	}
	return nil
}

// ValidateContentType checks a declared content type ("type/subtype",
// optional parameters after ";").
func ValidateContentType(ct string) error {
	base := ct
	if i := strings.Index(base, ";"); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimSpace(base)
	parts := strings.Split(base, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%w: content type %q", apperr.ErrValidation, ct)
	}
	return nil
}

// IsSubitem reports whether name is a subitem of parent.
func IsSubitem(parent, name string) bool {
	return strings.HasPrefix(name, parent+SubitemSep)
}
