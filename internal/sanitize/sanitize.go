// Package sanitize cleans user-supplied card descriptions.
package sanitize

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// HTML strips markup that is unsafe to render back to other board members.
// Formatting tags and safe links survive; scripts, event handlers and
// styles do not. A Policy is safe for concurrent use once built.
type HTML struct {
	policy *bluemonday.Policy
}

// NewHTML returns a sanitizer using the user-generated-content policy.
func NewHTML() *HTML {
	p := bluemonday.UGCPolicy()
	p.RequireNoFollowOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return &HTML{policy: p}
}

// NewStrict returns a sanitizer that removes all markup.
func NewStrict() *HTML {
	return &HTML{policy: bluemonday.StrictPolicy()}
}

// Sanitize implements board.Sanitizer.
func (h *HTML) Sanitize(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(h.policy.Sanitize(s))
}
