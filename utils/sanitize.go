package utils

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Transaction reasons are caller-supplied free text that ends up rendered in
// activity feeds, so they get the strict policy: no markup survives.
var reasonPolicy = bluemonday.StrictPolicy()

// SanitizeReason strips any HTML from a transaction reason string.
func SanitizeReason(input string) string {
	return strings.TrimSpace(reasonPolicy.Sanitize(input))
}
