package mailing

import (
	"regexp"
	"strings"
)

// mergeTag matches {{tag_name}} placeholders.
var mergeTag = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Personalize substitutes merge tags with per-recipient values. Built-in
// tags are first_name, last_name, email and full_name; unknown tags resolve
// to the empty string so an unfilled placeholder never reaches a mailbox.
//
// This is deliberate plain-text substitution. Structural rewriting of HTML
// (click tracking) lives in the tracking package and uses a real parser;
// placeholder substitution needs no structural guarantees and stays cheap.
func Personalize(content string, r *Recipient) string {
	if content == "" || r == nil {
		return content
	}

	values := map[string]string{
		"first_name": r.FirstName,
		"last_name":  r.LastName,
		"email":      r.Email,
		"full_name":  strings.TrimSpace(r.FirstName + " " + r.LastName),
	}

	return mergeTag.ReplaceAllStringFunc(content, func(match string) string {
		tag := mergeTag.FindStringSubmatch(match)[1]
		return values[tag]
	})
}
