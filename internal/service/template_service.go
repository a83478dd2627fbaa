// internal/service/template_service.go
package service

import (
	"strings"

	"github.com/unclebandit/campaign-mailer/internal/model"
)

// DefaultName replaces {name} when a recipient has no display name.
const DefaultName = "there"

func RenderTemplate(template string, data map[string]string) string {
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{"+k+"}", v)
	}
	// A single pass so that substituted values are never re-expanded.
	return strings.NewReplacer(pairs...).Replace(template)
}

// RenderForRecipient fills {name} and {email} for one recipient row.
func RenderForRecipient(template string, r *model.Recipient) string {
	name := DefaultName
	if r.DisplayName != nil && strings.TrimSpace(*r.DisplayName) != "" {
		name = *r.DisplayName
	}
	return RenderTemplate(template, map[string]string{
		"name":  name,
		"email": r.Email,
	})
}
