package mailing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPersonalize(t *testing.T) {
	rec := &Recipient{
		Email:     "dana@example.com",
		FirstName: "Dana",
		LastName:  "Levi",
	}

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"first name", "Hello {{first_name}}!", "Hello Dana!"},
		{"full name", "Dear {{full_name}},", "Dear Dana Levi,"},
		{"email", "Sent to {{email}}", "Sent to dana@example.com"},
		{"whitespace in tag", "Hi {{ first_name }}", "Hi Dana"},
		{"unknown tag resolves empty", "Code: {{promo_code}}.", "Code: ."},
		{"multiple tags", "{{first_name}} {{last_name}}", "Dana Levi"},
		{"no tags", "plain content", "plain content"},
		{"empty content", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Personalize(tt.content, rec))
		})
	}
}

func TestPersonalizeNilRecipient(t *testing.T) {
	assert.Equal(t, "Hi {{first_name}}", Personalize("Hi {{first_name}}", nil))
}

func TestPersonalizeFullNameTrimsMissingParts(t *testing.T) {
	rec := &Recipient{Email: "x@example.com", FirstName: "Dana"}
	assert.Equal(t, "Dana", Personalize("{{full_name}}", rec))
}
