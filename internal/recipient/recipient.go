// Package recipient reads the ordered recipient list of a campaign.
package recipient

import (
	"regexp"
	"strings"
)

// emailPattern is the syntactic address check applied before a send.
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Recipient is one row of the input set. Column names are lower-cased.
type Recipient struct {
	Email string
	Extra map[string]string
}

// New builds a Recipient from a column mapping. The email key is moved into
// the Email field and every other column is kept in Extra.
func New(fields map[string]string) Recipient {
	r := Recipient{Extra: make(map[string]string, len(fields))}
	for k, v := range fields {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "email" {
			r.Email = strings.TrimSpace(v)
			continue
		}
		r.Extra[k] = v
	}
	return r
}

// Get returns the value of a column by its lower-cased name.
func (r Recipient) Get(key string) (string, bool) {
	key = strings.ToLower(key)
	if key == "email" {
		return r.Email, true
	}
	v, ok := r.Extra[key]
	return v, ok
}

// Fields returns the full column mapping including email.
func (r Recipient) Fields() map[string]string {
	m := make(map[string]string, len(r.Extra)+1)
	for k, v := range r.Extra {
		m[k] = v
	}
	m["email"] = r.Email
	return m
}

// Emails returns the address of every recipient in order.
func Emails(list []Recipient) []string {
	out := make([]string, 0, len(list))
	for _, r := range list {
		out = append(out, r.Email)
	}
	return out
}

// ValidateEmail reports whether addr is a syntactically valid address.
func ValidateEmail(addr string) bool {
	return emailPattern.MatchString(strings.TrimSpace(addr))
}
