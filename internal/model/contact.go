// internal/model/contact.go
package model

import "strings"

type Contact struct {
	Email     string            `db:"email" json:"email"`
	FirstName string            `db:"first_name" json:"first_name"`
	LastName  string            `db:"last_name" json:"last_name"`
	Company   string            `db:"company" json:"company"`
	Title     string            `db:"title" json:"title"`
	Fields    map[string]string `db:"-" json:"fields,omitempty"`
}

// Tokens returns the personalization values keyed by token name.
func (c *Contact) Tokens() map[string]string {
	tokens := map[string]string{}
	if c == nil {
		return tokens
	}
	for k, v := range c.Fields {
		tokens[strings.ToLower(k)] = v
	}
	tokens["email"] = c.Email
	tokens["first_name"] = c.FirstName
	tokens["last_name"] = c.LastName
	tokens["company"] = c.Company
	tokens["title"] = c.Title
	return tokens
}

// NormalizeAddress lower-cases and trims an email address for comparisons.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
