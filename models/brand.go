package models

import "time"

// Brand is a registered source website.
type Brand struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Website   string    `json:"website"`
	BaseURL   string    `json:"base_url,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ResolveBase returns the URL used to resolve relative links for the brand.
func (b Brand) ResolveBase() string {
	if b.BaseURL != "" {
		return b.BaseURL
	}
	return b.Website
}
