package models

import "time"

// Expense represents a financial expense record owned by one identity.
type Expense struct {
	ID        string    `json:"_id"`
	UserID    string    `json:"userId"`
	Amount    float64   `json:"amount"`
	Tag       string    `json:"tag"`
	Date      time.Time `json:"date"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Provider identifies an OAuth identity provider.
type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderGoogle Provider = "google"
)

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	return p == ProviderGitHub || p == ProviderGoogle
}

// Identity is the provider-agnostic record of an authenticated user.
type Identity struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	Email    string   `json:"email,omitempty"`
	Provider Provider `json:"provider"`
}

// Valid reports whether the identity carries the fields every session needs.
func (i Identity) Valid() bool {
	return i.ID != "" && i.Provider.Valid()
}
