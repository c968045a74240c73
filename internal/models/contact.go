package models

import "time"

// LinkPrecedence is the role of a contact within its cluster.
type LinkPrecedence string

const (
	LinkPrecedencePrimary   LinkPrecedence = "primary"
	LinkPrecedenceSecondary LinkPrecedence = "secondary"
)

// Contact represents a customer contact in the database
type Contact struct {
	ID             int64          `json:"id"`
	PhoneNumber    *string        `json:"phoneNumber,omitempty"`
	Email          *string        `json:"email,omitempty"`
	LinkedID       *int64         `json:"linkedId,omitempty"`
	LinkPrecedence LinkPrecedence `json:"linkPrecedence"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	DeletedAt      *time.Time     `json:"deletedAt,omitempty"`
}

// IsPrimary reports whether the contact heads its cluster.
func (c *Contact) IsPrimary() bool {
	return c.LinkPrecedence == LinkPrecedencePrimary
}

// RootID is the id of the primary this contact belongs to.
func (c *Contact) RootID() int64 {
	if c.IsPrimary() || c.LinkedID == nil {
		return c.ID
	}
	return *c.LinkedID
}

// Before orders contacts by seniority: creation time, then id.
func (c *Contact) Before(other *Contact) bool {
	if c.CreatedAt.Equal(other.CreatedAt) {
		return c.ID < other.ID
	}
	return c.CreatedAt.Before(other.CreatedAt)
}
