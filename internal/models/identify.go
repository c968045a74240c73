package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// IdentifyRequest represents the incoming request body
type IdentifyRequest struct {
	Email       *string      `json:"email"`
	PhoneNumber *PhoneNumber `json:"phoneNumber"`
}

// Normalized returns the email and phone with empty values collapsed to nil.
func (r IdentifyRequest) Normalized() (email, phone *string) {
	if r.Email != nil && *r.Email != "" {
		e := *r.Email
		email = &e
	}
	if r.PhoneNumber != nil && *r.PhoneNumber != "" {
		p := string(*r.PhoneNumber)
		phone = &p
	}
	return email, phone
}

// PhoneNumber accepts either a JSON string or a JSON number and always holds text.
type PhoneNumber string

func (p *PhoneNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("phoneNumber: empty value")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("phoneNumber: %w", err)
		}
		*p = PhoneNumber(s)
		return nil
	case 'n':
		// null leaves the pointer unset; reached only for non-pointer targets
		*p = ""
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("phoneNumber must be a string or a number")
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return fmt.Errorf("phoneNumber: %w", err)
	}
	*p = PhoneNumber(formatNumber(f))
	return nil
}

// formatNumber renders f the way JavaScript's String(number) does, so 1e3
// and 1000 are the same phone number.
func formatNumber(f float64) string {
	if f == 0 {
		return "0"
	}
	if abs := math.Abs(f); abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mantissa, exp, _ := strings.Cut(s, "e")
	sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
	return mantissa + "e" + sign + digits
}

// ContactResponse represents the contact data in the response
type ContactResponse struct {
	PrimaryContactID    int64    `json:"primaryContatctId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

// IdentifyResponse represents the response body
type IdentifyResponse struct {
	Contact ContactResponse `json:"contact"`
}

// NewContactResponse consolidates a cluster into its response view. Secondaries
// must already be in creation order; values are deduplicated by first sighting
// with the primary's values leading.
func NewContactResponse(primary *Contact, secondaries []*Contact) ContactResponse {
	resp := ContactResponse{
		PrimaryContactID:    primary.ID,
		Emails:              []string{},
		PhoneNumbers:        []string{},
		SecondaryContactIDs: make([]int64, 0, len(secondaries)),
	}

	seenEmails := make(map[string]struct{})
	seenPhones := make(map[string]struct{})
	add := func(c *Contact) {
		if c.Email != nil && *c.Email != "" {
			if _, ok := seenEmails[*c.Email]; !ok {
				seenEmails[*c.Email] = struct{}{}
				resp.Emails = append(resp.Emails, *c.Email)
			}
		}
		if c.PhoneNumber != nil && *c.PhoneNumber != "" {
			if _, ok := seenPhones[*c.PhoneNumber]; !ok {
				seenPhones[*c.PhoneNumber] = struct{}{}
				resp.PhoneNumbers = append(resp.PhoneNumbers, *c.PhoneNumber)
			}
		}
	}

	add(primary)
	for _, c := range secondaries {
		add(c)
		resp.SecondaryContactIDs = append(resp.SecondaryContactIDs, c.ID)
	}
	return resp
}
