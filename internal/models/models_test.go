package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func str(v string) *string { return &v }

func TestIdentifyRequestDecoding(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantEmail *string
		wantPhone *string
		wantErr   bool
	}{
		{name: "strings", body: `{"email":"a@test.com","phoneNumber":"123456"}`, wantEmail: str("a@test.com"), wantPhone: str("123456")},
		{name: "numeric phone", body: `{"phoneNumber":123456}`, wantPhone: str("123456")},
		{name: "large numeric phone", body: `{"phoneNumber":919876543210}`, wantPhone: str("919876543210")},
		{name: "exponent phone", body: `{"phoneNumber":1e3}`, wantPhone: str("1000")},
		{name: "trailing zero phone", body: `{"phoneNumber":1.50}`, wantPhone: str("1.5")},
		{name: "negative phone", body: `{"phoneNumber":-42}`, wantPhone: str("-42")},
		{name: "nulls", body: `{"email":null,"phoneNumber":null}`},
		{name: "empty strings", body: `{"email":"","phoneNumber":""}`},
		{name: "missing", body: `{}`},
		{name: "phone object", body: `{"phoneNumber":{}}`, wantErr: true},
		{name: "phone bool", body: `{"phoneNumber":false}`, wantErr: true},
		{name: "phone out of range", body: `{"phoneNumber":1e400}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req IdentifyRequest
			err := json.Unmarshal([]byte(tt.body), &req)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			email, phone := req.Normalized()
			assert.Equal(t, tt.wantEmail, email)
			assert.Equal(t, tt.wantPhone, phone)
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := map[float64]string{
		0:                     "0",
		1000:                  "1000",
		1.5:                   "1.5",
		919876543210:          "919876543210",
		0.000001:              "0.000001",
		1e-7:                  "1e-7",
		1e21:                  "1e+21",
		1.25e22:               "1.25e+22",
		-3.5e-8:               "-3.5e-8",
		123456789012345680000: "123456789012345680000",
	}
	for in, want := range tests {
		assert.Equal(t, want, formatNumber(in), "formatNumber(%v)", in)
	}
	assert.Equal(t, "0", formatNumber(math.Copysign(0, -1)))
}

func TestNewContactResponse(t *testing.T) {
	primary := &Contact{ID: 1, Email: str("lorraine@hillvalley.edu"), PhoneNumber: str("123456"), LinkPrecedence: LinkPrecedencePrimary}
	secondaries := []*Contact{
		{ID: 23, Email: str("mcfly@hillvalley.edu"), PhoneNumber: str("123456")},
		{ID: 27, Email: str("lorraine@hillvalley.edu"), PhoneNumber: str("654321")},
		{ID: 30, Email: str("mcfly@hillvalley.edu")},
	}

	got := NewContactResponse(primary, secondaries)

	assert.Equal(t, ContactResponse{
		PrimaryContactID:    1,
		Emails:              []string{"lorraine@hillvalley.edu", "mcfly@hillvalley.edu"},
		PhoneNumbers:        []string{"123456", "654321"},
		SecondaryContactIDs: []int64{23, 27, 30},
	}, got)
}

func TestNewContactResponseEmptyListsMarshalAsArrays(t *testing.T) {
	got := NewContactResponse(&Contact{ID: 7, PhoneNumber: str("1")}, nil)

	out, err := json.Marshal(IdentifyResponse{Contact: got})
	require.NoError(t, err)
	assert.JSONEq(t, `{"contact":{"primaryContatctId":7,"emails":[],"phoneNumbers":["1"],"secondaryContactIds":[]}}`, string(out))
}

func TestContactSeniority(t *testing.T) {
	t0 := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	linked := int64(1)

	older := &Contact{ID: 9, CreatedAt: t0, LinkPrecedence: LinkPrecedencePrimary}
	newer := &Contact{ID: 2, CreatedAt: t0.Add(time.Second), LinkedID: &linked, LinkPrecedence: LinkPrecedenceSecondary}
	tie := &Contact{ID: 10, CreatedAt: t0}

	assert.True(t, older.Before(newer))
	assert.False(t, newer.Before(older))
	assert.True(t, older.Before(tie), "equal timestamps fall back to id")

	assert.True(t, older.IsPrimary())
	assert.Equal(t, int64(9), older.RootID())
	assert.Equal(t, int64(1), newer.RootID())
}
