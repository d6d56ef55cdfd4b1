// Package token provides a generic signed-token abstraction for session
// credentials. Tokens use the JWS compact serialization with an HMAC family
// of algorithms; the audience claim separates token types (access vs
// refresh) so one cannot be replayed as the other.
package token

import (
	"encoding/json"
	"time"
)

// Well-known extra claim names used by the session manager.
const (
	ClaimEmail       = "email"
	ClaimRole        = "role"
	ClaimSessionID   = "sid"
	ClaimFingerprint = "fpt"
)

// Claims represents signed token claims.
type Claims struct {
	// Standard claims
	Issuer    string   `json:"iss,omitempty"`
	Subject   string   `json:"sub,omitempty"`
	Audience  Audience `json:"aud,omitempty"`
	ExpiresAt *Time    `json:"exp,omitempty"`
	NotBefore *Time    `json:"nbf,omitempty"`
	IssuedAt  *Time    `json:"iat,omitempty"`
	TokenID   string   `json:"jti,omitempty"`

	// Additional claims carried alongside the standard set.
	Extra map[string]interface{} `json:"-"`
}

// Time is a wrapper around time.Time marshaled as a Unix timestamp.
type Time struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(data []byte) error {
	var timestamp float64
	if err := json.Unmarshal(data, &timestamp); err != nil {
		return err
	}
	t.Time = time.Unix(int64(timestamp), 0)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Unix())
}

// Audience represents the audience claim which can be a string or array.
type Audience []string

// UnmarshalJSON implements json.Unmarshaler.
func (a *Audience) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = Audience{single}
		return nil
	}

	var multiple []string
	if err := json.Unmarshal(data, &multiple); err != nil {
		return err
	}
	*a = Audience(multiple)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (a Audience) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(a[0])
	}
	return json.Marshal([]string(a))
}

// Contains checks if the audience contains a specific value.
func (a Audience) Contains(aud string) bool {
	for _, v := range a {
		if v == aud {
			return true
		}
	}
	return false
}

// GetString returns a string extra claim.
func (c *Claims) GetString(name string) string {
	if c.Extra == nil {
		return ""
	}
	if v, ok := c.Extra[name].(string); ok {
		return v
	}
	return ""
}

// ToMap converts the claims to a flat map for serialization.
func (c *Claims) ToMap() map[string]interface{} {
	m := make(map[string]interface{})

	if c.Issuer != "" {
		m["iss"] = c.Issuer
	}
	if c.Subject != "" {
		m["sub"] = c.Subject
	}
	if len(c.Audience) > 0 {
		if len(c.Audience) == 1 {
			m["aud"] = c.Audience[0]
		} else {
			m["aud"] = []string(c.Audience)
		}
	}
	if c.ExpiresAt != nil {
		m["exp"] = c.ExpiresAt.Unix()
	}
	if c.NotBefore != nil {
		m["nbf"] = c.NotBefore.Unix()
	}
	if c.IssuedAt != nil {
		m["iat"] = c.IssuedAt.Unix()
	}
	if c.TokenID != "" {
		m["jti"] = c.TokenID
	}

	for k, v := range c.Extra {
		m[k] = v
	}

	return m
}

// ParseClaims builds Claims from a decoded claims map, separating standard
// claims from extras.
func ParseClaims(m map[string]interface{}) (*Claims, error) {
	c := &Claims{Extra: make(map[string]interface{})}

	for k, v := range m {
		switch k {
		case "iss":
			if s, ok := v.(string); ok {
				c.Issuer = s
			}
		case "sub":
			if s, ok := v.(string); ok {
				c.Subject = s
			}
		case "aud":
			switch aud := v.(type) {
			case string:
				c.Audience = Audience{aud}
			case []interface{}:
				for _, item := range aud {
					if s, ok := item.(string); ok {
						c.Audience = append(c.Audience, s)
					}
				}
			}
		case "exp":
			if f, ok := v.(float64); ok {
				c.ExpiresAt = &Time{Time: time.Unix(int64(f), 0)}
			}
		case "nbf":
			if f, ok := v.(float64); ok {
				c.NotBefore = &Time{Time: time.Unix(int64(f), 0)}
			}
		case "iat":
			if f, ok := v.(float64); ok {
				c.IssuedAt = &Time{Time: time.Unix(int64(f), 0)}
			}
		case "jti":
			if s, ok := v.(string); ok {
				c.TokenID = s
			}
		default:
			c.Extra[k] = v
		}
	}

	return c, nil
}
