// Package merchant provides merchant credential resolution: a remote config
// RPC client fronted by a local LRU tier and a shared Redis tier.
package merchant

import (
	"encoding/json"
	"time"
)

// Credential is the per-merchant security material the gateway needs to
// authenticate a request.
type Credential struct {
	// MerchantID is the partner identifier presented in X-PARTNER-ID.
	MerchantID string `json:"merchantId"`

	// Secret is the HMAC signing secret. A credential with a blank secret
	// is treated as an unknown client.
	Secret string `json:"merchantSecret"`

	// BusinessAction is a capability bitmask: bit 0 deposit, bit 1 payout.
	// Zero means unrestricted.
	BusinessAction int `json:"businessAction"`

	// PublicKey is the merchant's RSA public key, production only.
	PublicKey string `json:"publicKey,omitempty"`

	// ExpiryDate is when the production key material expires, if set.
	ExpiryDate string `json:"expiryDate,omitempty"`

	// IPWhitelist restricts calling IPs when non-empty.
	IPWhitelist []string `json:"ipWhiteList,omitempty"`
}

// Valid reports whether the credential carries usable signing material.
func (c *Credential) Valid() bool {
	return c != nil && c.MerchantID != "" && c.Secret != ""
}

// CanDeposit reports whether the merchant may call deposit routes.
func (c *Credential) CanDeposit() bool {
	return c.BusinessAction == 0 || c.BusinessAction&1 != 0
}

// CanPayout reports whether the merchant may call payout routes.
func (c *Credential) CanPayout() bool {
	return c.BusinessAction == 0 || c.BusinessAction&2 != 0
}

// AllowsIP reports whether the client IP passes the whitelist. An empty
// whitelist allows everything.
func (c *Credential) AllowsIP(ip string) bool {
	if len(c.IPWhitelist) == 0 {
		return true
	}
	for _, allowed := range c.IPWhitelist {
		if allowed == ip {
			return true
		}
	}
	return false
}

// expiryLayouts lists the accepted ExpiryDate formats, most specific first.
var expiryLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

// Expired reports whether the credential's key material has expired at the
// given instant. A blank or unparseable expiry never expires; the config
// service owns validation of the field.
func (c *Credential) Expired(now time.Time) bool {
	if c.ExpiryDate == "" {
		return false
	}
	for _, layout := range expiryLayouts {
		if exp, err := time.Parse(layout, c.ExpiryDate); err == nil {
			return now.After(exp)
		}
	}
	return false
}

// Marshal encodes the credential for cache storage.
func (c *Credential) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalCredential decodes a cached credential.
func UnmarshalCredential(data []byte) (*Credential, error) {
	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
