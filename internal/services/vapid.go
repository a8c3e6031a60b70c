package services

import (
	"bytes"
	"crypto/ecdh"
	"encoding/base64"
	"errors"
	"strings"
)

// VAPIDConfig is the process-wide signing identity used for every delivery.
type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	// Subject is the contact address, with or without a mailto: prefix.
	Subject string
}

const (
	vapidPublicKeyLen  = 65
	vapidPrivateKeyLen = 32
)

// Validate checks that the key pair is a matching P-256 pair and that a contact
// address is present. Keys may be given in base64url or standard base64; the
// returned config always carries unpadded base64url, the only form the signer
// reads.
func (c VAPIDConfig) Validate() (VAPIDConfig, error) {
	pub, err := decodeKey(c.PublicKey)
	if err != nil {
		return c, &ConfigurationError{Field: "VAPID_PUBLIC_KEY", Reason: err.Error()}
	}
	if len(pub) != vapidPublicKeyLen || pub[0] != 0x04 {
		return c, &ConfigurationError{Field: "VAPID_PUBLIC_KEY", Reason: "expected a 65 byte uncompressed P-256 point"}
	}

	priv, err := decodeKey(c.PrivateKey)
	if err != nil {
		return c, &ConfigurationError{Field: "VAPID_PRIVATE_KEY", Reason: err.Error()}
	}
	if len(priv) != vapidPrivateKeyLen {
		return c, &ConfigurationError{Field: "VAPID_PRIVATE_KEY", Reason: "expected a 32 byte P-256 scalar"}
	}

	key, err := ecdh.P256().NewPrivateKey(priv)
	if err != nil {
		return c, &ConfigurationError{Field: "VAPID_PRIVATE_KEY", Reason: err.Error()}
	}
	if !bytes.Equal(key.PublicKey().Bytes(), pub) {
		return c, &ConfigurationError{Field: "VAPID_PUBLIC_KEY", Reason: "does not match the private key"}
	}

	// The signer always writes the JWT subject as "mailto:" + Subject, so only
	// e-mail contacts survive the trip.
	subject := strings.TrimPrefix(strings.TrimSpace(c.Subject), "mailto:")
	if subject == "" {
		return c, &ConfigurationError{Field: "VAPID_SUBJECT", Reason: "contact identifier is required"}
	}
	if strings.Contains(subject, "://") || !strings.Contains(subject, "@") {
		return c, &ConfigurationError{Field: "VAPID_SUBJECT", Reason: "expected a mailto: contact address"}
	}

	return VAPIDConfig{
		PublicKey:  base64.RawURLEncoding.EncodeToString(pub),
		PrivateKey: base64.RawURLEncoding.EncodeToString(priv),
		Subject:    subject,
	}, nil
}

func decodeKey(raw string) ([]byte, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "=")
	if raw == "" {
		return nil, errEmptyKey
	}
	if b, err := base64.RawURLEncoding.DecodeString(raw); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(raw)
}

var errEmptyKey = errors.New("key is empty")
