package client

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Credentials is a Langfuse project key pair. It is immutable once parsed and
// safe to share between goroutines.
type Credentials struct {
	PublicKey string
	SecretKey string
}

// ParseCredentials parses the "public:secret" form the keys are stored in.
func ParseCredentials(raw string) (Credentials, error) {
	public, secret, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return Credentials{}, fmt.Errorf("credentials must have the form public:secret")
	}
	if public == "" || secret == "" {
		return Credentials{}, fmt.Errorf("credentials must contain a public and a secret key")
	}
	return Credentials{PublicKey: public, SecretKey: secret}, nil
}

// IsZero reports whether no key pair is set.
func (c Credentials) IsZero() bool {
	return c.PublicKey == "" && c.SecretKey == ""
}

// AuthorizationHeader returns the Basic auth header value.
func (c Credentials) AuthorizationHeader() string {
	token := base64.StdEncoding.EncodeToString([]byte(c.PublicKey + ":" + c.SecretKey))
	return "Basic " + token
}

// String hides the secret key.
func (c Credentials) String() string {
	return c.PublicKey + ":***"
}
