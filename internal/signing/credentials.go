package signing

import (
	"encoding/json"
	"strings"

	"spot-connect/internal/core"
)

type keyBlob struct {
	Name       string `json:"name"`
	ID         string `json:"id"`
	PrivateKey string `json:"privateKey"`
}

// NormalizeCredentials unpacks a downloaded key file pasted into any of the
// key fields. A JSON object carrying {name|id, privateKey} fills KeyName and
// PrivateKey; everything else is trimmed and returned as is.
func NormalizeCredentials(c core.Credentials) core.Credentials {
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.APISecret = strings.TrimSpace(c.APISecret)
	c.Passphrase = strings.TrimSpace(c.Passphrase)
	c.KeyName = strings.TrimSpace(c.KeyName)
	c.PrivateKey = strings.TrimSpace(c.PrivateKey)

	for _, field := range []string{c.PrivateKey, c.APISecret, c.KeyName, c.APIKey} {
		blob, ok := parseKeyBlob(field)
		if !ok {
			continue
		}
		name := blob.Name
		if name == "" {
			name = blob.ID
		}
		if name != "" {
			c.KeyName = name
		}
		c.PrivateKey = blob.PrivateKey
		break
	}
	if c.KeyName == "" {
		c.KeyName = c.APIKey
	}
	if c.PrivateKey == "" && strings.Contains(c.APISecret, "PRIVATE KEY") {
		c.PrivateKey = c.APISecret
	}
	return c
}

func parseKeyBlob(s string) (keyBlob, bool) {
	if !strings.HasPrefix(s, "{") {
		return keyBlob{}, false
	}
	var blob keyBlob
	if err := json.Unmarshal([]byte(s), &blob); err != nil {
		return keyBlob{}, false
	}
	if strings.TrimSpace(blob.PrivateKey) == "" {
		return keyBlob{}, false
	}
	return blob, true
}
