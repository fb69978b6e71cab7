package core

import (
	"strings"

	"github.com/google/uuid"
)

// ClientOrderID returns id when set, otherwise a fresh dashless uuid cut to
// maxLen (0 keeps all 32 characters).
func ClientOrderID(id string, maxLen int) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	out := strings.ReplaceAll(uuid.NewString(), "-", "")
	if maxLen > 0 && len(out) > maxLen {
		out = out[:maxLen]
	}
	return out
}
