package core

import (
	"fmt"
	"strings"
)

// ParseProduct splits a unified product id such as "BTC/USD". Dash and
// underscore separators are accepted as well.
func ParseProduct(id string) (base, quote string, err error) {
	id = strings.ToUpper(strings.TrimSpace(id))
	for _, sep := range []string{"/", "-", "_"} {
		if parts := strings.Split(id, sep); len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return parts[0], parts[1], nil
		}
	}
	return "", "", fmt.Errorf("%w: %q is not BASE/QUOTE", ErrUnknownProduct, id)
}

func ProductID(base, quote string) string {
	return strings.ToUpper(base) + "/" + strings.ToUpper(quote)
}
