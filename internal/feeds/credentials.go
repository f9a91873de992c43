package feeds

import (
	"fmt"
	"os"
	"strings"
)

// ResolveCredential turns a credential reference into a secret. "env:NAME" reads
// the environment; anything else is used as-is. An empty reference yields "".
func ResolveCredential(ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	if name, ok := strings.CutPrefix(ref, "env:"); ok {
		value := os.Getenv(name)
		if value == "" {
			return "", fmt.Errorf("credential %s is not set", name)
		}
		return value, nil
	}
	return ref, nil
}
