package secret

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var bracedVar = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnvStrict expands environment variables in s.
//
//   - $VAR and ${VAR} are expanded as by os.ExpandEnv.
//   - ${VAR} with VAR unset is an error wrapping ErrMissingEnv; bare $VAR
//     expands to the empty string.
//   - $$ yields a literal $.
func ExpandEnvStrict(s string) (string, error) {
	const escaped = "\x00tokencache-dollar\x00"
	s = strings.ReplaceAll(s, "$$", escaped)

	var missing []string
	seen := map[string]bool{}
	for _, m := range bracedVar.FindAllStringSubmatch(s, -1) {
		name := m[1]
		if _, ok := os.LookupEnv(name); !ok && !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}

	return strings.ReplaceAll(os.ExpandEnv(s), escaped, "$"), nil
}
