package report

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"cdr-analytics/internal/models"
)

// Recipients resolves the address list of a run: the requested addresses,
// or defaults when none were requested, minus the excluded ones. Matching
// and de-duplication ignore case; the first spelling wins.
func Recipients(v *validator.Validate, requested, defaults, excluded []string) ([]string, error) {
	source := requested
	if len(clean(source)) == 0 {
		source = defaults
	}

	skip := make(map[string]struct{}, len(excluded))
	for _, e := range clean(excluded) {
		skip[strings.ToLower(e)] = struct{}{}
	}

	seen := make(map[string]struct{}, len(source))
	out := make([]string, 0, len(source))
	var invalid []string
	for _, addr := range clean(source) {
		key := strings.ToLower(addr)
		if _, ok := skip[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		if err := v.Var(addr, "required,email"); err != nil {
			invalid = append(invalid, addr)
			continue
		}
		seen[key] = struct{}{}
		out = append(out, addr)
	}

	if len(invalid) > 0 {
		return nil, fmt.Errorf("%w: invalid email addresses: %s", models.ErrInvalidArgument, strings.Join(invalid, ", "))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no recipients", models.ErrInvalidArgument)
	}
	return out, nil
}

func clean(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
