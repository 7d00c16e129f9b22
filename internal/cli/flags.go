package cli

import (
	"fmt"
	"time"

	"github.com/cybershell/backy/internal/errors"
)

// ParseCheckTimeout parses a check timeout string into a duration.
// Returns zero duration if the flag is empty.
func ParseCheckTimeout(flag string) (time.Duration, error) {
	if flag == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(flag)
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("'%s' doesn't look like a valid timeout", flag),
			"Try something like 5s, 2m, or 500ms.")
	}
	if d <= 0 {
		return 0, errors.New(errors.ErrConfig,
			fmt.Sprintf("'%s' is not a positive timeout", flag),
			"Try something like 5s, 2m, or 500ms.")
	}
	return d, nil
}
