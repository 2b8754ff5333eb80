package params

import (
	"fmt"
	"strings"

	"github.com/LeonAdeoye/query-service/internal/errcode"
)

// suspiciousPatterns are substrings that never belong in a bound parameter
// value: statement terminators, comment delimiters, stacked-query markers
// and destructive keywords. Matching is case-insensitive on the value's
// string form.
var suspiciousPatterns = []string{
	"';",
	"--",
	"/*",
	"*/",
	"xp_",
	"sp_",
	"exec(",
	"execute(",
	"union select",
	"drop table",
	"delete from",
	"truncate",
}

// ValidateParameters rejects any parameter whose string form contains a
// denylisted pattern. Runs before any connection is acquired.
func ValidateParameters(parameters map[string]any) error {
	for name, raw := range parameters {
		value := strings.ToLower(fmt.Sprint(raw))
		for _, pattern := range suspiciousPatterns {
			if strings.Contains(value, pattern) {
				return errcode.New(errcode.ParameterValidation,
					"suspicious pattern detected in parameter %s: %s", name, pattern)
			}
		}
	}
	return nil
}

// ValidateParameterTypes rejects parameter values outside the closed
// bindable set.
func ValidateParameterTypes(parameters map[string]any) error {
	for name, raw := range parameters {
		if _, err := Bind(raw); err != nil {
			return errcode.Wrap(errcode.ParameterValidation, err, "parameter %s", name)
		}
	}
	return nil
}
