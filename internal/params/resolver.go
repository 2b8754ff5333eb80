package params

import (
	"sort"
	"strings"

	"github.com/LeonAdeoye/query-service/internal/errcode"
	"github.com/LeonAdeoye/query-service/internal/registry"
)

// Resolve rewrites named :name placeholders into the vendor's positional
// form, collecting wire values in source order. SQL with purely positional
// placeholders binds the supplied values in sorted key order. String
// literals and quoted identifiers are copied verbatim; a postgres ::cast is
// not a parameter.
func Resolve(sqlText string, parameters map[string]any, vendor registry.Vendor) (string, []any, error) {
	if len(parameters) == 0 {
		return sqlText, nil, nil
	}

	var out strings.Builder
	out.Grow(len(sqlText))
	var args []any
	ordinal := 0
	foundNamed := false

	i := 0
	for i < len(sqlText) {
		c := sqlText[i]
		switch c {
		case '\'', '"':
			end := skipQuoted(sqlText, i)
			out.WriteString(sqlText[i:end])
			i = end
		case ':':
			if i+1 < len(sqlText) && sqlText[i+1] == ':' {
				out.WriteString("::")
				i += 2
				continue
			}
			start := i + 1
			end := start
			for end < len(sqlText) && isIdentByte(sqlText[end], end == start) {
				end++
			}
			if end == start {
				out.WriteByte(c)
				i++
				continue
			}
			name := sqlText[start:end]
			raw, ok := parameters[name]
			if !ok {
				return "", nil, errcode.New(errcode.InvalidParameters, "parameter not found: %s", name)
			}
			value, err := Bind(raw)
			if err != nil {
				return "", nil, err
			}
			ordinal++
			out.WriteString(vendor.Placeholder(ordinal))
			args = append(args, value.Wire())
			foundNamed = true
			i = end
		default:
			out.WriteByte(c)
			i++
		}
	}

	if foundNamed {
		return out.String(), args, nil
	}

	positional := countPositional(sqlText, vendor)
	if positional == 0 {
		return sqlText, nil, nil
	}
	if positional != len(parameters) {
		return "", nil, errcode.New(errcode.InvalidParameters,
			"parameter count mismatch: expected %d, got %d", positional, len(parameters))
	}
	args = make([]any, 0, len(parameters))
	for _, key := range sortedKeys(parameters) {
		value, err := Bind(parameters[key])
		if err != nil {
			return "", nil, err
		}
		args = append(args, value.Wire())
	}
	return sqlText, args, nil
}

// skipQuoted returns the index just past the quoted region starting at
// start, honoring doubled-quote escapes.
func skipQuoted(s string, start int) int {
	quote := s[start]
	i := start + 1
	for i < len(s) {
		if s[i] == quote {
			if i+1 < len(s) && s[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(s)
}

func isIdentByte(b byte, first bool) bool {
	if b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') {
		return true
	}
	return !first && b >= '0' && b <= '9'
}

func countPositional(sqlText string, vendor registry.Vendor) int {
	count := 0
	i := 0
	for i < len(sqlText) {
		switch sqlText[i] {
		case '\'', '"':
			i = skipQuoted(sqlText, i)
		case '?':
			if vendor != registry.VendorPostgres {
				count++
			}
			i++
		case '$':
			if vendor == registry.VendorPostgres && i+1 < len(sqlText) && sqlText[i+1] >= '0' && sqlText[i+1] <= '9' {
				count++
			}
			i++
		default:
			i++
		}
	}
	return count
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
