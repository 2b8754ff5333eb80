package params

import (
	"strings"

	"github.com/LeonAdeoye/query-service/internal/errcode"
)

// CheckLikePatterns rejects SQL containing a LIKE predicate whose pattern
// literal holds two or more % wildcards. A single leading or trailing
// wildcard is allowed; %text% patterns force full scans and are not.
// The scan respects an optional national-string N prefix and doubled-quote
// escaping inside the literal.
func CheckLikePatterns(sqlText string) error {
	upper := strings.ToUpper(sqlText)
	i := 0
	for i < len(upper) {
		likeStart := strings.Index(upper[i:], "LIKE")
		if likeStart == -1 {
			return nil
		}
		i += likeStart + len("LIKE")

		for i < len(upper) && isSpaceByte(upper[i]) {
			i++
		}
		if i >= len(upper) {
			return nil
		}
		if upper[i] == 'N' && i+1 < len(upper) && (upper[i+1] == '\'' || upper[i+1] == '"') {
			i++
		}
		quote := upper[i]
		if quote != '\'' && quote != '"' {
			continue
		}
		i++
		literalStart := i
		for i < len(upper) {
			if upper[i] == quote {
				if i+1 < len(upper) && upper[i+1] == quote {
					i += 2
					continue
				}
				break
			}
			i++
		}
		if i >= len(upper) {
			return nil
		}
		literal := sqlText[literalStart:i]
		wildcards := strings.Count(literal, "%")
		if wildcards >= 2 {
			return errcode.New(errcode.LikeDoubleWildcard,
				"LIKE pattern with two or more %% wildcards is not allowed (found %d in pattern)", wildcards)
		}
		i++
	}
	return nil
}

func isSpaceByte(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	default:
		return false
	}
}
