package params

import (
	"testing"

	"github.com/LeonAdeoye/query-service/internal/errcode"
)

func TestCheckLikePatterns(t *testing.T) {
	cases := []struct {
		name    string
		sql     string
		allowed bool
	}{
		{"double wildcard", "SELECT * FROM t WHERE name LIKE '%ab%'", false},
		{"trailing wildcard", "SELECT * FROM t WHERE name LIKE 'ab%'", true},
		{"leading wildcard", "SELECT * FROM t WHERE name LIKE '%ab'", true},
		{"no wildcard", "SELECT * FROM t WHERE name LIKE 'ab'", true},
		{"national prefix", "SELECT * FROM t WHERE name LIKE N'%ab%'", false},
		{"lowercase keyword", "select * from t where name like '%a%'", false},
		{"double quoted literal", `SELECT * FROM t WHERE name LIKE "%a%"`, false},
		{"escaped quote does not end literal", "SELECT * FROM t WHERE name LIKE 'it''s %a%'", false},
		{"two single-wildcard predicates", "SELECT * FROM t WHERE a LIKE 'x%' AND b LIKE '%y'", true},
		{"no like at all", "SELECT 1", true},
		{"like without literal", "SELECT * FROM t WHERE a LIKE b", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckLikePatterns(tc.sql)
			if tc.allowed && err != nil {
				t.Fatalf("expected %q to pass, got %v", tc.sql, err)
			}
			if !tc.allowed {
				if err == nil {
					t.Fatalf("expected %q to be rejected", tc.sql)
				}
				if errcode.CodeOf(err) != errcode.LikeDoubleWildcard {
					t.Fatalf("code = %s", errcode.CodeOf(err))
				}
			}
		})
	}
}
