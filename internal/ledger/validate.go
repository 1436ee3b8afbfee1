package ledger

import (
	"regexp"
	"time"
)

var moisRe = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// IsValidMois reports whether s is a YYYY-MM month.
func IsValidMois(s string) bool {
	return moisRe.MatchString(s)
}

const dateLayout = "2006-01-02"

// IsValidDate reports whether s is a YYYY-MM-DD string naming a real calendar
// date. time.Parse alone would accept variants like "2024-3-5", so the
// round-trip check pins the exact format.
func IsValidDate(s string) bool {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return false
	}
	return t.Format(dateLayout) == s
}

// CurrentMois formats now as a YYYY-MM month.
func CurrentMois(now time.Time) string {
	return now.UTC().Format("2006-01")
}
