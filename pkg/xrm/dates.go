package xrm

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// msJSONDate matches /Date(1761850730000)/, /Date(1761850730000+0200)/ and /Date(1761850730000-0500)/.
var msJSONDate = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

// ParseMSJSONDate converts a Microsoft JSON date literal to a UTC time. The
// optional offset only describes the sender's zone; the instant is given by
// the milliseconds alone.
func ParseMSJSONDate(s string) (time.Time, bool) {
	m := msJSONDate.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	if off := m[2]; off != "" {
		hours, _ := strconv.Atoi(off[1:3])
		minutes, _ := strconv.Atoi(off[3:5])
		if hours > 14 || minutes > 59 {
			return time.Time{}, false
		}
	}
	return time.UnixMilli(ms).UTC(), true
}

// FormatMSJSONDate renders t as a Microsoft JSON date literal.
func FormatMSJSONDate(t time.Time) string {
	return fmt.Sprintf("/Date(%d)/", t.UnixMilli())
}
