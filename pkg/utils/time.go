package utils

import (
	"strconv"
	"time"
)

// NowRFC3339 returns the current time in RFC3339 format
func NowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// UnixSeconds formats t as a unix timestamp string, as used in rate limit headers
func UnixSeconds(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
