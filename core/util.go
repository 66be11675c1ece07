package core

import (
	"strings"
	"time"
)

// NowFunc returns the current time. Tests replace it.
var NowFunc = time.Now

// CleanString trims s and, when lower is set, lowercases it.
// Every user supplied name, email and filter goes through it before validation.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) == 0 || !lower[0] {
		return s
	}
	return strings.ToLower(s)
}

// StringInSlice reports whether s is one of list.
func StringInSlice(s string, list []string) bool {
	for i := range list {
		if list[i] == s {
			return true
		}
	}
	return false
}
