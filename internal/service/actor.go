package service

import "strings"

// Actor represents the authenticated user invoking an engine operation.
type Actor struct {
	ID   uint
	Role string
}

// IsStaff reports whether the actor may act as an instructor.
func (a Actor) IsStaff() bool {
	switch strings.ToLower(strings.TrimSpace(a.Role)) {
	case "teacher", "instructor", "admin":
		return true
	default:
		return false
	}
}
