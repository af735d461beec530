package auth

import "fmt"

// Level is an account's certificate authentication requirement
type Level string

// Certificate authentication levels, weakest first
const (
	LevelDisabled          Level = "disabled"
	LevelAllowed           Level = "allowed"
	LevelSensitiveRequired Level = "sensitive_required"
	LevelRequired          Level = "required"
)

// Levels lists every level in increasing strength
var Levels = []Level{LevelDisabled, LevelAllowed, LevelSensitiveRequired, LevelRequired}

// ParseLevel validates a stored or submitted level name
func ParseLevel(s string) (Level, error) {
	for _, l := range Levels {
		if string(l) == s {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown certificate authentication level: %q", s)
}

// RequiresCertificate reports whether the level mandates a client
// certificate for at least some operations.
func (l Level) RequiresCertificate() bool {
	return l == LevelSensitiveRequired || l == LevelRequired
}

// Description is the human readable label for the level
func (l Level) Description() string {
	switch l {
	case LevelDisabled:
		return "Disabled (default)"
	case LevelAllowed:
		return "Allow for login"
	case LevelSensitiveRequired:
		return "Require for sensitive operations only"
	case LevelRequired:
		return "Require for login"
	default:
		return string(l)
	}
}
