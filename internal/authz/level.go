// Package authz provides ordered security levels for route access control.
package authz

import (
	"fmt"
	"strings"
)

// Level is an ordered security level. Higher levels grant access to routes
// requiring lower levels.
type Level int

// Security levels, ordered.
const (
	LevelPublic Level = iota
	LevelAuthenticated
	LevelUser
	LevelAdmin
	LevelSuperAdmin
)

var levelNames = map[Level]string{
	LevelPublic:        "public",
	LevelAuthenticated: "authenticated",
	LevelUser:          "user",
	LevelAdmin:         "admin",
	LevelSuperAdmin:    "super_admin",
}

var levelsByName = map[string]Level{
	"public":        LevelPublic,
	"authenticated": LevelAuthenticated,
	"user":          LevelUser,
	"admin":         LevelAdmin,
	"super_admin":   LevelSuperAdmin,
}

// String returns the level name.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Allows reports whether a caller at this level may access a resource
// requiring the given level.
func (l Level) Allows(required Level) bool {
	return l >= required
}

// Valid reports whether the level is a known level.
func (l Level) Valid() bool {
	_, ok := levelNames[l]
	return ok
}

// ParseLevel parses a level name. Unknown names fall back to public so a
// misconfigured role never grants elevated access.
func ParseLevel(name string) (Level, error) {
	level, ok := levelsByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return LevelPublic, fmt.Errorf("unknown security level: %q", name)
	}
	return level, nil
}

// LevelForRole maps a user role name to its security level. Unknown roles
// map to authenticated.
func LevelForRole(role string) Level {
	if level, err := ParseLevel(role); err == nil {
		return level
	}
	return LevelAuthenticated
}

// MarshalYAML implements yaml.Marshaler.
func (l Level) MarshalYAML() (interface{}, error) {
	return l.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *Level) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	level, err := ParseLevel(name)
	if err != nil {
		return err
	}
	*l = level
	return nil
}
