// Package keys parses hotkey combinations and binds them to process-level
// activation sources.
package keys

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidCombo = errors.New("invalid key combination")
	ErrUnavailable  = errors.New("hotkeys unavailable")
)

// Registrar binds a combination to fn.
type Registrar interface {
	Register(combo string, fn func()) (unregister func(), err error)
}

// Combo is a parsed combination such as ctrl+alt+h.
type Combo struct {
	Modifiers []string
	Key       string
}

func (c Combo) String() string {
	return strings.Join(append(append([]string(nil), c.Modifiers...), c.Key), "+")
}

var modifierAliases = map[string]string{
	"ctrl":    "ctrl",
	"control": "ctrl",
	"alt":     "alt",
	"option":  "alt",
	"shift":   "shift",
	"super":   "super",
	"win":     "super",
	"cmd":     "super",
	"meta":    "super",
}

var namedKeys = map[string]struct{}{
	"space": {}, "enter": {}, "esc": {}, "escape": {}, "tab": {}, "backspace": {},
	"insert": {}, "delete": {}, "home": {}, "end": {}, "pageup": {}, "pagedown": {},
	"up": {}, "down": {}, "left": {}, "right": {}, "pause": {}, "printscreen": {},
}

// ParseCombo validates a "+"-separated combination. Modifiers come first and
// exactly one non-modifier key ends it.
func ParseCombo(s string) (Combo, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	if len(parts) == 0 || parts[0] == "" {
		return Combo{}, fmt.Errorf("%w: empty", ErrInvalidCombo)
	}

	var combo Combo
	seen := make(map[string]bool)
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return Combo{}, fmt.Errorf("%w: %q has an empty part", ErrInvalidCombo, s)
		}
		last := i == len(parts)-1
		if mod, ok := modifierAliases[part]; ok && !last {
			if seen[mod] {
				return Combo{}, fmt.Errorf("%w: %q repeats %s", ErrInvalidCombo, s, mod)
			}
			seen[mod] = true
			combo.Modifiers = append(combo.Modifiers, mod)
			continue
		}
		if !last {
			return Combo{}, fmt.Errorf("%w: %q has key %q before the end", ErrInvalidCombo, s, part)
		}
		if !validKey(part) {
			return Combo{}, fmt.Errorf("%w: unknown key %q", ErrInvalidCombo, part)
		}
		combo.Key = part
	}
	return combo, nil
}

func validKey(k string) bool {
	if len(k) == 1 {
		c := k[0]
		return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
	}
	if _, ok := namedKeys[k]; ok {
		return true
	}
	var n int
	if _, err := fmt.Sscanf(k, "f%d", &n); err == nil && fmt.Sprintf("f%d", n) == k {
		return n >= 1 && n <= 24
	}
	return false
}

// Describer reports how a registrar activates a combination.
type Describer interface {
	Describe(combo string) string
}

// Unavailable is the registrar for platforms without a hotkey source.
type Unavailable struct {
	Reason string
}

func (u Unavailable) Describe(string) string {
	if u.Reason == "" {
		return "hotkeys unavailable"
	}
	return "hotkeys unavailable: " + u.Reason
}

func (u Unavailable) Register(string, func()) (func(), error) {
	if u.Reason == "" {
		return nil, ErrUnavailable
	}
	return nil, fmt.Errorf("%w: %s", ErrUnavailable, u.Reason)
}
