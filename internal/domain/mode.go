package domain

import "fmt"

// Mode is a duel ruleset teams queue for separately
type Mode string

const (
	ModeNM   Mode = "NM"
	ModeNMPZ Mode = "NMPZ"
)

// Modes lists every mode in scan order
var Modes = []Mode{ModeNM, ModeNMPZ}

// DefaultGamemodes maps each mode to the gamemode label used for scoring and history
var DefaultGamemodes = map[Mode]string{
	ModeNM:   "NM 30s",
	ModeNMPZ: "NMPZ 15s",
}

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNM, ModeNMPZ:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}
