package store

import (
	"fmt"
	"strings"
)

// Flag is the state recorded by a sign-off action.
type Flag int

const (
	// FlagUnknown marks a sign-off without any recorded action. It is never
	// persisted.
	FlagUnknown Flag = iota
	FlagPending
	FlagAccepted
	FlagRejected
	FlagCanceled
	FlagObsoleted
)

var flagNames = map[Flag]string{
	FlagUnknown:   "unknown",
	FlagPending:   "pending",
	FlagAccepted:  "accepted",
	FlagRejected:  "rejected",
	FlagCanceled:  "canceled",
	FlagObsoleted: "obsoleted",
}

// Flags lists the persistable flags in lifecycle order.
var Flags = []Flag{FlagPending, FlagAccepted, FlagRejected, FlagCanceled, FlagObsoleted}

func (f Flag) String() string {
	if name, ok := flagNames[f]; ok {
		return name
	}
	return fmt.Sprintf("flag(%d)", int(f))
}

// ParseFlag converts a persisted or user-supplied name into a Flag.
func ParseFlag(value string) (Flag, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "pending":
		return FlagPending, nil
	case "accepted":
		return FlagAccepted, nil
	case "rejected":
		return FlagRejected, nil
	case "canceled", "cancelled":
		return FlagCanceled, nil
	case "obsoleted":
		return FlagObsoleted, nil
	default:
		return FlagUnknown, fmt.Errorf("unknown flag %q", value)
	}
}

func (f Flag) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Flag) UnmarshalText(text []byte) error {
	if strings.EqualFold(string(text), "unknown") {
		*f = FlagUnknown
		return nil
	}
	parsed, err := ParseFlag(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
