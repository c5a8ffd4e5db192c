// Package link talks to the echo sensor over its AT command interface.
package link

import (
	"strconv"
	"strings"
)

// Kind identifies a sensor command.
type Kind int

const (
	KindStop Kind = iota
	KindVerbose
	KindNearBoundary
	KindFarBoundary
	KindNearThreshold
	KindFarThreshold
	KindReboot
)

var kindNames = [...]string{
	KindStop:          "STOP",
	KindVerbose:       "DEBUG",
	KindNearBoundary:  "S3",
	KindFarBoundary:   "S4",
	KindNearThreshold: "T2",
	KindFarThreshold:  "T3",
	KindReboot:        "REBOOT",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

// HasValue reports whether the command carries an argument.
func (k Kind) HasValue() bool {
	switch k {
	case KindVerbose, KindNearBoundary, KindFarBoundary, KindNearThreshold, KindFarThreshold:
		return true
	}
	return false
}

// Command is a single sensor command.
type Command struct {
	Kind  Kind
	Value int
}

func Stop() Command { return Command{Kind: KindStop} }
func Verbose() Command { return Command{Kind: KindVerbose, Value: 1} }
func Reboot() Command { return Command{Kind: KindReboot} }
func NearBoundary(v int) Command { return Command{Kind: KindNearBoundary, Value: v} }
func FarBoundary(v int) Command { return Command{Kind: KindFarBoundary, Value: v} }
func NearThreshold(v int) Command { return Command{Kind: KindNearThreshold, Value: v} }
func FarThreshold(v int) Command { return Command{Kind: KindFarThreshold, Value: v} }

// String returns the command text without the line terminator.
func (c Command) String() string {
	if c.Kind.HasValue() {
		return "AT+" + c.Kind.String() + "=" + strconv.Itoa(c.Value)
	}
	return "AT+" + c.Kind.String()
}

// Encode returns the wire form of the command.
func (c Command) Encode() []byte {
	return []byte(c.String() + "\r\n")
}

// ParseCommand decodes a command line such as "AT+T2=345". Surrounding
// whitespace and the line terminator are ignored.
func ParseCommand(s string) (Command, bool) {
	s = strings.TrimSpace(s)
	rest, ok := strings.CutPrefix(s, "AT+")
	if !ok {
		return Command{}, false
	}
	name, arg, hasArg := strings.Cut(rest, "=")
	for k, n := range kindNames {
		if n != name {
			continue
		}
		kind := Kind(k)
		if kind.HasValue() != hasArg {
			return Command{}, false
		}
		c := Command{Kind: kind}
		if hasArg {
			v, err := strconv.Atoi(arg)
			if err != nil {
				return Command{}, false
			}
			c.Value = v
		}
		return c, true
	}
	return Command{}, false
}
