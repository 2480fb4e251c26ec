// Package oven talks to a T-962 reflow oven controller over its serial
// console, or to a simulated oven for development.
package oven

import (
	"errors"
	"fmt"
)

// Transport is the line-oriented link to an oven controller.
// The T-962 over a USB serial adapter is the first implementation;
// DemoOven speaks the same protocol without hardware.
type Transport interface {
	// Name returns the human-readable name of this transport.
	Name() string
	// Connect opens the link and verifies the device is reachable.
	Connect() error
	// Close shuts the link down. A pending ReadLine returns an error.
	Close() error
	// ReadLine blocks until one newline-terminated line arrives and
	// returns it without the line terminator.
	ReadLine() (string, error)
	// WriteLine sends one newline-terminated command.
	WriteLine(cmd string) error
}

// ErrNoDevice is returned by Connect when no candidate port could be opened.
var ErrNoDevice = errors.New("oven: no device responded")

// Shell commands understood by the controller firmware.
const (
	CmdStop   = "stop"
	CmdReflow = "reflow"
)

// SelectProfile returns the command selecting profile idx.
func SelectProfile(idx int) string { return fmt.Sprintf("select profile %d", idx) }

// RunProfile returns the command sequence that aborts any run in progress,
// selects profile idx and starts a reflow with it.
func RunProfile(idx int) []string {
	return []string{CmdStop, SelectProfile(idx), CmdReflow}
}
