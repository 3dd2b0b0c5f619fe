// Package logx provides the small severity-colored logging convention
// shared by the sequencer and sentinel state machines: plain stdlib
// logging with github.com/fatih/color marking out severity, rather
// than a structured logging framework.
package logx

import (
	"fmt"
	"log"

	"github.com/fatih/color"
)

var (
	critical = color.New(color.FgRed, color.Bold).SprintFunc()
	warn     = color.New(color.FgYellow).SprintFunc()
)

// Info logs a plain informational message.
func Info(format string, args ...interface{}) {
	log.Printf(format, args...)
}

// Critical logs a message in bold red, the severity reserved for
// state-machine safety transitions.
func Critical(format string, args ...interface{}) {
	log.Println(critical(sprintf(format, args...)))
}

// Warn logs a message in yellow, for protocol-misuse conditions that
// are logged but do not change state.
func Warn(format string, args ...interface{}) {
	log.Println(warn(sprintf(format, args...)))
}

func sprintf(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
