package native

import (
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Result codes
// --------------------------------------------------------------------------

// Result is the status code returned by most operations.
// ERROR is distinct from any legitimate zero or empty result.
type Result int

const (
	ERROR Result = -1
	OK    Result = 0
)

func (r Result) String() string {
	switch r {
	case ERROR:
		return "SRT_ERROR"
	case OK:
		return "SRT_OK"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// --------------------------------------------------------------------------
// Socket states
// --------------------------------------------------------------------------

// SockStatus is the state of a socket as reported by GetSockState
type SockStatus int

const (
	SockInit SockStatus = iota + 1
	SockOpened
	SockListening
	SockConnecting
	SockConnected
	SockBroken
	SockClosing
	SockClosed
	SockNonExist
)

var sockStatusNames = map[SockStatus]string{
	SockInit:       "INIT",
	SockOpened:     "OPENED",
	SockListening:  "LISTENING",
	SockConnecting: "CONNECTING",
	SockConnected:  "CONNECTED",
	SockBroken:     "BROKEN",
	SockClosing:    "CLOSING",
	SockClosed:     "CLOSED",
	SockNonExist:   "NONEXIST",
}

func (s SockStatus) String() string {
	if name, ok := sockStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SockStatus(%d)", int(s))
}

// IsGone reports whether the state means the peer is broken or the socket no longer exists
func (s SockStatus) IsGone() bool {
	return s == SockBroken || s == SockNonExist || s == SockClosed
}

// --------------------------------------------------------------------------
// Epoll flags
// --------------------------------------------------------------------------

// EpollOpt is a bit set of readiness interests / events.
// The values are the same as the ones in linux epoll.h.
type EpollOpt uint32

const (
	EpollNone EpollOpt = 0x0
	EpollIn   EpollOpt = 0x1
	EpollOut  EpollOpt = 0x4
	EpollErr  EpollOpt = 0x8
	EpollET   EpollOpt = 0x80000000
)

func (o EpollOpt) String() string {
	if o == EpollNone {
		return "NONE"
	}
	var parts []string
	if o&EpollIn != 0 {
		parts = append(parts, "IN")
	}
	if o&EpollOut != 0 {
		parts = append(parts, "OUT")
	}
	if o&EpollErr != 0 {
		parts = append(parts, "ERR")
	}
	if o&EpollET != 0 {
		parts = append(parts, "ET")
	}
	return strings.Join(parts, "|")
}

// EpollEvent is one ready (descriptor, event mask) pair returned by EpollUWait
type EpollEvent struct {
	Socket int
	Events EpollOpt
}

// --------------------------------------------------------------------------
// Log levels of the native library
// --------------------------------------------------------------------------

// LogLevel is the verbosity of the native library's own logging
type LogLevel int

const (
	LogFatal   LogLevel = 2
	LogError   LogLevel = 3
	LogWarning LogLevel = 4
	LogNote    LogLevel = 5
	LogDebug   LogLevel = 7
)

// ParseLogLevel converts a level name to a LogLevel
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "fatal":
		return LogFatal, nil
	case "error":
		return LogError, nil
	case "warning", "warn":
		return LogWarning, nil
	case "note", "info":
		return LogNote, nil
	case "debug":
		return LogDebug, nil
	default:
		return 0, fmt.Errorf("invalid native log level: %s. must be one of fatal, error, warn, note, debug", level)
	}
}

// Valid reports whether l is one of the known levels
func (l LogLevel) Valid() bool {
	switch l {
	case LogFatal, LogError, LogWarning, LogNote, LogDebug:
		return true
	}
	return false
}
