package native

import "fmt"

// Method names one operation of INative
type Method uint8

const (
	MethodCreateSocket Method = iota
	MethodBind
	MethodListen
	MethodConnect
	MethodAccept
	MethodClose
	MethodRead
	MethodWrite
	MethodSetSockOpt
	MethodGetSockOpt
	MethodGetSockState
	MethodEpollCreate
	MethodEpollAddUsock
	MethodEpollUWait
	MethodSetLogLevel
	MethodStats

	methodCount
)

var methodNames = [methodCount]string{
	MethodCreateSocket:  "createSocket",
	MethodBind:          "bind",
	MethodListen:        "listen",
	MethodConnect:       "connect",
	MethodAccept:        "accept",
	MethodClose:         "close",
	MethodRead:          "read",
	MethodWrite:         "write",
	MethodSetSockOpt:    "setSockOpt",
	MethodGetSockOpt:    "getSockOpt",
	MethodGetSockState:  "getSockState",
	MethodEpollCreate:   "epollCreate",
	MethodEpollAddUsock: "epollAddUsock",
	MethodEpollUWait:    "epollUWait",
	MethodSetLogLevel:   "setLogLevel",
	MethodStats:         "stats",
}

// methodArity is the number of arguments each method takes
var methodArity = [methodCount]int{
	MethodCreateSocket:  1,
	MethodBind:          3,
	MethodListen:        2,
	MethodConnect:       3,
	MethodAccept:        1,
	MethodClose:         1,
	MethodRead:          2,
	MethodWrite:         2,
	MethodSetSockOpt:    3,
	MethodGetSockOpt:    2,
	MethodGetSockState:  1,
	MethodEpollCreate:   0,
	MethodEpollAddUsock: 3,
	MethodEpollUWait:    2,
	MethodSetLogLevel:   1,
	MethodStats:         2,
}

func (m Method) String() string {
	if m < methodCount {
		return methodNames[m]
	}
	return fmt.Sprintf("Method(%d)", uint8(m))
}

// Valid reports whether m names a known operation
func (m Method) Valid() bool {
	return m < methodCount
}

// Arity returns the number of arguments the method takes (-1 for unknown methods)
func (m Method) Arity() int {
	if m < methodCount {
		return methodArity[m]
	}
	return -1
}

// Methods returns all known methods in declaration order
func Methods() []Method {
	all := make([]Method, 0, methodCount)
	for m := Method(0); m < methodCount; m++ {
		all = append(all, m)
	}
	return all
}
