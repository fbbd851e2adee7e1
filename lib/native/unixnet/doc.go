// Package unixnet implements native.INative on top of the kernel: AF_UNIX
// SOCK_SEQPACKET sockets and epoll, driven through golang.org/x/sys/unix.
//
// SOCK_SEQPACKET keeps message boundaries and connection semantics, which is
// what the async layer expects from the native library. Ports are mapped to
// abstract socket names ("@<namespace>-<port>"), so nothing touches the file
// system and nothing has to be cleaned up after a crash.
//
// Only linux is supported; on other platforms the package is empty.
//
// Option mapping:
//
//	SRTO_SNDSYN / SRTO_RCVSYN     -> MSG_DONTWAIT when false
//	SRTO_SNDTIMEO / SRTO_RCVTIMEO -> SO_SNDTIMEO / SO_RCVTIMEO
//	SRTO_SNDBUF / SRTO_RCVBUF     -> SO_SNDBUF / SO_RCVBUF
//	SRTO_PAYLOADSIZE              -> largest accepted write (default 1316)
//
// All other writable options are stored and reported back unchanged.
package unixnet
