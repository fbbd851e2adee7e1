package native

import (
	"fmt"
)

// SockOpt identifies a socket option
type SockOpt int

const (
	SRTO_MSS                SockOpt = 0
	SRTO_SNDSYN             SockOpt = 1
	SRTO_RCVSYN             SockOpt = 2
	SRTO_ISN                SockOpt = 3
	SRTO_FC                 SockOpt = 4
	SRTO_SNDBUF             SockOpt = 5
	SRTO_RCVBUF             SockOpt = 6
	SRTO_LINGER             SockOpt = 7
	SRTO_UDP_SNDBUF         SockOpt = 8
	SRTO_UDP_RCVBUF         SockOpt = 9
	SRTO_RENDEZVOUS         SockOpt = 12
	SRTO_SNDTIMEO           SockOpt = 13
	SRTO_RCVTIMEO           SockOpt = 14
	SRTO_REUSEADDR          SockOpt = 15
	SRTO_MAXBW              SockOpt = 16
	SRTO_STATE              SockOpt = 17
	SRTO_EVENT              SockOpt = 18
	SRTO_SNDDATA            SockOpt = 19
	SRTO_RCVDATA            SockOpt = 20
	SRTO_SENDER             SockOpt = 21
	SRTO_TSBPDMODE          SockOpt = 22
	SRTO_LATENCY            SockOpt = 23
	SRTO_INPUTBW            SockOpt = 24
	SRTO_OHEADBW            SockOpt = 25
	SRTO_PASSPHRASE         SockOpt = 26
	SRTO_PBKEYLEN           SockOpt = 27
	SRTO_KMSTATE            SockOpt = 28
	SRTO_IPTTL              SockOpt = 29
	SRTO_IPTOS              SockOpt = 30
	SRTO_TLPKTDROP          SockOpt = 31
	SRTO_SNDDROPDELAY       SockOpt = 32
	SRTO_NAKREPORT          SockOpt = 33
	SRTO_VERSION            SockOpt = 34
	SRTO_PEERVERSION        SockOpt = 35
	SRTO_CONNTIMEO          SockOpt = 36
	SRTO_DRIFTTRACER        SockOpt = 37
	SRTO_MININPUTBW         SockOpt = 38
	SRTO_SNDKMSTATE         SockOpt = 40
	SRTO_RCVKMSTATE         SockOpt = 41
	SRTO_LOSSMAXTTL         SockOpt = 42
	SRTO_RCVLATENCY         SockOpt = 43
	SRTO_PEERLATENCY        SockOpt = 44
	SRTO_MINVERSION         SockOpt = 45
	SRTO_STREAMID           SockOpt = 46
	SRTO_CONGESTION         SockOpt = 47
	SRTO_MESSAGEAPI         SockOpt = 48
	SRTO_PAYLOADSIZE        SockOpt = 49
	SRTO_TRANSTYPE          SockOpt = 50
	SRTO_KMREFRESHRATE      SockOpt = 51
	SRTO_KMPREANNOUNCE      SockOpt = 52
	SRTO_ENFORCEDENCRYPTION SockOpt = 53
	SRTO_IPV6ONLY           SockOpt = 54
	SRTO_PEERIDLETIMEO      SockOpt = 55
	SRTO_BINDTODEVICE       SockOpt = 56
	SRTO_PACKETFILTER       SockOpt = 60
	SRTO_RETRANSMITALGO     SockOpt = 61

	// SRTO_E_SIZE is always last and not a valid option
	SRTO_E_SIZE SockOpt = 62
)

// --------------------------------------------------------------------------
// Option metadata
// --------------------------------------------------------------------------

// OptType is the value type of an option
type OptType string

const (
	OptBool   OptType = "bool"
	OptInt32  OptType = "int32_t"
	OptInt64  OptType = "int64_t"
	OptString OptType = "string"
	OptLinger OptType = "linger"
)

// OptDir is the access direction of an option
type OptDir string

const (
	DirRead      OptDir = "R"
	DirWrite     OptDir = "W"
	DirReadWrite OptDir = "RW"
)

// OptInfo describes a socket option
type OptInfo struct {
	Name     string
	Type     OptType
	Dir      OptDir
	Restrict string // "pre-bind", "pre", "post" or empty
	Units    string
}

// Readable reports whether the option can be queried
func (i OptInfo) Readable() bool { return i.Dir == DirRead || i.Dir == DirReadWrite }

// Writable reports whether the option can be set
func (i OptInfo) Writable() bool { return i.Dir == DirWrite || i.Dir == DirReadWrite }

var optInfos = map[SockOpt]OptInfo{
	SRTO_BINDTODEVICE:       {"SRTO_BINDTODEVICE", OptString, DirReadWrite, "pre-bind", ""},
	SRTO_CONGESTION:         {"SRTO_CONGESTION", OptString, DirWrite, "pre", ""},
	SRTO_CONNTIMEO:          {"SRTO_CONNTIMEO", OptInt32, DirWrite, "pre", "ms"},
	SRTO_DRIFTTRACER:        {"SRTO_DRIFTTRACER", OptBool, DirReadWrite, "post", ""},
	SRTO_ENFORCEDENCRYPTION: {"SRTO_ENFORCEDENCRYPTION", OptBool, DirWrite, "pre", ""},
	SRTO_EVENT:              {"SRTO_EVENT", OptInt32, DirRead, "", "flags"},
	SRTO_FC:                 {"SRTO_FC", OptInt32, DirReadWrite, "pre", "pkts"},
	SRTO_INPUTBW:            {"SRTO_INPUTBW", OptInt64, DirReadWrite, "post", "B/s"},
	SRTO_IPTOS:              {"SRTO_IPTOS", OptInt32, DirReadWrite, "pre-bind", ""},
	SRTO_IPTTL:              {"SRTO_IPTTL", OptInt32, DirReadWrite, "pre-bind", "hops"},
	SRTO_IPV6ONLY:           {"SRTO_IPV6ONLY", OptInt32, DirReadWrite, "pre-bind", ""},
	SRTO_ISN:                {"SRTO_ISN", OptInt32, DirRead, "", ""},
	SRTO_KMPREANNOUNCE:      {"SRTO_KMPREANNOUNCE", OptInt32, DirReadWrite, "pre", "pkts"},
	SRTO_KMREFRESHRATE:      {"SRTO_KMREFRESHRATE", OptInt32, DirReadWrite, "pre", "pkts"},
	SRTO_KMSTATE:            {"SRTO_KMSTATE", OptInt32, DirRead, "", "enum"},
	SRTO_LATENCY:            {"SRTO_LATENCY", OptInt32, DirReadWrite, "pre", "ms"},
	SRTO_LINGER:             {"SRTO_LINGER", OptLinger, DirReadWrite, "post", "s"},
	SRTO_LOSSMAXTTL:         {"SRTO_LOSSMAXTTL", OptInt32, DirReadWrite, "post", "packets"},
	SRTO_MAXBW:              {"SRTO_MAXBW", OptInt64, DirReadWrite, "post", "B/s"},
	SRTO_MESSAGEAPI:         {"SRTO_MESSAGEAPI", OptBool, DirWrite, "pre", ""},
	SRTO_MININPUTBW:         {"SRTO_MININPUTBW", OptInt64, DirReadWrite, "post", "B/s"},
	SRTO_MINVERSION:         {"SRTO_MINVERSION", OptInt32, DirReadWrite, "pre", "version"},
	SRTO_MSS:                {"SRTO_MSS", OptInt32, DirReadWrite, "pre-bind", "bytes"},
	SRTO_NAKREPORT:          {"SRTO_NAKREPORT", OptBool, DirReadWrite, "pre", ""},
	SRTO_OHEADBW:            {"SRTO_OHEADBW", OptInt32, DirReadWrite, "post", "%"},
	SRTO_PACKETFILTER:       {"SRTO_PACKETFILTER", OptString, DirReadWrite, "pre", ""},
	SRTO_PASSPHRASE:         {"SRTO_PASSPHRASE", OptString, DirWrite, "pre", ""},
	SRTO_PAYLOADSIZE:        {"SRTO_PAYLOADSIZE", OptInt32, DirWrite, "pre", "bytes"},
	SRTO_PBKEYLEN:           {"SRTO_PBKEYLEN", OptInt32, DirReadWrite, "pre", "bytes"},
	SRTO_PEERIDLETIMEO:      {"SRTO_PEERIDLETIMEO", OptInt32, DirReadWrite, "pre", "ms"},
	SRTO_PEERLATENCY:        {"SRTO_PEERLATENCY", OptInt32, DirReadWrite, "pre", "ms"},
	SRTO_PEERVERSION:        {"SRTO_PEERVERSION", OptInt32, DirRead, "", ""},
	SRTO_RCVBUF:             {"SRTO_RCVBUF", OptInt32, DirReadWrite, "pre-bind", "bytes"},
	SRTO_RCVDATA:            {"SRTO_RCVDATA", OptInt32, DirRead, "", "pkts"},
	SRTO_RCVKMSTATE:         {"SRTO_RCVKMSTATE", OptInt32, DirRead, "", "enum"},
	SRTO_RCVLATENCY:         {"SRTO_RCVLATENCY", OptInt32, DirReadWrite, "pre", "msec"},
	SRTO_RCVSYN:             {"SRTO_RCVSYN", OptBool, DirReadWrite, "post", ""},
	SRTO_RCVTIMEO:           {"SRTO_RCVTIMEO", OptInt32, DirReadWrite, "post", "ms"},
	SRTO_RENDEZVOUS:         {"SRTO_RENDEZVOUS", OptBool, DirReadWrite, "pre", ""},
	SRTO_RETRANSMITALGO:     {"SRTO_RETRANSMITALGO", OptInt32, DirReadWrite, "pre", ""},
	SRTO_REUSEADDR:          {"SRTO_REUSEADDR", OptBool, DirReadWrite, "pre-bind", ""},
	SRTO_SENDER:             {"SRTO_SENDER", OptBool, DirWrite, "pre", ""},
	SRTO_SNDBUF:             {"SRTO_SNDBUF", OptInt32, DirReadWrite, "pre-bind", "bytes"},
	SRTO_SNDDATA:            {"SRTO_SNDDATA", OptInt32, DirRead, "", "pkts"},
	SRTO_SNDDROPDELAY:       {"SRTO_SNDDROPDELAY", OptInt32, DirWrite, "post", "ms"},
	SRTO_SNDKMSTATE:         {"SRTO_SNDKMSTATE", OptInt32, DirRead, "", "enum"},
	SRTO_SNDSYN:             {"SRTO_SNDSYN", OptBool, DirReadWrite, "post", ""},
	SRTO_SNDTIMEO:           {"SRTO_SNDTIMEO", OptInt32, DirReadWrite, "post", "ms"},
	SRTO_STATE:              {"SRTO_STATE", OptInt32, DirRead, "", "enum"},
	SRTO_STREAMID:           {"SRTO_STREAMID", OptString, DirReadWrite, "pre", ""},
	SRTO_TLPKTDROP:          {"SRTO_TLPKTDROP", OptBool, DirReadWrite, "pre", ""},
	SRTO_TRANSTYPE:          {"SRTO_TRANSTYPE", OptInt32, DirWrite, "pre", "enum"},
	SRTO_TSBPDMODE:          {"SRTO_TSBPDMODE", OptBool, DirWrite, "pre", ""},
	SRTO_UDP_RCVBUF:         {"SRTO_UDP_RCVBUF", OptInt32, DirReadWrite, "pre-bind", "bytes"},
	SRTO_UDP_SNDBUF:         {"SRTO_UDP_SNDBUF", OptInt32, DirReadWrite, "pre-bind", "bytes"},
	SRTO_VERSION:            {"SRTO_VERSION", OptInt32, DirRead, "", ""},
}

// Info returns the metadata of an option
func (o SockOpt) Info() (OptInfo, bool) {
	info, ok := optInfos[o]
	return info, ok
}

func (o SockOpt) String() string {
	if info, ok := optInfos[o]; ok {
		return info.Name
	}
	return fmt.Sprintf("SockOpt(%d)", int(o))
}

// Coerce checks that value is usable for the option and converts it to the
// canonical Go type of the option (bool, int32, int64 or string)
func (o SockOpt) Coerce(value any) (any, error) {
	info, ok := optInfos[o]
	if !ok {
		return nil, fmt.Errorf("unknown socket option %d", int(o))
	}

	switch info.Type {
	case OptBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case OptString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case OptInt32, OptLinger:
		if n, ok := toInt64(value); ok {
			return int32(n), nil
		}
		if b, ok := value.(bool); ok && info.Type == OptLinger {
			// linger accepts on/off
			if b {
				return int32(180), nil
			}
			return int32(0), nil
		}
	case OptInt64:
		if n, ok := toInt64(value); ok {
			return n, nil
		}
	}
	return nil, fmt.Errorf("invalid value %v (%T) for %s (type %s)", value, value, info.Name, info.Type)
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint32:
		return int64(v), true
	default:
		return 0, false
	}
}
