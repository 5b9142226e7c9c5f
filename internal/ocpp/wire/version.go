package wire

type Version string

const (
	V16  Version = "ocpp1.6"
	V201 Version = "ocpp2.0.1"
)

// Subprotocols lists the dialects in server preference order.
var Subprotocols = []string{string(V201), string(V16)}

// VersionFromSubprotocol maps a negotiated subprotocol to a dialect. A station
// that negotiated nothing is assumed to speak 1.6.
func VersionFromSubprotocol(p string) Version {
	switch Version(p) {
	case V201:
		return V201
	default:
		return V16
	}
}

func (v Version) String() string { return string(v) }
