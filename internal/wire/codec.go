package wire

// Codec encodes and decodes frame bodies to and from envelope payloads.
// Two implementations exist: jsonCodec (legacy, textual) and binaryCodec
// (compact, raw chunk bytes). A connection picks exactly one at AuthOk and
// uses it for the rest of its lifetime.
type Codec interface {
	Name() string
	Encode(t Type, body any) ([]byte, error)
	Decode(payload []byte) (Type, any, error)
}

// JSONCodec and BinaryCodec are the two codec singletons negotiated during
// handshake.
var (
	JSONCodec   Codec = jsonCodec{}
	BinaryCodec Codec = binaryCodec{}
)

// NegotiateCodec picks the codec for a connection given the capabilities
// both peers advertised at Hello/AuthOk. Binary wins whenever both sides
// support it; legacy JSON is the universal fallback.
func NegotiateCodec(localCaps, remoteCaps []string) Codec {
	if hasCap(localCaps, CapBinaryCodec) && hasCap(remoteCaps, CapBinaryCodec) {
		return BinaryCodec
	}
	return JSONCodec
}

// CapabilityEnabled reports whether an optional capability is active for a
// connection: both sides advertise it and the negotiated version meets the
// capability's minimum-version floor.
func CapabilityEnabled(capName string, localCaps, remoteCaps []string, version int) bool {
	min, ok := MinVersionFor[capName]
	if !ok || version < min {
		return false
	}
	return hasCap(localCaps, capName) && hasCap(remoteCaps, capName)
}

func hasCap(caps []string, want string) bool {
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}

// DefaultCapabilities lists the capabilities this build advertises at Hello.
func DefaultCapabilities() []string {
	return []string{CapBinaryCodec, CapAckBatch, CapPipelining}
}
