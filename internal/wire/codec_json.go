package wire

import (
	"encoding/json"
	"fmt"
)

// jsonEnvelope is the textual/JSON codec's on-wire shape: every frame is a
// {"type": ..., "body": ...} object, the legacy textual codec.
type jsonEnvelope struct {
	Type Type            `json:"type"`
	Body json.RawMessage `json:"body"`
}

// jsonCodec implements Codec using encoding/json. It is negotiated with
// legacy peers that did not advertise CapBinaryCodec at Hello.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Encode(t Type, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("json encode %s: %w", t, err)
	}
	return json.Marshal(jsonEnvelope{Type: t, Body: raw})
}

func (jsonCodec) Decode(payload []byte) (Type, any, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return 0, nil, fmt.Errorf("json decode envelope: %w", err)
	}

	body, err := newBodyFor(env.Type)
	if err != nil {
		return 0, nil, err
	}
	if len(env.Body) > 0 {
		if err := json.Unmarshal(env.Body, body); err != nil {
			return 0, nil, fmt.Errorf("json decode %s body: %w", env.Type, err)
		}
	}
	return env.Type, body, nil
}

// newBodyFor allocates the zero-value struct for a frame type, used by both
// codecs as the unmarshal/decode target.
func newBodyFor(t Type) (any, error) {
	switch t {
	case TypeHello:
		return &Hello{}, nil
	case TypeAuthChallenge:
		return &AuthChallenge{}, nil
	case TypeAuthResponse:
		return &AuthResponse{}, nil
	case TypeAuthOk:
		return &AuthOk{}, nil
	case TypeErrorFrame:
		return &ErrorFrame{}, nil
	case TypeManifest:
		return &Manifest{}, nil
	case TypeManifestAck:
		return &ManifestAck{}, nil
	case TypeChunkBinary:
		return &ChunkBinary{}, nil
	case TypeAck:
		return &Ack{}, nil
	case TypeAckBatch:
		return &AckBatch{}, nil
	case TypeFileDone:
		return &FileDone{}, nil
	case TypeSessionDone:
		return &SessionDone{}, nil
	case TypePing:
		return &Ping{}, nil
	default:
		return nil, ErrUnknownFrameType
	}
}
