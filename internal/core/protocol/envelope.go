package protocol

import (
	"github.com/zeusync/worldlink/pkg/codec"
)

// Encode builds the envelope for cmd under request id.
func Encode(cd codec.Codec, id uint64, cmd Command) (*Envelope, error) {
	if cmd == nil {
		return nil, ErrInvalidCommand
	}
	payload, err := cmd.Payload(cd)
	if err != nil {
		return nil, err
	}
	return &Envelope{RequestID: id, Kind: cmd.Kind(), Payload: payload}, nil
}

// MarshalEnvelope encodes env for the wire.
func MarshalEnvelope(cd codec.Codec, env *Envelope) ([]byte, error) {
	return cd.Marshal(env)
}

// UnmarshalEnvelope decodes an inbound request. Malformed input is a ProtocolError.
func UnmarshalEnvelope(cd codec.Codec, data []byte) (*Envelope, error) {
	var env Envelope
	if err := cd.Unmarshal(data, &env); err != nil {
		return nil, NewProtocolError("malformed envelope", err)
	}
	if env.Kind == "" {
		return nil, NewProtocolError("envelope without kind", nil)
	}
	return &env, nil
}

// MarshalReply encodes r for the wire.
func MarshalReply(cd codec.Codec, r *Reply) ([]byte, error) {
	return cd.Marshal(r)
}

// UnmarshalReply decodes an inbound reply. Malformed input is a ProtocolError.
func UnmarshalReply(cd codec.Codec, data []byte) (*Reply, error) {
	var r Reply
	if err := cd.Unmarshal(data, &r); err != nil {
		return nil, NewProtocolError("malformed reply", err)
	}
	if r.RequestID == NotifyID {
		return nil, NewProtocolError("reply without request id", nil)
	}
	return &r, nil
}

// NewResultReply builds a successful reply carrying result.
func NewResultReply(cd codec.Codec, id uint64, result any) (*Reply, error) {
	data, err := cd.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Reply{RequestID: id, OK: true, Result: data}, nil
}

// NewErrorReply builds a failed reply.
func NewErrorReply(id uint64, desc *ErrorDescriptor) *Reply {
	return &Reply{RequestID: id, Error: desc}
}

// DecodeResult decodes the result of a successful reply into dst.
func DecodeResult(cd codec.Codec, r *Reply, dst any) error {
	if err := r.Err(); err != nil {
		return err
	}
	if r.Result.IsNull() {
		return NewProtocolError("reply without result", nil)
	}
	if err := cd.Unmarshal(r.Result, dst); err != nil {
		return NewProtocolError("malformed result", err)
	}
	return nil
}
