package protocol

import (
	"bytes"
	"compress/flate"
	"encoding/json"
	"fmt"
	"io"
)

// CompressThreshold is the envelope size above which Encode applies flate.
// Small frames are cheaper to send raw than to compress.
const CompressThreshold = 100

// Compressed envelopes are sent as binary messages with this leading byte,
// keeping them distinguishable from position/input frames.
const frameKindDeflate uint8 = 0

// Encode marshals an envelope to its wire form. Returns the payload bytes
// and whether the result must be sent as a binary websocket message.
func Encode(env Envelope) ([]byte, bool, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, false, fmt.Errorf("%w: marshal envelope: %v", ErrInternal, err)
	}
	if len(raw) <= CompressThreshold {
		return raw, false, nil
	}

	var buf bytes.Buffer
	buf.WriteByte(frameKindDeflate)
	w, err := flate.NewWriter(&buf, flate.BestSpeed)
	if err != nil {
		return nil, false, fmt.Errorf("%w: flate init: %v", ErrInternal, err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, false, fmt.Errorf("%w: flate write: %v", ErrInternal, err)
	}
	if err := w.Close(); err != nil {
		return nil, false, fmt.Errorf("%w: flate close: %v", ErrInternal, err)
	}
	// Compression can inflate small high-entropy payloads; keep whichever
	// form is smaller.
	if buf.Len() >= len(raw) {
		return raw, false, nil
	}
	return buf.Bytes(), true, nil
}

// DecodeText parses a JSON text message into an envelope.
func DecodeText(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: malformed frame: %v", ErrProtocol, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type tag", ErrProtocol)
	}
	return env, nil
}

// DecodeBinary parses a binary message: either a deflated envelope or one
// of the compact frames. Exactly one of the returns is populated.
func DecodeBinary(raw []byte) (env *Envelope, pos *PositionFrame, in *InputFrame, err error) {
	if len(raw) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: empty binary frame", ErrProtocol)
	}
	switch raw[0] {
	case frameKindDeflate:
		r := flate.NewReader(bytes.NewReader(raw[1:]))
		defer r.Close()
		inflated, rerr := io.ReadAll(io.LimitReader(r, maxInflatedSize+1))
		if rerr != nil {
			return nil, nil, nil, fmt.Errorf("%w: inflate: %v", ErrProtocol, rerr)
		}
		if len(inflated) > maxInflatedSize {
			return nil, nil, nil, fmt.Errorf("%w: inflated frame too large", ErrProtocol)
		}
		e, derr := DecodeText(inflated)
		if derr != nil {
			return nil, nil, nil, derr
		}
		return &e, nil, nil, nil
	case FrameKindPosition:
		p, derr := DecodePositionFrame(raw)
		if derr != nil {
			return nil, nil, nil, derr
		}
		return nil, &p, nil, nil
	case FrameKindInput:
		f, derr := DecodeInputFrame(raw)
		if derr != nil {
			return nil, nil, nil, derr
		}
		return nil, nil, &f, nil
	default:
		return nil, nil, nil, fmt.Errorf("%w: unknown frame kind %d", ErrProtocol, raw[0])
	}
}

// maxInflatedSize bounds decompressed client frames (zip-bomb protection).
const maxInflatedSize = 1 << 20
