package faucet

import (
	"bytes"
	"fmt"
	"strconv"
)

const (
	// lengthDigits is the size of the zero-padded decimal payload-length prefix.
	lengthDigits = 9
	// SignatureLen is the detached nacl signature length.
	SignatureLen = 64
	// maxPayloadLen is the largest payload the length prefix can express.
	maxPayloadLen = 999999999
)

// EncodeFrame builds the plaintext frame sent to the external faucet server:
// a 9-digit zero-padded decimal payload length, the sender's server name, the
// JSON payload and a detached 64-byte signature over the payload.
func EncodeFrame(serverName string, payload, signature []byte) ([]byte, error) {
	if serverName == "" {
		return nil, fmt.Errorf("server name must not be empty")
	}
	if len(payload) > maxPayloadLen {
		return nil, fmt.Errorf("payload of %d bytes exceeds frame limit", len(payload))
	}
	if len(signature) != SignatureLen {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", SignatureLen, len(signature))
	}

	frame := make([]byte, 0, lengthDigits+len(serverName)+len(payload)+SignatureLen)
	frame = append(frame, fmt.Sprintf("%0*d", lengthDigits, len(payload))...)
	frame = append(frame, serverName...)
	frame = append(frame, payload...)
	frame = append(frame, signature...)
	return frame, nil
}

// DecodeFrame splits a frame produced by EncodeFrame, verifying the length
// prefix and the embedded server name.
func DecodeFrame(frame []byte, serverName string) (payload, signature []byte, err error) {
	if len(frame) < lengthDigits+len(serverName)+SignatureLen {
		return nil, nil, fmt.Errorf("frame of %d bytes is too short", len(frame))
	}

	payloadLen, err := strconv.Atoi(string(frame[:lengthDigits]))
	if err != nil {
		return nil, nil, fmt.Errorf("malformed length prefix %q: %w", frame[:lengthDigits], err)
	}
	rest := frame[lengthDigits:]

	if !bytes.HasPrefix(rest, []byte(serverName)) {
		return nil, nil, fmt.Errorf("frame does not carry expected server name %q", serverName)
	}
	rest = rest[len(serverName):]

	if len(rest) != payloadLen+SignatureLen {
		return nil, nil, fmt.Errorf("frame body is %d bytes, length prefix says %d plus signature", len(rest), payloadLen)
	}
	return rest[:payloadLen], rest[payloadLen:], nil
}
