package faucet

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"address":"5Abc","timestamp":"2024-01-01T00:00:00Z"}`)
	signature := bytes.Repeat([]byte{0x7f}, SignatureLen)

	frame, err := EncodeFrame("alpha", payload, signature)
	require.NoError(t, err)

	// 9-digit length prefix, then the server name, payload and signature.
	assert.Equal(t, fmt.Sprintf("%09d", len(payload)), string(frame[:9]))
	assert.Equal(t, []byte("alpha"), frame[9:14])

	gotPayload, gotSig, err := DecodeFrame(frame, "alpha")
	require.NoError(t, err)
	assert.Equal(t, payload, gotPayload)
	assert.Equal(t, signature, gotSig)
}

func TestEncodeFrameValidation(t *testing.T) {
	payload := []byte("{}")

	_, err := EncodeFrame("", payload, make([]byte, SignatureLen))
	assert.Error(t, err, "empty server name")

	_, err = EncodeFrame("alpha", payload, make([]byte, 10))
	assert.Error(t, err, "short signature")
}

func TestDecodeFrameRejectsCorruption(t *testing.T) {
	frame, err := EncodeFrame("alpha", []byte("{}"), make([]byte, SignatureLen))
	require.NoError(t, err)

	t.Run("wrong server name", func(t *testing.T) {
		_, _, err := DecodeFrame(frame, "beta")
		assert.Error(t, err)
	})

	t.Run("truncated frame", func(t *testing.T) {
		_, _, err := DecodeFrame(frame[:len(frame)-1], "alpha")
		assert.Error(t, err)
	})

	t.Run("garbled length prefix", func(t *testing.T) {
		bad := append([]byte{}, frame...)
		bad[0] = 'x'
		_, _, err := DecodeFrame(bad, "alpha")
		assert.Error(t, err)
	})

	t.Run("too short", func(t *testing.T) {
		_, _, err := DecodeFrame([]byte("000"), "alpha")
		assert.Error(t, err)
	})
}
