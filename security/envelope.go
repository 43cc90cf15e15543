package security

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Sealed tokens are stored as
//
//	sqbff1.<key id>.<key version>.<nonce>.<ciphertext>
//
// with raw URL base64 for the binary parts. The first three fields form the
// header, which is authenticated as GCM additional data.
const (
	envelopeTag       = "sqbff1"
	envelopeSeparator = "."
	envelopeAlgorithm = "aes-256-gcm"
	envelopeFields    = 5
)

var payloadEncoding = base64.RawURLEncoding

type envelope struct {
	keyID      string
	version    int
	nonce      []byte
	ciphertext []byte
}

// EnvelopeMetadata identifies the key a stored ciphertext was sealed with.
type EnvelopeMetadata struct {
	KeyID     string
	Version   int
	Algorithm string
}

func ParseEnvelopeMetadata(ciphertext []byte) (EnvelopeMetadata, error) {
	env, err := decodeEnvelope(ciphertext)
	if err != nil {
		return EnvelopeMetadata{}, err
	}
	return EnvelopeMetadata{
		KeyID:     env.keyID,
		Version:   env.version,
		Algorithm: envelopeAlgorithm,
	}, nil
}

// IsEnvelope reports whether value looks like a sealed token.
func IsEnvelope(value []byte) bool {
	return strings.HasPrefix(string(value), envelopeTag+envelopeSeparator)
}

func envelopeHeader(keyID string, version int) (string, error) {
	if keyID == "" || strings.ContainsAny(keyID, envelopeSeparator+" \t\n") {
		return "", fmt.Errorf("security: key id %q cannot be used in an envelope", keyID)
	}
	if version <= 0 {
		return "", fmt.Errorf("security: key version must be positive")
	}
	return strings.Join([]string{envelopeTag, keyID, strconv.Itoa(version)}, envelopeSeparator), nil
}

func (e envelope) header() (string, error) {
	return envelopeHeader(e.keyID, e.version)
}

func encodeEnvelope(env envelope) ([]byte, error) {
	header, err := env.header()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(header)+payloadEncoding.EncodedLen(len(env.nonce))+payloadEncoding.EncodedLen(len(env.ciphertext))+2)
	out = append(out, header...)
	out = append(out, envelopeSeparator...)
	out = payloadEncoding.AppendEncode(out, env.nonce)
	out = append(out, envelopeSeparator...)
	out = payloadEncoding.AppendEncode(out, env.ciphertext)
	return out, nil
}

func decodeEnvelope(value []byte) (envelope, error) {
	if len(value) == 0 {
		return envelope{}, fmt.Errorf("security: ciphertext is required")
	}
	if !IsEnvelope(value) {
		return envelope{}, fmt.Errorf("security: value is not a sealed token")
	}
	fields := strings.Split(string(value), envelopeSeparator)
	if len(fields) != envelopeFields {
		return envelope{}, fmt.Errorf("security: sealed token has %d fields, want %d", len(fields), envelopeFields)
	}
	version, err := strconv.Atoi(fields[2])
	if err != nil || version <= 0 {
		return envelope{}, fmt.Errorf("security: sealed token version %q is invalid", fields[2])
	}
	nonce, err := payloadEncoding.DecodeString(fields[3])
	if err != nil || len(nonce) == 0 {
		return envelope{}, fmt.Errorf("security: sealed token nonce is invalid")
	}
	ciphertext, err := payloadEncoding.DecodeString(fields[4])
	if err != nil || len(ciphertext) == 0 {
		return envelope{}, fmt.Errorf("security: sealed token ciphertext is invalid")
	}
	return envelope{
		keyID:      fields[1],
		version:    version,
		nonce:      nonce,
		ciphertext: ciphertext,
	}, nil
}
