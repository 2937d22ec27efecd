package message

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DomainMessage separates message digests from other hashes.
const DomainMessage = "hgpeer/message/v1"

// Digest returns the hex SHA-256 of the canonical form of m,
// prefixed with DomainMessage and a NUL separator.
func Digest(m Message) (string, error) {
	data, err := MarshalCanonical(m)
	if err != nil {
		return "", fmt.Errorf("digest: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(DomainMessage))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Encode renders m in its wire form (canonical JSON).
func Encode(m Message) ([]byte, error) {
	data, err := MarshalCanonical(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Decode parses the wire form produced by Encode.
// Numbers are kept as json.Number so integers survive the round trip.
func Decode(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m Message
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("decode message: empty envelope")
	}
	return m, nil
}
