// Package messaging implements the wire envelope and the send/receive control flow for direct and group delivery.
package messaging

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EnvelopeVersion is the only wire envelope version this implementation emits or accepts.
const EnvelopeVersion = "2.0"

// Envelope types.
const (
	TypeDirect = "direct"
	TypeGroup  = "group"
)

// Payload carries the encrypted message body.
type Payload struct {
	CiphertextB64 string `json:"ciphertext"`
	NonceB64      string `json:"nonce"`
}

// Envelope is the signed, encrypted unit exchanged between agents.
type Envelope struct {
	Version   string  `json:"version"`
	Type      string  `json:"type"`
	MessageID string  `json:"messageId"`
	Sender    string  `json:"sender"`
	Recipient string  `json:"recipient"`
	GroupID   string  `json:"groupId,omitempty"`
	Timestamp string  `json:"timestamp"`
	Payload   Payload `json:"payload"`
	Signature string  `json:"signature,omitempty"`
}

// SigningBytes returns a deterministic serialization of every envelope field except signature: canonical JSON
// (Go's map-keyed json.Marshal sorts keys) over a map derived from the envelope, with the signature field deleted.
func (e Envelope) SigningBytes() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal envelope to map: %w", err)
	}
	delete(m, "signature")

	return json.Marshal(m)
}

// NewPayload base64-encodes a raw nonce/ciphertext pair into the envelope's wire payload representation.
func NewPayload(nonce, ciphertext []byte) Payload {
	return Payload{
		CiphertextB64: base64.StdEncoding.EncodeToString(ciphertext),
		NonceB64:      base64.StdEncoding.EncodeToString(nonce),
	}
}

// Decode returns the raw nonce and ciphertext bytes from a wire payload.
func (p Payload) Decode() (nonce, ciphertext []byte, err error) {
	nonce, err = base64.StdEncoding.DecodeString(p.NonceB64)
	if err != nil {
		return nil, nil, fmt.Errorf("decode nonce: %w", err)
	}
	ciphertext, err = base64.StdEncoding.DecodeString(p.CiphertextB64)
	if err != nil {
		return nil, nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	return nonce, ciphertext, nil
}
