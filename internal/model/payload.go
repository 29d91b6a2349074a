package model

import "time"

// AlgorithmAESGCM256 is the only algorithm tag currently produced.
const AlgorithmAESGCM256 = "AES-GCM-256"

// EncryptedPayload is the wire and storage representation of one encrypted
// observation. Ciphertext and nonce are base64-encoded by the standard JSON
// []byte encoding. The nonce is generated fresh for every encryption and is
// never reused under the same key.
type EncryptedPayload struct {
	EncryptedData []byte    `json:"encryptedData"`
	Algorithm     string    `json:"algorithm"`
	KeyID         string    `json:"keyId"`
	Timestamp     time.Time `json:"timestamp"`
	Nonce         []byte    `json:"nonce"`
}
