package cose

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	gocose "github.com/veraison/go-cose"
)

// ErrSignatureInvalid is returned when a COSE_Sign1 signature does not verify
var ErrSignatureInvalid = errors.New("COSE_Sign1 signature verification failed")

// Signer produces tagged COSE_Sign1 messages with an ES256 key
type Signer struct {
	signer gocose.Signer
	keyID  string
}

// NewSigner creates an ES256 COSE signer. The kid header carries the key thumbprint.
func NewSigner(privateKey *ecdsa.PrivateKey) (*Signer, error) {
	if privateKey == nil {
		return nil, errors.New("private key is nil")
	}

	signer, err := gocose.NewSigner(gocose.AlgorithmES256, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create COSE signer: %w", err)
	}

	keyID, err := KeyID(&privateKey.PublicKey)
	if err != nil {
		return nil, err
	}

	return &Signer{signer: signer, keyID: keyID}, nil
}

// KeyID returns the kid placed in every signed message
func (s *Signer) KeyID() string {
	return s.keyID
}

// Sign1 signs payload with contentType in the protected header and returns
// the CBOR encoding of the tagged COSE_Sign1 message
func (s *Signer) Sign1(payload []byte, contentType string) ([]byte, error) {
	msg := gocose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(gocose.AlgorithmES256)
	msg.Headers.Protected[gocose.HeaderLabelKeyID] = []byte(s.keyID)
	if contentType != "" {
		msg.Headers.Protected[gocose.HeaderLabelContentType] = contentType
	}
	msg.Payload = payload

	if err := msg.Sign(rand.Reader, nil, s.signer); err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	encoded, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("failed to encode COSE Sign1: %w", err)
	}
	return encoded, nil
}

// Verify1 checks a tagged COSE_Sign1 message against publicKey and returns its payload
func Verify1(encoded []byte, publicKey *ecdsa.PublicKey) ([]byte, error) {
	if publicKey == nil {
		return nil, errors.New("public key is nil")
	}

	var msg gocose.Sign1Message
	if err := msg.UnmarshalCBOR(encoded); err != nil {
		return nil, fmt.Errorf("failed to decode COSE Sign1: %w", err)
	}

	alg, err := msg.Headers.Protected.Algorithm()
	if err != nil {
		return nil, fmt.Errorf("failed to read algorithm: %w", err)
	}
	if alg != gocose.AlgorithmES256 {
		return nil, fmt.Errorf("unsupported algorithm: %v", alg)
	}

	verifier, err := gocose.NewVerifier(gocose.AlgorithmES256, publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create COSE verifier: %w", err)
	}

	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	return msg.Payload, nil
}
