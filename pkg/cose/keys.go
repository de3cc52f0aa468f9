// Package cose provides the ES256 key handling and COSE_Sign1 operations
// used to sign commit receipts.
package cose

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"

	gocose "github.com/veraison/go-cose"
)

// ES256KeyPair holds an ECDSA P-256 key pair
type ES256KeyPair struct {
	Private *ecdsa.PrivateKey
	Public  *ecdsa.PublicKey
}

// GenerateES256KeyPair generates a new ES256 (ECDSA P-256 with SHA-256) key pair
func GenerateES256KeyPair() (*ES256KeyPair, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ES256 key pair: %w", err)
	}

	return &ES256KeyPair{
		Private: privateKey,
		Public:  &privateKey.PublicKey,
	}, nil
}

// ExportPrivateKeyToPEM exports the private key to PEM format (PKCS#8)
func ExportPrivateKeyToPEM(privateKey *ecdsa.PrivateKey) (string, error) {
	if privateKey == nil {
		return "", errors.New("private key is nil")
	}

	derBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}

	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: derBytes})), nil
}

// ExportPublicKeyToPEM exports the public key to PEM format (SPKI)
func ExportPublicKeyToPEM(publicKey *ecdsa.PublicKey) (string, error) {
	if publicKey == nil {
		return "", errors.New("public key is nil")
	}

	derBytes, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: derBytes})), nil
}

// ImportPrivateKeyFromPEM imports a P-256 private key from PEM format (PKCS#8)
func ImportPrivateKeyFromPEM(pemData string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	if block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("unexpected PEM block type: %s", block.Type)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
	}

	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("key is not an ECDSA private key")
	}
	if ecKey.Curve != elliptic.P256() {
		return nil, errors.New("only P-256 curve is supported")
	}

	return ecKey, nil
}

// ImportPublicKeyFromPEM imports a P-256 public key from PEM format (SPKI)
func ImportPublicKeyFromPEM(pemData string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	if block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("unexpected PEM block type: %s", block.Type)
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	ecKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("key is not an ECDSA public key")
	}
	if ecKey.Curve != elliptic.P256() {
		return nil, errors.New("only P-256 curve is supported")
	}

	return ecKey, nil
}

// LoadPrivateKey reads a PEM private key file
func LoadPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return ImportPrivateKeyFromPEM(string(data))
}

// LoadPublicKey reads a PEM public key file
func LoadPublicKey(path string) (*ecdsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	return ImportPublicKeyFromPEM(string(data))
}

// SaveKeyPair writes the key pair as PEM files. The private key is only readable by the owner.
func SaveKeyPair(keyPair *ES256KeyPair, privatePath, publicPath string) error {
	privatePEM, err := ExportPrivateKeyToPEM(keyPair.Private)
	if err != nil {
		return err
	}
	publicPEM, err := ExportPublicKeyToPEM(keyPair.Public)
	if err != nil {
		return err
	}

	if err := os.WriteFile(privatePath, []byte(privatePEM), 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(publicPath, []byte(publicPEM), 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}
	return nil
}

// ExportPublicKeyToCOSECBOR exports a public key as an ES256 EC2 COSE_Key in CBOR format
func ExportPublicKeyToCOSECBOR(publicKey *ecdsa.PublicKey) ([]byte, error) {
	coseKey, err := publicCOSEKey(publicKey)
	if err != nil {
		return nil, err
	}

	cborData, err := coseKey.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal COSE key to CBOR: %w", err)
	}

	return cborData, nil
}

// ImportPublicKeyFromCOSECBOR imports a public key from COSE_Key CBOR format
func ImportPublicKeyFromCOSECBOR(cborData []byte) (*ecdsa.PublicKey, error) {
	if len(cborData) == 0 {
		return nil, errors.New("CBOR data is empty")
	}

	coseKey := &gocose.Key{}
	if err := coseKey.UnmarshalCBOR(cborData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal CBOR to COSE key: %w", err)
	}

	_, x, y, _ := coseKey.EC2()
	if len(x) == 0 || len(y) == 0 {
		return nil, errors.New("missing EC2 coordinates in COSE key")
	}
	if coseKey.Algorithm != gocose.AlgorithmES256 {
		return nil, fmt.Errorf("unsupported algorithm: expected ES256, got %v", coseKey.Algorithm)
	}

	publicKey := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}
	if !publicKey.Curve.IsOnCurve(publicKey.X, publicKey.Y) {
		return nil, errors.New("public key point is not on P-256 curve")
	}

	return publicKey, nil
}

// KeyID returns the hex SHA-256 of the key's COSE_Key encoding (RFC 9679 style thumbprint)
func KeyID(publicKey *ecdsa.PublicKey) (string, error) {
	cborData, err := ExportPublicKeyToCOSECBOR(publicKey)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", sha256.Sum256(cborData)), nil
}

func publicCOSEKey(publicKey *ecdsa.PublicKey) (*gocose.Key, error) {
	if publicKey == nil {
		return nil, errors.New("public key is nil")
	}
	if publicKey.Curve != elliptic.P256() {
		return nil, errors.New("only P-256 curve is supported")
	}

	coseKey, err := gocose.NewKeyEC2(gocose.AlgorithmES256, publicKey.X.FillBytes(make([]byte, 32)), publicKey.Y.FillBytes(make([]byte, 32)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create COSE EC2 key: %w", err)
	}
	return coseKey, nil
}
