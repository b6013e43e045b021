package ecc

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var (
	oidPublicKeyECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidSecp256k1      = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
)

const (
	pemPrivateKey = "PRIVATE KEY"
	pemPublicKey  = "PUBLIC KEY"

	ecPrivKeyVersion = 1
)

type PrivateKey = secp256k1.PrivateKey
type PublicKey = secp256k1.PublicKey

// KeyPair holds a freshly generated key pair in its PEM forms.
type KeyPair struct {
	PrivateKeyPEM []byte
	PublicKeyPEM  []byte
}

type pkcs8 struct {
	Version    int
	Algo       pkix.AlgorithmIdentifier
	PrivateKey []byte
}

type ecPrivateKey struct {
	Version       int
	PrivateKey    []byte
	NamedCurveOID asn1.ObjectIdentifier `asn1:"optional,explicit,tag:0"`
	PublicKey     asn1.BitString        `asn1:"optional,explicit,tag:1"`
}

type subjectPublicKeyInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

// GenerateKeyPair creates a secp256k1 key pair encoded as PKCS#8 and SPKI PEM.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generating secp256k1 key: %w", err)
	}
	privPEM, err := MarshalPrivateKeyPEM(priv)
	if err != nil {
		return nil, err
	}
	pubPEM, err := MarshalPublicKeyPEM(priv.PubKey())
	if err != nil {
		return nil, err
	}
	return &KeyPair{PrivateKeyPEM: privPEM, PublicKeyPEM: pubPEM}, nil
}

func curveAlgorithm() (pkix.AlgorithmIdentifier, error) {
	params, err := asn1.Marshal(oidSecp256k1)
	if err != nil {
		return pkix.AlgorithmIdentifier{}, err
	}
	return pkix.AlgorithmIdentifier{
		Algorithm:  oidPublicKeyECDSA,
		Parameters: asn1.RawValue{FullBytes: params},
	}, nil
}

func checkAlgorithm(algo pkix.AlgorithmIdentifier) error {
	if !algo.Algorithm.Equal(oidPublicKeyECDSA) {
		return errors.New("not an EC key")
	}
	var curve asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(algo.Parameters.FullBytes, &curve); err != nil {
		return fmt.Errorf("reading curve parameters: %w", err)
	}
	if !curve.Equal(oidSecp256k1) {
		return fmt.Errorf("unsupported curve %v", curve)
	}
	return nil
}

func MarshalPrivateKeyPEM(priv *PrivateKey) ([]byte, error) {
	algo, err := curveAlgorithm()
	if err != nil {
		return nil, err
	}
	pub := priv.PubKey().SerializeUncompressed()
	inner, err := asn1.Marshal(ecPrivateKey{
		Version:    ecPrivKeyVersion,
		PrivateKey: priv.Serialize(),
		PublicKey:  asn1.BitString{Bytes: pub, BitLength: 8 * len(pub)},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal sec1: %w", err)
	}
	der, err := asn1.Marshal(pkcs8{Algo: algo, PrivateKey: inner})
	if err != nil {
		return nil, fmt.Errorf("marshal pkcs8: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPrivateKey, Bytes: der}), nil
}

func MarshalPublicKeyPEM(pub *PublicKey) ([]byte, error) {
	algo, err := curveAlgorithm()
	if err != nil {
		return nil, err
	}
	raw := pub.SerializeUncompressed()
	der, err := asn1.Marshal(subjectPublicKeyInfo{
		Algorithm: algo,
		PublicKey: asn1.BitString{Bytes: raw, BitLength: 8 * len(raw)},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal spki: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPublicKey, Bytes: der}), nil
}

func ParsePrivateKeyPEM(data []byte) (*PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemPrivateKey {
		return nil, errors.New("no PKCS#8 private key block")
	}
	var p pkcs8
	if _, err := asn1.Unmarshal(block.Bytes, &p); err != nil {
		return nil, fmt.Errorf("parse pkcs8: %w", err)
	}
	if err := checkAlgorithm(p.Algo); err != nil {
		return nil, err
	}
	var inner ecPrivateKey
	if _, err := asn1.Unmarshal(p.PrivateKey, &inner); err != nil {
		return nil, fmt.Errorf("parse sec1: %w", err)
	}
	if inner.Version != ecPrivKeyVersion {
		return nil, fmt.Errorf("unknown EC private key version %d", inner.Version)
	}
	if len(inner.PrivateKey) == 0 || len(inner.PrivateKey) > 32 {
		return nil, errors.New("invalid private key length")
	}
	scalar := make([]byte, 32)
	copy(scalar[32-len(inner.PrivateKey):], inner.PrivateKey)
	return secp256k1.PrivKeyFromBytes(scalar), nil
}

func ParsePublicKeyPEM(data []byte) (*PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemPublicKey {
		return nil, errors.New("no SPKI public key block")
	}
	var info subjectPublicKeyInfo
	if _, err := asn1.Unmarshal(block.Bytes, &info); err != nil {
		return nil, fmt.Errorf("parse spki: %w", err)
	}
	if err := checkAlgorithm(info.Algorithm); err != nil {
		return nil, err
	}
	return secp256k1.ParsePubKey(info.PublicKey.RightAlign())
}
