/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package msp provides a signing identity loaded from a PEM encoded enrollment
// certificate and private key.
package msp

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"math/big"
	"os"

	"github.com/golang/protobuf/proto"
	pb_msp "github.com/hyperledger/fabric-protos-go/msp"
	"github.com/pkg/errors"

	"github.com/hyperledger/fabric-txnflow/pkg/common/providers/msp"
)

// curveHalfOrders holds half the order of each supported curve. A signature
// whose S is above it is replaced by its low-S form.
var curveHalfOrders = map[elliptic.Curve]*big.Int{
	elliptic.P224(): new(big.Int).Rsh(elliptic.P224().Params().N, 1),
	elliptic.P256(): new(big.Int).Rsh(elliptic.P256().Params().N, 1),
	elliptic.P384(): new(big.Int).Rsh(elliptic.P384().Params().N, 1),
	elliptic.P521(): new(big.Int).Rsh(elliptic.P521().Params().N, 1),
}

type ecdsaSignature struct {
	R, S *big.Int
}

// User is a representation of a Fabric user
type User struct {
	mspID                 string
	name                  string
	enrollmentCertificate []byte
	privateKey            *ecdsa.PrivateKey
}

// NewUser returns the user of the given MSP holding the PEM encoded certificate
// and EC private key. The user name is the certificate common name.
func NewUser(mspID string, certPEM, keyPEM []byte) (*User, error) {
	if mspID == "" {
		return nil, errors.New("MSP ID is required")
	}

	cert, err := pemToCertificate(certPEM)
	if err != nil {
		return nil, err
	}
	key, err := pemToPrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}

	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("enrollment certificate does not hold an ECDSA public key")
	}
	if pub.Curve != key.Curve || pub.X.Cmp(key.X) != 0 || pub.Y.Cmp(key.Y) != 0 {
		return nil, errors.New("private key does not match the enrollment certificate")
	}
	if _, ok := curveHalfOrders[key.Curve]; !ok {
		return nil, errors.Errorf("unsupported curve %s", key.Curve.Params().Name)
	}

	return &User{
		mspID:                 mspID,
		name:                  cert.Subject.CommonName,
		enrollmentCertificate: certPEM,
		privateKey:            key,
	}, nil
}

// NewUserFromFiles loads the user from a certificate file and a key file
func NewUserFromFiles(mspID, certPath, keyPath string) (*User, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading enrollment certificate %s failed", certPath)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading private key %s failed", keyPath)
	}
	return NewUser(mspID, certPEM, keyPEM)
}

func pemToCertificate(raw []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("failed decoding enrollment certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "parsing enrollment certificate failed")
	}
	return cert, nil
}

func pemToPrivateKey(raw []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("failed decoding private key PEM")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, errors.New("found unknown private key type in PKCS#8 wrapping")
		}
		return ecKey, nil
	}

	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.New("invalid key type. The DER must contain an ecdsa.PrivateKey")
	}
	return key, nil
}

// Identifier returns user identifier
func (u *User) Identifier() *msp.IdentityIdentifier {
	return &msp.IdentityIdentifier{MSPID: u.mspID, ID: u.name}
}

// EnrollmentCertificate Returns the underlying ECert representing this user’s identity.
func (u *User) EnrollmentCertificate() []byte {
	return u.enrollmentCertificate
}

// Serialize returns a serialized identity
func (u *User) Serialize() ([]byte, error) {
	serializedIdentity := &pb_msp.SerializedIdentity{
		Mspid:   u.mspID,
		IdBytes: u.enrollmentCertificate,
	}
	identity, err := proto.Marshal(serializedIdentity)
	if err != nil {
		return nil, errors.Wrap(err, "marshal serializedIdentity failed")
	}
	return identity, nil
}

// Sign signs the SHA-256 digest of msg. The signature is ASN.1 encoded and always low-S.
func (u *User) Sign(msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)

	r, s, err := ecdsa.Sign(rand.Reader, u.privateKey, digest[:])
	if err != nil {
		return nil, errors.Wrap(err, "ECDSA signing failed")
	}

	halfOrder := curveHalfOrders[u.privateKey.Curve]
	if s.Cmp(halfOrder) > 0 {
		s.Sub(u.privateKey.Params().N, s)
	}

	return asn1.Marshal(ecdsaSignature{R: r, S: s})
}

// Verify checks a signature produced by Sign against the user's public key
func (u *User) Verify(msg, signature []byte) error {
	sig := &ecdsaSignature{}
	rest, err := asn1.Unmarshal(signature, sig)
	if err != nil {
		return errors.Wrap(err, "unmarshal of ECDSA signature failed")
	}
	if len(rest) != 0 || sig.R == nil || sig.S == nil {
		return errors.New("invalid ECDSA signature encoding")
	}
	if sig.S.Cmp(curveHalfOrders[u.privateKey.Curve]) > 0 {
		return errors.New("ECDSA signature is not low-S")
	}

	digest := sha256.Sum256(msg)
	if !ecdsa.Verify(&u.privateKey.PublicKey, digest[:], sig.R, sig.S) {
		return errors.New("ECDSA signature verification failed")
	}
	return nil
}

var _ msp.SigningIdentity = (*User)(nil)
