/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package msp

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/protobuf/proto"
	pb_msp "github.com/hyperledger/fabric-protos-go/msp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUserMSPID = "Org1MSP"
	testUsername  = "User1@org1.example.com"
)

func generateCredentials(t *testing.T, curve elliptic.Curve, pkcs8 bool) (certPEM, keyPEM []byte) {
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: testUsername, Organization: []string{"org1.example.com"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	var keyDER []byte
	keyType := "EC PRIVATE KEY"
	if pkcs8 {
		keyDER, err = x509.MarshalPKCS8PrivateKey(key)
		keyType = "PRIVATE KEY"
	} else {
		keyDER, err = x509.MarshalECPrivateKey(key)
	}
	require.NoError(t, err)
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: keyType, Bytes: keyDER})
	return certPEM, keyPEM
}

func TestUserMethods(t *testing.T) {
	certPEM, keyPEM := generateCredentials(t, elliptic.P256(), true)

	user, err := NewUser(testUserMSPID, certPEM, keyPEM)
	require.NoError(t, err)

	id := user.Identifier()
	assert.Equal(t, testUserMSPID, id.MSPID)
	assert.Equal(t, testUsername, id.ID)
	assert.Equal(t, certPEM, user.EnrollmentCertificate())

	serialized, err := user.Serialize()
	require.NoError(t, err)
	sid := &pb_msp.SerializedIdentity{}
	require.NoError(t, proto.Unmarshal(serialized, sid))
	assert.Equal(t, testUserMSPID, sid.Mspid)
	assert.Equal(t, certPEM, sid.IdBytes)
}

func TestSignIsLowS(t *testing.T) {
	for _, curve := range []elliptic.Curve{elliptic.P256(), elliptic.P384()} {
		t.Run(curve.Params().Name, func(t *testing.T) {
			certPEM, keyPEM := generateCredentials(t, curve, false)
			user, err := NewUser(testUserMSPID, certPEM, keyPEM)
			require.NoError(t, err)

			msg := []byte("proposal bytes")
			halfOrder := new(big.Int).Rsh(curve.Params().N, 1)

			// enough signatures that a high S would have been produced without normalization
			for i := 0; i < 32; i++ {
				signature, err := user.Sign(msg)
				require.NoError(t, err)

				sig := &ecdsaSignature{}
				_, err = asn1.Unmarshal(signature, sig)
				require.NoError(t, err)
				assert.True(t, sig.S.Cmp(halfOrder) <= 0, "signature is not low-S")

				require.NoError(t, user.Verify(msg, signature))
			}

			signature, err := user.Sign(msg)
			require.NoError(t, err)
			assert.Error(t, user.Verify([]byte("other bytes"), signature))
		})
	}
}

func TestVerifyRejectsHighS(t *testing.T) {
	certPEM, keyPEM := generateCredentials(t, elliptic.P256(), true)
	user, err := NewUser(testUserMSPID, certPEM, keyPEM)
	require.NoError(t, err)

	signature, err := user.Sign([]byte("msg"))
	require.NoError(t, err)
	sig := &ecdsaSignature{}
	_, err = asn1.Unmarshal(signature, sig)
	require.NoError(t, err)

	sig.S.Sub(elliptic.P256().Params().N, sig.S)
	highS, err := asn1.Marshal(*sig)
	require.NoError(t, err)
	assert.EqualError(t, user.Verify([]byte("msg"), highS), "ECDSA signature is not low-S")
}

func TestNewUserErrors(t *testing.T) {
	certPEM, keyPEM := generateCredentials(t, elliptic.P256(), true)
	_, otherKeyPEM := generateCredentials(t, elliptic.P256(), true)

	_, err := NewUser("", certPEM, keyPEM)
	assert.EqualError(t, err, "MSP ID is required")

	_, err = NewUser(testUserMSPID, []byte("not a pem"), keyPEM)
	assert.EqualError(t, err, "failed decoding enrollment certificate PEM")

	_, err = NewUser(testUserMSPID, certPEM, []byte("not a pem"))
	assert.EqualError(t, err, "failed decoding private key PEM")

	_, err = NewUser(testUserMSPID, certPEM, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte("garbage")}))
	assert.Error(t, err)

	_, err = NewUser(testUserMSPID, certPEM, otherKeyPEM)
	assert.EqualError(t, err, "private key does not match the enrollment certificate")
}

func TestNewUserFromFiles(t *testing.T) {
	certPEM, keyPEM := generateCredentials(t, elliptic.P256(), false)

	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "priv_sk")
	require.NoError(t, os.WriteFile(certPath, certPEM, 0600))
	require.NoError(t, os.WriteFile(keyPath, keyPEM, 0600))

	user, err := NewUserFromFiles(testUserMSPID, certPath, keyPath)
	require.NoError(t, err)
	assert.Equal(t, testUsername, user.Identifier().ID)

	_, err = NewUserFromFiles(testUserMSPID, filepath.Join(dir, "missing.pem"), keyPath)
	assert.Error(t, err)

	_, err = NewUserFromFiles(testUserMSPID, certPath, filepath.Join(dir, "missing_sk"))
	assert.Error(t, err)
}
