// Package crypto holds the X.509 primitives used by the deployment CA:
// CA generation and loading, client certificate signing, chain
// verification, and PKCS#12 export.
package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// CARequest represents a request to create a Certificate Authority
type CARequest struct {
	Subject      pkix.Name
	RSABits      int
	ValidityDays int
	Digest       string // "sha256", "sha384" or "sha512"
}

// CAResult contains the CA certificate and private key
type CAResult struct {
	Certificate    *x509.Certificate
	CertificatePEM string
	PrivateKey     crypto.Signer
	PrivateKeyPEM  string
}

// GenerateSelfSignedCA generates a self-signed RSA CA
func GenerateSelfSignedCA(req *CARequest) (*CAResult, error) {
	sigAlg, err := SignatureAlgorithm(req.Digest, KeyTypeRSA)
	if err != nil {
		return nil, err
	}

	privateKey, err := GenerateRSAKey(req.RSABits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumber, err := generateSerialNumber()
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	notBefore := time.Now()
	notAfter := notBefore.AddDate(0, 0, req.ValidityDays)

	template := &x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               req.Subject,
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
		SignatureAlgorithm:    sigAlg,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	keyPEM, err := EncodePrivateKeyPEM(privateKey)
	if err != nil {
		return nil, err
	}

	return &CAResult{
		Certificate:    cert,
		CertificatePEM: EncodeCertificatePEM(certDER),
		PrivateKey:     privateKey,
		PrivateKeyPEM:  keyPEM,
	}, nil
}

// LoadCA parses a persisted CA certificate and its private key from PEM
func LoadCA(certPEM, keyPEM []byte) (*CAResult, error) {
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}

	if !cert.IsCA {
		return nil, fmt.Errorf("certificate is not a CA certificate")
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("failed to decode private key PEM")
	}

	var privateKey crypto.Signer
	if key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("unsupported key type")
		}
		privateKey = signer
	} else if key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes); err == nil {
		privateKey = key
	} else if key, err := x509.ParseECPrivateKey(keyBlock.Bytes); err == nil {
		privateKey = key
	} else {
		return nil, fmt.Errorf("failed to parse private key")
	}

	if !verifyKeyPair(cert, privateKey) {
		return nil, fmt.Errorf("private key does not match certificate")
	}

	return &CAResult{
		Certificate:    cert,
		CertificatePEM: string(certPEM),
		PrivateKey:     privateKey,
		PrivateKeyPEM:  string(keyPEM),
	}, nil
}

// Fingerprint returns the hex SHA-256 digest of the certificate's DER encoding
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// Key type names as reported by PublicKeyAlgorithm
const (
	KeyTypeRSA   = "RSA"
	KeyTypeECDSA = "ECDSA"
)

// SignatureAlgorithm maps a digest name and the signing key type to an
// x509 signature algorithm.
func SignatureAlgorithm(digest, keyType string) (x509.SignatureAlgorithm, error) {
	rsaAlgs := map[string]x509.SignatureAlgorithm{
		"sha256": x509.SHA256WithRSA,
		"sha384": x509.SHA384WithRSA,
		"sha512": x509.SHA512WithRSA,
	}
	ecAlgs := map[string]x509.SignatureAlgorithm{
		"sha256": x509.ECDSAWithSHA256,
		"sha384": x509.ECDSAWithSHA384,
		"sha512": x509.ECDSAWithSHA512,
	}

	var alg x509.SignatureAlgorithm
	var ok bool
	switch keyType {
	case KeyTypeRSA:
		alg, ok = rsaAlgs[digest]
	case KeyTypeECDSA:
		alg, ok = ecAlgs[digest]
	default:
		return x509.UnknownSignatureAlgorithm, fmt.Errorf("unsupported key type: %s", keyType)
	}
	if !ok {
		return x509.UnknownSignatureAlgorithm, fmt.Errorf("unsupported digest: %s", digest)
	}
	return alg, nil
}

// PublicKeyAlgorithm names the algorithm of a public key
func PublicKeyAlgorithm(pub crypto.PublicKey) string {
	switch pub.(type) {
	case *rsa.PublicKey:
		return KeyTypeRSA
	case *ecdsa.PublicKey:
		return KeyTypeECDSA
	default:
		return "unknown"
	}
}

// GenerateRSAKey generates an RSA private key
func GenerateRSAKey(bits int) (*rsa.PrivateKey, error) {
	if bits < 2048 {
		return nil, fmt.Errorf("RSA key size must be at least 2048 bits")
	}
	return rsa.GenerateKey(rand.Reader, bits)
}

func generateSerialNumber() (*big.Int, error) {
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, serialNumberLimit)
}

func verifyKeyPair(cert *x509.Certificate, privateKey crypto.Signer) bool {
	switch key := privateKey.(type) {
	case *rsa.PrivateKey:
		pubKey, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return false
		}
		return key.PublicKey.Equal(pubKey)
	case *ecdsa.PrivateKey:
		pubKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
		if !ok {
			return false
		}
		return key.PublicKey.Equal(pubKey)
	default:
		return false
	}
}
