package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// LeafRequest describes a client certificate to be signed by the CA.
// The caller owns serial assignment.
type LeafRequest struct {
	PublicKey crypto.PublicKey
	Subject   pkix.Name
	Serial    *big.Int
	NotBefore time.Time
	NotAfter  time.Time
	Digest    string
}

// LeafResult contains a signed client certificate
type LeafResult struct {
	Certificate    *x509.Certificate
	CertificatePEM string
}

// SignClientCertificate signs a client-authentication certificate binding
// req.PublicKey to req.Subject.
func SignClientCertificate(req *LeafRequest, caCert *x509.Certificate, caKey crypto.Signer) (*LeafResult, error) {
	if caCert == nil || caKey == nil {
		return nil, fmt.Errorf("CA key material unavailable")
	}
	if req.PublicKey == nil {
		return nil, fmt.Errorf("public key is required")
	}
	if req.Serial == nil || req.Serial.Sign() <= 0 {
		return nil, fmt.Errorf("serial must be positive")
	}
	if !req.NotAfter.After(req.NotBefore) {
		return nil, fmt.Errorf("validity window is empty")
	}

	sigAlg, err := SignatureAlgorithm(req.Digest, PublicKeyAlgorithm(caKey.Public()))
	if err != nil {
		return nil, err
	}

	keyUsage := x509.KeyUsageDigitalSignature
	if _, ok := req.PublicKey.(*rsa.PublicKey); ok {
		keyUsage |= x509.KeyUsageKeyEncipherment
	}

	template := &x509.Certificate{
		SerialNumber:          req.Serial,
		Subject:               req.Subject,
		NotBefore:             req.NotBefore,
		NotAfter:              req.NotAfter,
		KeyUsage:              keyUsage,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
		SignatureAlgorithm:    sigAlg,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, caCert, req.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &LeafResult{
		Certificate:    cert,
		CertificatePEM: EncodeCertificatePEM(certDER),
	}, nil
}

// ParseCSRPEM parses a PEM certificate signing request and checks its self-signature
func ParseCSRPEM(csrPEM []byte) (*x509.CertificateRequest, error) {
	block, _ := pem.Decode(csrPEM)
	if block == nil || (block.Type != "CERTIFICATE REQUEST" && block.Type != "NEW CERTIFICATE REQUEST") {
		return nil, fmt.Errorf("failed to decode certificate request PEM")
	}

	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate request: %w", err)
	}

	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("certificate request signature invalid: %w", err)
	}

	return csr, nil
}

// VerifyClientCertificate checks that cert chains to caCert, is valid for
// client authentication, and is inside its validity window at now.
func VerifyClientCertificate(cert, caCert *x509.Certificate, now time.Time) error {
	roots := x509.NewCertPool()
	roots.AddCert(caCert)

	chains, err := cert.Verify(x509.VerifyOptions{
		Roots:       roots,
		CurrentTime: now,
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	if err != nil {
		return fmt.Errorf("certificate not valid under this authority: %w", err)
	}
	if len(chains) == 0 {
		return fmt.Errorf("certificate not valid under this authority")
	}
	return nil
}
