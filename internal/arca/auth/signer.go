package auth

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/lotefact/lotefact/internal/arca/domain"
)

type loginTicketRequest struct {
	XMLName xml.Name `xml:"loginTicketRequest"`
	Version string   `xml:"version,attr"`
	Header  struct {
		UniqueID       uint32 `xml:"uniqueId"`
		GenerationTime string `xml:"generationTime"`
		ExpirationTime string `xml:"expirationTime"`
	} `xml:"header"`
	Service string `xml:"service"`
}

// loginRequestXML renders the ticket request the authority expects inside
// the signed CMS payload. The validity window is deliberately short; the
// authority rejects requests whose generation time drifts too far.
func loginRequestXML(service string, now time.Time) ([]byte, error) {
	var tra loginTicketRequest
	tra.Version = "1.0"
	tra.Header.UniqueID = uuid.New().ID()
	tra.Header.GenerationTime = now.Add(-10 * time.Minute).Format(time.RFC3339)
	tra.Header.ExpirationTime = now.Add(10 * time.Minute).Format(time.RFC3339)
	tra.Service = service
	return xml.Marshal(tra)
}

// OpenSSLSigner signs ticket requests by shelling out to openssl smime.
// No maintained Go module implements the CMS profile the authority
// requires, and the openssl binary is ubiquitous on the hosts this runs
// on.
type OpenSSLSigner struct {
	binary  string
	timeout time.Duration
}

func NewOpenSSLSigner() *OpenSSLSigner {
	return &OpenSSLSigner{binary: "openssl", timeout: 10 * time.Second}
}

func (s *OpenSSLSigner) SignLoginRequest(creds domain.Credentials, service string, now time.Time) ([]byte, error) {
	tra, err := loginRequestXML(service, now)
	if err != nil {
		return nil, fmt.Errorf("auth: encode ticket request: %w", err)
	}

	certFile, err := tempFile("arca-cert-*.pem", creds.Cert)
	if err != nil {
		return nil, err
	}
	defer os.Remove(certFile)
	keyFile, err := tempFile("arca-key-*.pem", creds.Key)
	if err != nil {
		return nil, err
	}
	defer os.Remove(keyFile)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.binary, "smime", "-sign",
		"-signer", certFile,
		"-inkey", keyFile,
		"-outform", "DER",
		"-nodetach",
	)
	cmd.Stdin = bytes.NewReader(tra)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("auth: openssl smime: %v: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func tempFile(pattern string, content []byte) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("auth: temp file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("auth: temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("auth: temp file: %w", err)
	}
	return f.Name(), nil
}
