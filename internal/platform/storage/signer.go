package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/iam/credentials/apiv1/credentialspb"
	"github.com/googleapis/gax-go/v2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// Signer produces the GoogleAccessId and RSA-SHA256 signature of a V4 signed URL.
type Signer interface {
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

var (
	errEmptyPayload   = errors.New("storage: payload is empty")
	errSignerNotReady = errors.New("storage: signer not initialised")
)

func checkPayload(ctx context.Context, payload []byte) error {
	if len(payload) == 0 {
		return errEmptyPayload
	}
	return ctx.Err()
}

// ServiceAccountSigner signs in process with a service account key file. Used in local
// development where the IAM Credentials API is not reachable.
type ServiceAccountSigner struct {
	email string
	key   *rsa.PrivateKey
}

func NewServiceAccountSignerFromFile(path string) (*ServiceAccountSigner, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: read service account file: %w", err)
	}
	return NewServiceAccountSignerFromJSON(raw)
}

// NewServiceAccountSignerFromJSON needs client_email and an RSA private_key (PKCS#8 or PKCS#1 PEM).
func NewServiceAccountSignerFromJSON(raw []byte) (*ServiceAccountSigner, error) {
	if len(raw) == 0 {
		return nil, errors.New("storage: service account JSON is empty")
	}
	cfg, err := google.JWTConfigFromJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("storage: decode service account json: %w", err)
	}
	switch {
	case strings.TrimSpace(cfg.Email) == "":
		return nil, errors.New("storage: client_email missing in service account JSON")
	case len(cfg.PrivateKey) == 0:
		return nil, errors.New("storage: private_key missing in service account JSON")
	}
	key, err := rsaKeyFromPEM(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &ServiceAccountSigner{email: strings.TrimSpace(cfg.Email), key: key}, nil
}

func (s *ServiceAccountSigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

func (s *ServiceAccountSigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errSignerNotReady
	}
	if err := checkPayload(ctx, payload); err != nil {
		return nil, err
	}
	sum := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, sum[:])
	if err != nil {
		return nil, fmt.Errorf("storage: sign payload: %w", err)
	}
	return sig, nil
}

func rsaKeyFromPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("storage: failed to decode PEM private key")
	}
	parsed, pkcs8Err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if pkcs8Err != nil {
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("storage: parse RSA private key: %w", errors.Join(pkcs8Err, err))
		}
		return key, nil
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("storage: private key is %T, want RSA", parsed)
	}
	return key, nil
}

type blobSigner interface {
	SignBlob(ctx context.Context, req *credentialspb.SignBlobRequest, opts ...gax.CallOption) (*credentialspb.SignBlobResponse, error)
}

// IAMSigner signs with the IAM Credentials signBlob API, for Cloud Run and workload identity
// where no key file exists. The runtime account needs iam.serviceAccounts.signBlob on email.
type IAMSigner struct {
	email  string
	client blobSigner
	close  func() error
}

func NewIAMSigner(ctx context.Context, serviceAccount string, opts ...option.ClientOption) (*IAMSigner, error) {
	email := strings.TrimSpace(serviceAccount)
	if email == "" {
		return nil, errors.New("storage: signer service account is required")
	}
	c, err := credentials.NewIamCredentialsClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: iam credentials client: %w", err)
	}
	return &IAMSigner{email: email, client: c, close: c.Close}, nil
}

func (s *IAMSigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

func (s *IAMSigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, errSignerNotReady
	}
	if err := checkPayload(ctx, payload); err != nil {
		return nil, err
	}
	resp, err := s.client.SignBlob(ctx, &credentialspb.SignBlobRequest{
		Name:    "projects/-/serviceAccounts/" + s.email,
		Payload: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: sign blob as %s: %w", s.email, err)
	}
	return resp.GetSignedBlob(), nil
}

func (s *IAMSigner) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}
