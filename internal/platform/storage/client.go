package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const defaultUploadExpiry = 15 * time.Minute

var (
	ErrInvalidUpload      = errors.New("storage: invalid upload request")
	ErrContentTypeDenied  = errors.New("storage: content type not allowed")
	errNoSigner           = errors.New("storage: signer is required")
	errInvalidBucket      = errors.New("storage: bucket name is required")
	defaultAllowedContent = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}
)

// Config describes the bucket product images are uploaded to.
type Config struct {
	Bucket              string
	PublicBaseURL       string
	ExpiresIn           time.Duration
	MaxSize             int64
	AllowedContentTypes []string
}

// Client issues signed PUT URLs so admins upload product images straight to Cloud Storage.
type Client struct {
	signer  Signer
	cfg     Config
	scheme  storage.SigningScheme
	now     func() time.Time
	newName func() string
}

// ClientOption customises client behaviour.
type ClientOption func(*Client)

// WithClock injects a custom clock.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithNameGenerator overrides the random object name segment.
func WithNameGenerator(gen func() string) ClientOption {
	return func(c *Client) {
		if gen != nil {
			c.newName = gen
		}
	}
}

// NewClient validates cfg and builds a Client that signs with signer.
func NewClient(signer Signer, cfg Config, opts ...ClientOption) (*Client, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	if cfg.Bucket == "" {
		return nil, errInvalidBucket
	}
	if cfg.ExpiresIn <= 0 {
		cfg.ExpiresIn = defaultUploadExpiry
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = defaultAllowedContent
	}
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "https://storage.googleapis.com"
	}

	client := &Client{
		signer:  signer,
		cfg:     cfg,
		scheme:  storage.SigningSchemeV4,
		now:     time.Now,
		newName: func() string { return fmt.Sprintf("%d", time.Now().UnixNano()) },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// ProductImageRequest names the product and the file being uploaded.
type ProductImageRequest struct {
	ProductID   string
	FileName    string
	ContentType string
}

// UploadTicket is returned to the admin UI. The upload must send Headers verbatim, and the image is
// then reachable at PublicURL.
type UploadTicket struct {
	URL        string            `json:"uploadUrl"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers"`
	ObjectPath string            `json:"objectPath"`
	PublicURL  string            `json:"publicUrl"`
	ExpiresAt  time.Time         `json:"expiresAt"`
}

// ProductImageUpload signs a PUT URL for products/{productID}/images/{name}{ext}.
func (c *Client) ProductImageUpload(ctx context.Context, req ProductImageRequest) (UploadTicket, error) {
	object, err := c.productImagePath(req.ProductID, req.FileName)
	if err != nil {
		return UploadTicket{}, err
	}
	contentType := strings.ToLower(strings.TrimSpace(req.ContentType))
	if contentType == "" {
		return UploadTicket{}, fmt.Errorf("%w: content type is required", ErrInvalidUpload)
	}
	if !contentTypeAllowed(contentType, c.cfg.AllowedContentTypes) {
		return UploadTicket{}, ErrContentTypeDenied
	}

	headers := map[string]string{"Content-Type": contentType}
	var extHeaders []string
	if c.cfg.MaxSize > 0 {
		sizeRange := fmt.Sprintf("0,%d", c.cfg.MaxSize)
		headers["x-goog-content-length-range"] = sizeRange
		extHeaders = append(extHeaders, "x-goog-content-length-range:"+sizeRange)
	}

	expiresAt := c.now().Add(c.cfg.ExpiresIn)
	signed, err := storage.SignedURL(c.cfg.Bucket, object, &storage.SignedURLOptions{
		GoogleAccessID: c.signer.Email(),
		Scheme:         c.scheme,
		Method:         "PUT",
		ContentType:    contentType,
		Headers:        extHeaders,
		Expires:        expiresAt,
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return UploadTicket{}, fmt.Errorf("storage: sign upload url: %w", err)
	}

	return UploadTicket{
		URL:        signed,
		Method:     "PUT",
		Headers:    headers,
		ObjectPath: object,
		PublicURL:  c.cfg.PublicBaseURL + "/" + url.PathEscape(c.cfg.Bucket) + "/" + object,
		ExpiresAt:  expiresAt,
	}, nil
}

func (c *Client) productImagePath(productID, fileName string) (string, error) {
	id, err := validateSegment("productID", productID)
	if err != nil {
		return "", err
	}
	name, err := validateSegment("fileName", fileName)
	if err != nil {
		return "", err
	}
	ext := strings.ToLower(path.Ext(name))
	return fmt.Sprintf("products/%s/images/%s%s", id, c.newName(), ext), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("%w: %s is required", ErrInvalidUpload, name)
	case strings.ContainsAny(value, "/\\"):
		return "", fmt.Errorf("%w: %s contains invalid path characters", ErrInvalidUpload, name)
	case strings.Contains(value, ".."):
		return "", fmt.Errorf("%w: %s contains invalid traversal sequence", ErrInvalidUpload, name)
	}
	return value, nil
}

func contentTypeAllowed(contentType string, allowed []string) bool {
	for _, candidate := range allowed {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		switch {
		case candidate == "*" || candidate == contentType:
			return true
		case strings.HasSuffix(candidate, "/*") && strings.HasPrefix(contentType, strings.TrimSuffix(candidate, "*")):
			return true
		}
	}
	return false
}
