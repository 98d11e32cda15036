package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/configstore"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/health"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/models"
)

// Settings is the object storage part of a user's s3_storage config.
type Settings struct {
	Enabled   bool
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
	PublicURL string
}

// SettingsFromConfig reads Settings from a merged s3_storage config.
func SettingsFromConfig(cfg map[string]interface{}) Settings {
	s := Settings{
		Enabled:   configstore.Bool(cfg, "enabled"),
		Bucket:    configstore.String(cfg, "bucket"),
		Region:    configstore.String(cfg, "region"),
		Endpoint:  configstore.String(cfg, "endpoint"),
		AccessKey: configstore.String(cfg, "access_key"),
		SecretKey: configstore.String(cfg, "secret_key"),
		PathStyle: configstore.Bool(cfg, "path_style"),
		PublicURL: configstore.String(cfg, "public_url"),
	}
	// Endpoints sometimes arrive with the bucket baked into the host.
	if s.Endpoint != "" && s.Bucket != "" && strings.Contains(s.Endpoint, s.Bucket+".") {
		s.Endpoint = strings.Replace(s.Endpoint, s.Bucket+".", "", 1)
	}
	// Dotted bucket names break virtual-hosted TLS certificates.
	if strings.Contains(s.Bucket, ".") {
		s.PathStyle = true
	}
	return s
}

// Validate reports the first missing field needed to build a client.
func (s Settings) Validate() error {
	switch {
	case s.Bucket == "":
		return &health.ValidationError{Field: "bucket", Message: "is required"}
	case s.AccessKey == "":
		return &health.ValidationError{Field: "access_key", Message: "is required"}
	case s.SecretKey == "":
		return &health.ValidationError{Field: "secret_key", Message: "is required"}
	}
	return nil
}

// URL returns the public URL of key.
func (s Settings) URL(key string) string {
	if s.PublicURL != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.PublicURL, "/"), s.Bucket, key)
	}
	if s.Endpoint != "" && !strings.Contains(s.Endpoint, "amazonaws.com") {
		if s.PathStyle {
			return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.Endpoint, "/"), s.Bucket, key)
		}
		host := strings.TrimPrefix(strings.TrimPrefix(s.Endpoint, "https://"), "http://")
		return fmt.Sprintf("https://%s.%s/%s", s.Bucket, strings.TrimRight(host, "/"), key)
	}
	if s.PathStyle {
		return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", s.Region, s.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.Bucket, s.Region, key)
}

// ObjectKey is where the QR code image of an instance is stored.
func ObjectKey(userID, instance string) string {
	return fmt.Sprintf("users/%s/qrcodes/%s.png", userID, instance)
}

type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

func newS3Client(s Settings) objectAPI {
	return s3.New(s3.Options{
		Region:      s.Region,
		Credentials: credentials.NewStaticCredentialsProvider(s.AccessKey, s.SecretKey, ""),
	}, func(o *s3.Options) {
		o.UsePathStyle = s.PathStyle
		if s.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.Endpoint)
		}
	})
}

// ConfigLoader loads a user's merged config.
type ConfigLoader interface {
	Load(ctx context.Context, userID, configType string) (map[string]interface{}, error)
}

type userClient struct {
	settings Settings
	api      objectAPI
}

// Manager stores QR code images in each user's own bucket. Clients are
// cached per user and rebuilt whenever the user's settings change.
type Manager struct {
	loader    ConfigLoader
	imageSize int
	newClient func(Settings) objectAPI

	mu       sync.Mutex
	clients  map[string]userClient
	terminal io.Writer
}

// NewManager creates a Manager that renders QR images at imageSize pixels.
func NewManager(loader ConfigLoader, imageSize int) *Manager {
	if imageSize <= 0 {
		imageSize = DefaultImageSize
	}
	return &Manager{
		loader:    loader,
		imageSize: imageSize,
		newClient: newS3Client,
		clients:   make(map[string]userClient),
	}
}

// SetTerminal makes StoreQRCode also print pairing codes to w.
func (m *Manager) SetTerminal(w io.Writer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminal = w
}

func (m *Manager) client(userID string, s Settings) objectAPI {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[userID]; ok && c.settings == s {
		return c.api
	}
	api := m.newClient(s)
	m.clients[userID] = userClient{settings: s, api: api}
	log.Info().
		Str("userID", userID).
		Str("bucket", s.Bucket).
		Str("region", s.Region).
		Str("endpoint", s.Endpoint).
		Bool("pathStyle", s.PathStyle).
		Msg("S3 client initialized")
	return api
}

// Forget drops the cached client of userID.
func (m *Manager) Forget(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, userID)
}

// StoreQRCode renders payload as a PNG, uploads it and returns its public URL.
// payload is a data URL, a base64 image or a raw pairing code. When the
// user has storage disabled it returns an empty URL and no error.
func (m *Manager) StoreQRCode(ctx context.Context, userID, instance, payload string) (string, error) {
	m.mu.Lock()
	terminal := m.terminal
	m.mu.Unlock()
	if terminal != nil && payload != "" && !looksEncoded(payload) {
		PrintQRCode(terminal, payload)
	}

	cfg, err := m.loader.Load(ctx, userID, models.ConfigTypeS3Storage)
	if err != nil {
		return "", err
	}
	s := SettingsFromConfig(cfg)
	if !s.Enabled {
		return "", nil
	}
	if err := s.Validate(); err != nil {
		return "", err
	}

	img, err := EncodeQRImage(payload, m.imageSize)
	if err != nil {
		return "", err
	}

	key := ObjectKey(userID, instance)
	_, err = m.client(userID, s).PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(s.Bucket),
		Key:                aws.String(key),
		Body:               bytes.NewReader(img),
		ContentType:        aws.String("image/png"),
		CacheControl:       aws.String("no-cache"),
		ContentDisposition: aws.String("inline"),
		Expires:            aws.Time(time.Now().Add(qrLifetime)),
	})
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Str("key", key).Str("bucket", s.Bucket).Msg("Failed to upload QR code")
		return "", fmt.Errorf("failed to upload QR code: %w", err)
	}

	url := s.URL(key)
	log.Info().Str("userID", userID).Str("instance", instance).Str("url", url).Int("size", len(img)).Msg("QR code stored")
	return url, nil
}

// Probe checks that the configured bucket is reachable with the configured
// credentials.
func (m *Manager) Probe(ctx context.Context, cfg map[string]interface{}) error {
	s := SettingsFromConfig(cfg)
	if err := s.Validate(); err != nil {
		return err
	}
	_, err := m.newClient(s).HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.Bucket)})
	if err != nil {
		return fmt.Errorf("bucket %s not reachable: %w", s.Bucket, err)
	}
	return nil
}

// Register adds the bucket probe to r.
func (m *Manager) Register(r *health.Reconciler) {
	r.Register(models.ConfigTypeS3Storage, []string{"bucket", "access_key", "secret_key"}, m)
}
