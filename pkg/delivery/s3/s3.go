// Package s3 delivers backup artifacts to an S3-compatible object store.
package s3

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/supporttools/GoPanelGuard/pkg/config"
	"github.com/supporttools/GoPanelGuard/pkg/delivery"
)

// Channel uploads artifacts to one bucket
type Channel struct {
	s3Client *s3.Client
	uploader *manager.Uploader
	cfg      config.S3Config
}

// NewChannel creates an S3 delivery channel from configuration
func NewChannel(cfg config.S3Config) (*Channel, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is required")
	}

	s3Client, err := newS3Client(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 client: %w", err)
	}

	return &Channel{
		s3Client: s3Client,
		uploader: manager.NewUploader(s3Client),
		cfg:      cfg,
	}, nil
}

// newS3Client initializes an S3 client based on configuration
func newS3Client(cfg config.S3Config) (*s3.Client, error) {
	ctx := context.Background()

	// Create custom HTTP client with TLS configuration
	httpClient := &http.Client{}

	if cfg.UseSSL {
		tlsConfig := &tls.Config{}

		// Load custom CA if specified
		if cfg.CustomCAPath != "" && !cfg.SkipCertValidation {
			rootCAs, _ := x509.SystemCertPool()
			if rootCAs == nil {
				rootCAs = x509.NewCertPool()
			}

			caCert, err := os.ReadFile(cfg.CustomCAPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read custom CA certificate: %w", err)
			}

			if ok := rootCAs.AppendCertsFromPEM(caCert); !ok {
				return nil, fmt.Errorf("failed to append custom CA certificate")
			}

			tlsConfig.RootCAs = rootCAs
			log.Printf("Using custom CA certificate from %s", cfg.CustomCAPath)
		}

		if cfg.SkipCertValidation {
			tlsConfig.InsecureSkipVerify = true
			log.Printf("Warning: TLS certificate validation is disabled for S3 connections")
		}

		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
	}

	sdkOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "",
		)),
		awsconfig.WithHTTPClient(httpClient),
	}

	if cfg.Endpoint == "" {
		// Standard AWS S3 - add region
		sdkOptions = append(sdkOptions, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, sdkOptions...)
	if err != nil {
		return nil, fmt.Errorf("AWS SDK config initialization error: %w", err)
	}

	s3Options := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = cfg.PathStyle
		},
	}

	if cfg.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return s3.NewFromConfig(awsCfg, s3Options...), nil
}

// Ceiling reports no practical per-object limit for S3
func (c *Channel) Ceiling() int64 {
	return 0
}

// ObjectKey builds the bucket key for an artifact
func (c *Channel) ObjectKey(meta delivery.Metadata) string {
	prefix := strings.TrimSuffix(c.cfg.Prefix, "/")
	return path.Join(prefix, "by-panel", meta.PanelName, meta.Database, meta.Filename)
}

// Send streams the artifact into the bucket. The upload manager splits the
// stream into multipart chunks, so nothing is buffered whole.
func (c *Channel) Send(ctx context.Context, r io.Reader, sizeHint int64, meta delivery.Metadata) (delivery.Receipt, error) {
	if err := delivery.CheckCeiling(sizeHint, c.Ceiling()); err != nil {
		return delivery.Receipt{}, err
	}

	objectKey := c.ObjectKey(meta)

	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(objectKey),
		Body:   r,
	})
	if err != nil {
		if ctx.Err() != nil {
			return delivery.Receipt{}, fmt.Errorf("%w: %v", delivery.ErrTimeout, err)
		}
		return delivery.Receipt{}, fmt.Errorf("%w: upload of %s: %v", delivery.ErrRejected, objectKey, err)
	}

	return delivery.Receipt{
		Channel:   "s3",
		Ref:       objectKey,
		Delivered: time.Now(),
	}, nil
}

// Notify is a no-op for S3; status messages only make sense on messaging
// channels. Kept so the channel satisfies the full interface.
func (c *Channel) Notify(ctx context.Context, text string) error {
	if config.CFG.Debug {
		log.Printf("S3 delivery notify (not sent): %s", text)
	}
	return nil
}

// GeneratePresignedURL creates a presigned URL for downloading a delivered
// artifact from the bucket
func (c *Channel) GeneratePresignedURL(objectKey string, expiryTime time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(c.s3Client)

	getObjectInput := &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(objectKey),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	presignResult, err := presignClient.PresignGetObject(ctx, getObjectInput, func(opts *s3.PresignOptions) {
		opts.Expires = expiryTime
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	log.Printf("Generated presigned URL for S3 object %s (expires in %s)", objectKey, expiryTime)
	return presignResult.URL, nil
}
