// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/pkg/httpclient"
)

// S3Config configures the S3 blob store.
type S3Config struct {
	Bucket string
	Region string

	// Endpoint overrides the regional AWS endpoint, for S3-compatible
	// stores.
	Endpoint string

	// Prefix is prepended to every key.
	Prefix string

	// PathStyle addresses objects as {endpoint}/{bucket}/{key} instead of
	// {bucket}.{endpoint host}/{key}.
	PathStyle bool

	// Timeout bounds each request. Default: 30s
	Timeout time.Duration

	// Credentials overrides the default AWS credential chain.
	Credentials aws.CredentialsProvider

	// VerifyCredentials calls STS GetCallerIdentity at startup.
	VerifyCredentials bool

	Logger *slog.Logger
}

// S3Error is a non-success response from the object store.
type S3Error struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string

	err error
}

func (e *S3Error) Error() string {
	msg := fmt.Sprintf("s3 request failed [HTTP %d]", e.StatusCode)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RequestID != "" {
		msg += fmt.Sprintf(" (request-id: %s)", e.RequestID)
	}
	return msg
}

func (e *S3Error) Unwrap() error { return e.err }

// ErrorType implements pkg/errors.ErrorClassifier.
func (e *S3Error) ErrorType() string { return "s3" }

// IsRetryable implements pkg/errors.ErrorClassifier.
func (e *S3Error) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// S3Store implements BlobStore on the AWS S3 client.
type S3Store struct {
	cfg    S3Config
	client *s3.Client
	http   *http.Client
	logger *slog.Logger
}

// NewS3Store resolves credentials and builds the store.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if cfg.Endpoint != "" {
		endpoint, err := url.Parse(cfg.Endpoint)
		if err != nil || (endpoint.Scheme != "http" && endpoint.Scheme != "https") || endpoint.Host == "" {
			return nil, fmt.Errorf("endpoint must be an http(s) URL, got %q", cfg.Endpoint)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	logger := log.OrDefault(cfg.Logger)

	// The S3 client runs its own retryer.
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.Timeout
	httpCfg.UserAgent = "relay-s3/1.0"
	httpCfg.RetryAttempts = 0
	httpCfg.Logger = logger
	httpClient, err := httpclient.New(httpCfg)
	if err != nil {
		return nil, err
	}

	awsCfg := aws.Config{Region: cfg.Region, Credentials: cfg.Credentials}
	if cfg.Credentials == nil {
		loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		awsCfg, err = awsconfig.LoadDefaultConfig(loadCtx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		if cfg.VerifyCredentials {
			if err := verifyCredentials(loadCtx, awsCfg); err != nil {
				return nil, err
			}
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.HTTPClient = httpClient
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// Plain bodies keep S3-compatible stores that lack flexible
		// checksum support working.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &S3Store{cfg: cfg, client: client, http: httpClient, logger: logger}, nil
}

// verifyCredentials calls STS GetCallerIdentity so bad credentials fail at
// startup rather than on the first chat message.
func verifyCredentials(ctx context.Context, awsCfg aws.Config) error {
	verifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := sts.NewFromConfig(awsCfg).GetCallerIdentity(verifyCtx, &sts.GetCallerIdentityInput{}); err != nil {
		return fmt.Errorf("AWS credential validation failed: %w", err)
	}
	return nil
}

func (s *S3Store) objectKey(key string) *string {
	return aws.String(s.cfg.Prefix + key)
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    s.objectKey(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, notFound(key)
		}
		return nil, s3Error(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           s.objectKey(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return s3Error(err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    s.objectKey(key),
	})
	if err != nil && !isNotFound(err) {
		return s3Error(err)
	}
	return nil
}

// Close releases idle connections.
func (s *S3Store) Close() error {
	s.http.CloseIdleConnections()
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var withStatus httpStatusError
	return errors.As(err, &withStatus) && withStatus.HTTPStatusCode() == http.StatusNotFound
}

type httpStatusError interface{ HTTPStatusCode() int }

// s3Error flattens an SDK operation error into an S3Error. Errors without
// an HTTP response (dial failures, cancellation) pass through unchanged.
func s3Error(err error) error {
	var withStatus httpStatusError
	if !errors.As(err, &withStatus) {
		return err
	}
	s3err := &S3Error{StatusCode: withStatus.HTTPStatusCode(), err: err}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		s3err.Code = apiErr.ErrorCode()
		s3err.Message = apiErr.ErrorMessage()
	}
	var withID interface{ ServiceRequestID() string }
	if errors.As(err, &withID) {
		s3err.RequestID = withID.ServiceRequestID()
	}
	if s3err.Message == "" {
		s3err.Message = http.StatusText(s3err.StatusCode)
	}
	return s3err
}
