package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/deskmate-ai/deskmate/internal/domain"
)

// S3StoreConfig holds configuration for S3Store
type S3StoreConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UsePathStyle    bool
}

// S3Store keeps the knowledge base in S3-compatible storage (e.g. RustFS),
// one JSON document per knowledge source plus snapshot documents for the
// cache and feedback state. It is the deployment option for sites without
// a Postgres instance.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates a new S3Store with the given configuration
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	// Create custom resolver for S3-compatible endpoints
	customResolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			if cfg.Endpoint != "" {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		},
	)

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
		config.WithEndpointResolverWithOptions(customResolver),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Path-style addressing for S3-compatible services
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Load reads the JSON document for one knowledge source. A missing
// document is an empty source, not an error.
func (s *S3Store) Load(ctx context.Context, sourceType domain.SourceType) ([]*domain.KnowledgeItem, error) {
	var items []*domain.KnowledgeItem
	if err := s.getJSON(ctx, sourceKey(sourceType), &items); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return items, nil
}

// Save overwrites the JSON document for one knowledge source.
func (s *S3Store) Save(ctx context.Context, sourceType domain.SourceType, items []*domain.KnowledgeItem) error {
	return s.putJSON(ctx, sourceKey(sourceType), items)
}

// SaveCacheEntries persists a cache snapshot.
func (s *S3Store) SaveCacheEntries(ctx context.Context, entries []*domain.CacheEntry) error {
	return s.putJSON(ctx, "state/cache.json", entries)
}

// LoadCacheEntries reads the persisted cache snapshot.
func (s *S3Store) LoadCacheEntries(ctx context.Context) ([]*domain.CacheEntry, error) {
	var entries []*domain.CacheEntry
	if err := s.getJSON(ctx, "state/cache.json", &entries); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return entries, nil
}

// SaveFeedback persists the learner's feedback records.
func (s *S3Store) SaveFeedback(ctx context.Context, records []*domain.FeedbackRecord) error {
	return s.putJSON(ctx, "state/feedback.json", records)
}

// LoadFeedback reads the persisted feedback records.
func (s *S3Store) LoadFeedback(ctx context.Context) ([]*domain.FeedbackRecord, error) {
	var records []*domain.FeedbackRecord
	if err := s.getJSON(ctx, "state/feedback.json", &records); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return records, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	return nil
}

func (s *S3Store) putJSON(ctx context.Context, key string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) getJSON(ctx context.Context, key string, out any) error {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}
	defer output.Body.Close()

	body, err := io.ReadAll(output.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func sourceKey(sourceType domain.SourceType) string {
	return "knowledge/" + string(sourceType) + ".json"
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}
