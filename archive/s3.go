package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// S3Config locates the archive in a bucket. Credentials come from the
// AWS default chain.
type S3Config struct {
	Bucket string
	Prefix string
	// Region overrides the region from the environment or shared config.
	Region string
	// Endpoint targets S3-compatible stores such as MinIO.
	Endpoint     string
	UsePathStyle bool
}

// Validate reports a missing bucket.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// ParseS3Path splits archive.path ("bucket" or "bucket/prefix").
func ParseS3Path(path string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(path, "/")
	return bucket, prefix
}

func (c S3Config) clientOptions(o *s3.Options) {
	if c.Endpoint != "" {
		o.BaseEndpoint = &c.Endpoint
	}
	o.UsePathStyle = c.UsePathStyle
}

// NewS3 opens the datasetID archive in an S3 bucket.
func NewS3(ctx context.Context, datasetID string, cfg S3Config) (*Archive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var load []func(*config.LoadOptions) error
	if cfg.Region != "" {
		load = append(load, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, load...)
	if err != nil {
		return nil, Wrap(fmt.Errorf("load AWS config: %w", err), "open", cfg.Bucket)
	}
	client := s3.NewFromConfig(awsCfg, cfg.clientOptions)

	return New(datasetID, "s3", func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
	})
}
