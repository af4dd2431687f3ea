package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/basic-cleaning/internal/platform/env"
)

type Config struct {
	Endpoint        string
	AccessKey       string
	SecretKey       string
	Region          string
	UseSSL          bool
	BucketArtifacts string
}

func ConfigFromEnv(src *env.Source) (Config, error) {
	useSSL, err := src.Bool("ANIMUS_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:        src.String("ANIMUS_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:       src.String("ANIMUS_MINIO_ACCESS_KEY", "animus"),
		SecretKey:       src.String("ANIMUS_MINIO_SECRET_KEY", "animusminio"),
		Region:          src.String("ANIMUS_MINIO_REGION", "us-east-1"),
		UseSSL:          useSSL,
		BucketArtifacts: src.String("ANIMUS_MINIO_BUCKET_ARTIFACTS", "artifacts"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketArtifacts) == "" {
		return errors.New("artifacts bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
