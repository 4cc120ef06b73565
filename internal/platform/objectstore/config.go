package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/pipestack/internal/platform/env"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// ConfigFromEnv returns the PIPESTACK_MINIO_* defaults. Component config
// from a stack file is layered on top with Merge.
func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("PIPESTACK_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Endpoint:  env.String("PIPESTACK_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey: env.String("PIPESTACK_MINIO_ACCESS_KEY", ""),
		SecretKey: env.String("PIPESTACK_MINIO_SECRET_KEY", ""),
		Region:    env.String("PIPESTACK_MINIO_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("PIPESTACK_MINIO_BUCKET", "pipestack"),
	}, nil
}

// Merge overlays values from a component's config map.
func (c Config) Merge(values map[string]any) Config {
	str := func(key string, cur string) string {
		if v, ok := values[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return cur
	}
	c.Endpoint = str("endpoint", c.Endpoint)
	c.AccessKey = str("access_key", c.AccessKey)
	c.SecretKey = str("secret_key", c.SecretKey)
	c.Region = str("region", c.Region)
	c.Bucket = str("bucket", c.Bucket)
	c.Prefix = strings.Trim(str("prefix", c.Prefix), "/")
	if v, ok := values["use_ssl"].(bool); ok {
		c.UseSSL = v
	}
	return c
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
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}

// URI renders the s3:// location of the configured bucket and prefix.
func (c Config) URI() string {
	if c.Prefix == "" {
		return "s3://" + c.Bucket
	}
	return "s3://" + c.Bucket + "/" + c.Prefix
}

// Key joins parts under the configured prefix.
func (c Config) Key(parts ...string) string {
	all := make([]string, 0, len(parts)+1)
	if c.Prefix != "" {
		all = append(all, c.Prefix)
	}
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			all = append(all, p)
		}
	}
	return strings.Join(all, "/")
}
