// Package secrets fetches the OAuth client configuration from a secret store.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrNotFound    = errors.New("secret not found")
	ErrUnavailable = errors.New("secret store unavailable")
)

// Store returns the raw payload of a named secret.
type Store interface {
	Get(ctx context.Context, name string) ([]byte, error)
}

// FileStore reads secrets from the local filesystem, e.g. a downloaded
// client_secret.json.
type FileStore struct {
	Dir string
}

func (s FileStore) Get(_ context.Context, name string) ([]byte, error) {
	path := name
	if s.Dir != "" && !filepath.IsAbs(name) {
		path = filepath.Join(s.Dir, name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return data, nil
}

// GCPStore reads the latest version of a Secret Manager secret in a project.
type GCPStore struct {
	client  *secretmanager.Client
	project string
}

// NewGCPStore creates a Secret Manager client using application default credentials.
func NewGCPStore(ctx context.Context, project string) (*GCPStore, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create secretmanager client: %w", err)
	}
	return &GCPStore{client: client, project: project}, nil
}

func (s *GCPStore) Get(ctx context.Context, name string) ([]byte, error) {
	secretPath := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.project, name)
	result, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretPath,
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, secretPath)
		}
		return nil, fmt.Errorf("%w: access %s: %v", ErrUnavailable, secretPath, err)
	}
	return result.Payload.Data, nil
}

func (s *GCPStore) Close() error {
	return s.client.Close()
}

// AWSStore reads secrets from AWS Secrets Manager.
type AWSStore struct {
	client *secretsmanager.Client
}

// NewAWSStore loads the default AWS config, optionally pinned to region.
func NewAWSStore(ctx context.Context, region string) (*AWSStore, error) {
	var (
		cfg aws.Config
		err error
	)
	if region != "" {
		cfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	} else {
		cfg, err = awsconfig.LoadDefaultConfig(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &AWSStore{client: secretsmanager.NewFromConfig(cfg)}, nil
}

func (s *AWSStore) Get(ctx context.Context, name string) ([]byte, error) {
	output, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(name),
		VersionStage: aws.String("AWSCURRENT"),
	})
	if err != nil {
		var nf *smtypes.ResourceNotFoundException
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrUnavailable, name, err)
	}

	switch {
	case output.SecretString != nil:
		return []byte(*output.SecretString), nil
	case len(output.SecretBinary) > 0:
		return output.SecretBinary, nil
	}
	return nil, fmt.Errorf("%w: secret %s has no payload", ErrNotFound, name)
}
