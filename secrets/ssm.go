package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// SSMStore backs parameters with AWS SSM Parameter Store. Encrypted
// parameters are written as SecureString and decrypted on read.
type SSMStore struct {
	client *ssm.Client
}

// NewSSMStore wraps an SSM client.
func NewSSMStore(client *ssm.Client) *SSMStore {
	return &SSMStore{client: client}
}

// Get returns the named parameter, decrypted. A missing parameter maps to
// ErrNotFound; access denial and other failures keep their own error so the
// caller can log the distinction.
func (s *SSMStore) Get(ctx context.Context, name string) (string, error) {
	resp, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("get parameter %s: %w", name, err)
	}
	if resp.Parameter == nil || resp.Parameter.Value == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return *resp.Parameter.Value, nil
}

// Put writes the named parameter, overwriting any existing value.
func (s *SSMStore) Put(ctx context.Context, name, value string, encrypted bool) error {
	paramType := ssmtypes.ParameterTypeString
	if encrypted {
		paramType = ssmtypes.ParameterTypeSecureString
	}
	if _, err := s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(name),
		Value:     aws.String(value),
		Type:      paramType,
		Overwrite: aws.Bool(true),
	}); err != nil {
		return fmt.Errorf("put parameter %s: %w", name, err)
	}
	return nil
}
