package secret

import (
	"context"
	"errors"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the subset of *ssm.Client used by ParamStore.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter reads a single named parameter.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ParamStore reads decrypted values from AWS SSM Parameter Store.
type ParamStore struct {
	api ssmAPI
}

// NewParamStore wraps an SSM API implementation.
func NewParamStore(api ssmAPI) (*ParamStore, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &ParamStore{api: api}, nil
}

func (p *ParamStore) GetParameter(ctx context.Context, name string) (string, error) {
	if p.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// NewSource returns value as a Static source when set, otherwise a Parameter
// read from SSM with the default AWS credential chain.
func NewSource(ctx context.Context, value, parameterName string) (Source, error) {
	if strings.TrimSpace(value) != "" {
		return Static(value), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("paramstore: load aws config: %w", err)
	}
	store, err := NewParamStore(ssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, err
	}
	return NewParameter(store, parameterName)
}
