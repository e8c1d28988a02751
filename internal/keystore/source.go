// Package keystore loads the mutual TLS client identity and the truststore
// used to talk to the identity registry. Material is read from PEM files
// for local development or from AWS SSM Parameter Store in production.
package keystore

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ParameterGetter is the subset of the SSM client used by the loaders.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Source names where a single PEM document lives. SSM wins when both are set.
type Source struct {
	Path string `yaml:"path"`
	SSM  string `yaml:"ssm"`
}

func (s Source) IsZero() bool {
	return s.Path == "" && s.SSM == ""
}

func (s Source) String() string {
	if s.SSM != "" {
		return "ssm:" + s.SSM
	}
	return s.Path
}

// Loader reads sources, creating the SSM client lazily on first use.
type Loader struct {
	ssm ParameterGetter
}

// NewLoader returns a loader; client may be nil, in which case the default
// AWS configuration is loaded the first time an SSM source is read.
func NewLoader(client ParameterGetter) *Loader {
	return &Loader{ssm: client}
}

func (l *Loader) read(ctx context.Context, src Source) ([]byte, error) {
	if src.SSM != "" {
		if l.ssm == nil {
			awsConfig, err := config.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to load AWS config: %w", err)
			}
			l.ssm = ssm.NewFromConfig(awsConfig)
		}

		value, err := getParameter(ctx, l.ssm, src.SSM)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s from SSM: %w", src.SSM, err)
		}
		return []byte(value), nil
	}

	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", src.Path, err)
	}
	return data, nil
}

// getParameter fetches a parameter from SSM
func getParameter(ctx context.Context, client ParameterGetter, name string) (string, error) {
	output, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", err
	}
	if output.Parameter == nil || output.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s has no value", name)
	}
	return *output.Parameter.Value, nil
}
