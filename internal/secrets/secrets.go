// Package secrets defines the secret reader contract and
// two implementations: an SSM-backed one for production and an
// env-var one for local development, both cacheable for the process
// lifetime.
package secrets

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Reader fetches a named secret, e.g. an API key or bot token.
type Reader interface {
	Get(ctx context.Context, parameterName string) (string, error)
}

// EnvReader resolves parameterName as an environment variable name.
// Used in local/dev configurations where LLM_PROVIDER=anthropic and
// ANTHROPIC_API_KEY is set directly rather than via a parameter
// reference.
type EnvReader struct{}

func (EnvReader) Get(ctx context.Context, parameterName string) (string, error) {
	v, ok := os.LookupEnv(parameterName)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", parameterName)
	}
	return v, nil
}

// SSMReader fetches SecureString parameters from AWS Systems Manager
// Parameter Store, caching results for the process lifetime.
type SSMReader struct {
	client *ssm.Client

	mu    sync.RWMutex
	cache map[string]string
}

// NewSSMReader builds a reader from an AWS config.
func NewSSMReader(cfg aws.Config) *SSMReader {
	return &SSMReader{
		client: ssm.NewFromConfig(cfg),
		cache:  make(map[string]string),
	}
}

func (r *SSMReader) Get(ctx context.Context, parameterName string) (string, error) {
	r.mu.RLock()
	if v, ok := r.cache[parameterName]; ok {
		r.mu.RUnlock()
		return v, nil
	}
	r.mu.RUnlock()

	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(parameterName),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("get parameter %s: %w", parameterName, err)
	}
	value := aws.ToString(out.Parameter.Value)

	r.mu.Lock()
	r.cache[parameterName] = value
	r.mu.Unlock()

	return value, nil
}

// CachingReader wraps another Reader and caches results for the
// process lifetime, used in front of EnvReader for consistency with
// SSMReader's caching semantics.
type CachingReader struct {
	inner Reader

	mu    sync.RWMutex
	cache map[string]string
}

func NewCachingReader(inner Reader) *CachingReader {
	return &CachingReader{inner: inner, cache: make(map[string]string)}
}

func (r *CachingReader) Get(ctx context.Context, parameterName string) (string, error) {
	r.mu.RLock()
	if v, ok := r.cache[parameterName]; ok {
		r.mu.RUnlock()
		return v, nil
	}
	r.mu.RUnlock()

	value, err := r.inner.Get(ctx, parameterName)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[parameterName] = value
	r.mu.Unlock()

	return value, nil
}
