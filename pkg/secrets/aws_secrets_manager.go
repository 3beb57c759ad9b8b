package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// AWSProvider reads relayer secrets from AWS Secrets Manager. Secret names
// are <prefix><key>, so one deployment namespace (for example
// "flarebridge/prod/") holds the destination signer seeds next to the JWT
// and database credentials. Values are cached for ttl: signer seeds are
// resolved once per dispatcher at boot, so a short TTL only matters for the
// rotation path.
type AWSProvider struct {
	client *secretsmanager.Client
	prefix string
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]cachedSecret
}

// NewAWSProvider builds a provider against the given region using the
// default AWS credential chain
func NewAWSProvider(ctx context.Context, region, prefix string, ttl time.Duration) (*AWSProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &AWSProvider{
		client: secretsmanager.NewFromConfig(cfg),
		prefix: prefix,
		ttl:    ttl,
		cache:  make(map[string]cachedSecret),
	}, nil
}

func (p *AWSProvider) GetSecret(ctx context.Context, key string) (string, error) {
	if value, ok := p.cached(key); ok {
		return value, nil
	}

	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.prefix + key),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("secret not found: %s", key)
		}
		return "", fmt.Errorf("get secret %s: %w", key, err)
	}

	var value string
	if out.SecretString != nil {
		value = *out.SecretString
	}
	p.store(key, value)
	return value, nil
}

// SetSecret writes a new version of the secret, creating it on first use.
// Used by the rotation runbook to stage replacement signer seeds.
func (p *AWSProvider) SetSecret(ctx context.Context, key, value string) error {
	name := p.prefix + key

	_, err := p.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(value),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if !errors.As(err, &notFound) {
			return fmt.Errorf("set secret %s: %w", key, err)
		}
		_, err = p.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
			Name:         aws.String(name),
			SecretString: aws.String(value),
		})
		if err != nil {
			return fmt.Errorf("create secret %s: %w", key, err)
		}
	}

	p.invalidate(key)
	return nil
}

// DeleteSecret schedules deletion. Signer seeds keep the default recovery
// window so a retired key can still be recovered while its destination has
// relays in flight.
func (p *AWSProvider) DeleteSecret(ctx context.Context, key string) error {
	_, err := p.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(p.prefix + key),
		ForceDeleteWithoutRecovery: aws.Bool(false),
	})
	if err != nil {
		return fmt.Errorf("delete secret %s: %w", key, err)
	}

	p.invalidate(key)
	return nil
}

func (p *AWSProvider) cached(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

func (p *AWSProvider) store(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[key] = cachedSecret{value: value, expiresAt: time.Now().Add(p.ttl)}
}

func (p *AWSProvider) invalidate(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, key)
}
