// Package secrets resolves named credentials from the environment or from
// AWS Systems Manager Parameter Store.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"go.uber.org/zap"

	"github.com/notifyhub/purchase-notify/internal/domain"
)

// Provider looks up a secret by name. Unknown names return
// domain.ErrSecretNotFound.
type Provider interface {
	Get(ctx context.Context, name string) (string, error)
}

// EnvProvider maps secret names onto environment variables:
// "/twilio/account-sid" is read from TWILIO_ACCOUNT_SID.
type EnvProvider struct {
	lookup func(string) (string, bool)
}

func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

func (p *EnvProvider) Get(_ context.Context, name string) (string, error) {
	key := EnvName(name)
	v, ok := p.lookup(key)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s (env %s)", domain.ErrSecretNotFound, name, key)
	}
	return v, nil
}

// EnvName converts a secret path into the environment variable it is read
// from when no secret store is configured.
func EnvName(name string) string {
	name = strings.Trim(name, "/")
	r := strings.NewReplacer("/", "_", "-", "_", ".", "_")
	return strings.ToUpper(r.Replace(name))
}

type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMProvider reads SecureString parameters. Values are cached for the life
// of the process.
type SSMProvider struct {
	client ssmAPI
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]string
}

func NewSSMProvider(client ssmAPI, logger *zap.Logger) *SSMProvider {
	return &SSMProvider{client: client, logger: logger, cache: make(map[string]string)}
}

func (p *SSMProvider) Get(ctx context.Context, name string) (string, error) {
	p.mu.Lock()
	v, ok := p.cache[name]
	p.mu.Unlock()
	if ok {
		return v, nil
	}

	out, err := p.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) {
			return "", fmt.Errorf("%w: %s", domain.ErrSecretNotFound, name)
		}
		return "", fmt.Errorf("ssm get parameter %s: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("%w: %s has no value", domain.ErrSecretNotFound, name)
	}

	v = aws.ToString(out.Parameter.Value)
	p.mu.Lock()
	p.cache[name] = v
	p.mu.Unlock()

	p.logger.Debug("secret resolved", zap.String("name", name))
	return v, nil
}

// New builds the provider selected by backend ("env" or "ssm").
func New(ctx context.Context, backend, region string, logger *zap.Logger) (Provider, error) {
	switch backend {
	case "", "env":
		return NewEnvProvider(), nil
	case "ssm":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("%w: aws config: %v", domain.ErrConfiguration, err)
		}
		return NewSSMProvider(ssm.NewFromConfig(awsCfg), logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown secret backend %q", domain.ErrConfiguration, backend)
	}
}
