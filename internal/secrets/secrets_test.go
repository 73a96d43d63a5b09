package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notifyhub/purchase-notify/internal/domain"
)

type fakeSSM struct {
	params map[string]string
	err    error
	calls  int
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if !aws.ToBool(in.WithDecryption) {
		return nil, errors.New("decryption not requested")
	}
	v, ok := f.params[aws.ToString(in.Name)]
	if !ok {
		return nil, &types.ParameterNotFound{Message: aws.String("not found")}
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: aws.String(v)}}, nil
}

func TestEnvName(t *testing.T) {
	cases := map[string]string{
		"/twilio/account-sid":    "TWILIO_ACCOUNT_SID",
		"/twilio/auth-token":     "TWILIO_AUTH_TOKEN",
		"/broker/url":            "BROKER_URL",
		"/purchase/database-url": "PURCHASE_DATABASE_URL",
	}
	for in, want := range cases {
		assert.Equal(t, want, EnvName(in), in)
	}
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("TWILIO_AUTH_TOKEN", "tok")
	p := NewEnvProvider()

	v, err := p.Get(context.Background(), "/twilio/auth-token")
	require.NoError(t, err)
	assert.Equal(t, "tok", v)

	_, err = p.Get(context.Background(), "/does/not-exist")
	assert.True(t, errors.Is(err, domain.ErrSecretNotFound))
}

func TestSSMProvider_CachesValues(t *testing.T) {
	fake := &fakeSSM{params: map[string]string{"/twilio/account-sid": "AC123"}}
	p := NewSSMProvider(fake, zap.NewNop())

	for i := 0; i < 3; i++ {
		v, err := p.Get(context.Background(), "/twilio/account-sid")
		require.NoError(t, err)
		assert.Equal(t, "AC123", v)
	}
	assert.Equal(t, 1, fake.calls)
}

func TestSSMProvider_NotFound(t *testing.T) {
	p := NewSSMProvider(&fakeSSM{params: map[string]string{}}, zap.NewNop())

	_, err := p.Get(context.Background(), "/missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSecretNotFound))
}

func TestSSMProvider_OtherErrorsAreNotNotFound(t *testing.T) {
	p := NewSSMProvider(&fakeSSM{err: errors.New("throttled")}, zap.NewNop())

	_, err := p.Get(context.Background(), "/twilio/account-sid")
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrSecretNotFound))
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), "vault", "us-east-1", zap.NewNop())
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}
