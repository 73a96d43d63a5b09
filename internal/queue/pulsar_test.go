package queue

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/apache/pulsar-client-go/pulsaradmin/pkg/rest"
	adminutils "github.com/apache/pulsar-client-go/pulsaradmin/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notifyhub/purchase-notify/internal/domain"
)

type fakeTopics struct {
	existing  map[string]int
	createErr error
	created   []string
}

func (f *fakeTopics) CreateWithContext(_ context.Context, tn adminutils.TopicName, partitions int) error {
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.existing[tn.String()]; ok {
		return rest.Error{Code: http.StatusConflict, Reason: "This topic already exists"}
	}
	f.existing[tn.String()] = partitions
	f.created = append(f.created, tn.String())
	return nil
}

func (f *fakeTopics) GetMetadataWithContext(_ context.Context, tn adminutils.TopicName) (adminutils.PartitionedTopicMetadata, error) {
	return adminutils.PartitionedTopicMetadata{Partitions: f.existing[tn.String()]}, nil
}

func newTestPulsar(f *fakeTopics) *PulsarBroker {
	return newPulsarBroker(nil, f, "public/default", zap.NewNop())
}

func TestPulsarDeclare_CreatesPersistentTopic(t *testing.T) {
	f := &fakeTopics{existing: map[string]int{}}
	b := newTestPulsar(f)

	require.NoError(t, b.Declare(context.Background(), Spec{Name: "notification_queue", Durable: true}))
	assert.Equal(t, []string{"persistent://public/default/notification_queue"}, f.created)
	assert.Equal(t, "persistent://public/default/notification_queue", b.topic("notification_queue"))
}

func TestPulsarDeclare_NonDurableIsNonPersistent(t *testing.T) {
	f := &fakeTopics{existing: map[string]int{}}
	b := newTestPulsar(f)

	require.NoError(t, b.Declare(context.Background(), Spec{Name: "scratch"}))
	assert.Equal(t, "non-persistent://public/default/scratch", b.topic("scratch"))
}

func TestPulsarDeclare_ExistingSameAttributesIsNoop(t *testing.T) {
	f := &fakeTopics{existing: map[string]int{"persistent://public/default/notification_queue": 0}}
	b := newTestPulsar(f)

	assert.NoError(t, b.Declare(context.Background(), Spec{Name: "notification_queue", Durable: true}))
	assert.Empty(t, f.created)
}

func TestPulsarDeclare_PartitionMismatchIsConflict(t *testing.T) {
	f := &fakeTopics{existing: map[string]int{"persistent://public/default/notification_queue": 4}}
	b := newTestPulsar(f)

	err := b.Declare(context.Background(), Spec{Name: "notification_queue", Durable: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfigurationConflict))
}

func TestPulsarDeclare_AdminFailureIsConnectionError(t *testing.T) {
	f := &fakeTopics{existing: map[string]int{}, createErr: errors.New("connection refused")}
	b := newTestPulsar(f)

	err := b.Declare(context.Background(), Spec{Name: "notification_queue", Durable: true})
	assert.True(t, errors.Is(err, domain.ErrBrokerConnection))
}
