package events

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/config"
	"github.com/nnipa/authz-service/internal/metrics"
	"github.com/nnipa/authz-service/pkg/types"
)

// recordingMetrics counts event statuses; everything else is a no-op.
type recordingMetrics struct {
	*metrics.NoOpMetrics

	mu        sync.Mutex
	published map[string]int
	consumed  map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		NoOpMetrics: metrics.NewNoOpMetrics(),
		published:   make(map[string]int),
		consumed:    make(map[string]int),
	}
}

func (r *recordingMetrics) RecordEventPublished(topic, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published[topic+"|"+status]++
}

func (r *recordingMetrics) RecordEventConsumed(topic, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumed[topic+"|"+status]++
}

func (r *recordingMetrics) publishedCount(topic, status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.published[topic+"|"+status]
}

func (r *recordingMetrics) consumedCount(topic, status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consumed[topic+"|"+status]
}

func testTopics() config.TopicConfig {
	return config.TopicConfig{
		AuthorizationChecked: "nnipa.events.authz.checked",
		RoleEvents:           "nnipa.events.authz.role",
		PermissionEvents:     "nnipa.events.authz.permission",
		PolicyEvents:         "nnipa.events.authz.policy",
		CrossTenantEvents:    "nnipa.events.authz.cross-tenant",
		TenantCreated:        "nnipa.events.tenant.created",
		TenantDeactivated:    "nnipa.events.tenant.deactivated",
		TenantDLQ:            "nnipa.events.tenant.dlq",
	}
}

func publisherConfig() config.EventsConfig {
	return config.EventsConfig{
		Enabled:        true,
		PublishBuffer:  16,
		PublishTimeout: config.Duration(time.Second),
		Topics:         testTopics(),
	}
}

func TestPublisher_FlushesOnClose(t *testing.T) {
	db, mock := redismock.NewClientMock()
	topics := testTopics()

	checked := AuthorizationChecked(checkRequest(), types.Allowed("Direct permission granted", []string{"DATASET:READ"}))
	created := RoleCreated(uuid.New(), uuid.New(), "DATA_ANALYST", "admin-1")

	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: topics.AuthorizationChecked,
		Values: []interface{}{"event", Encode(checked)},
	}).SetVal("1-0")
	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: topics.RoleEvents,
		Values: []interface{}{"event", Encode(created)},
	}).SetVal("1-1")

	rec := newRecordingMetrics()
	p := NewPublisher(db, publisherConfig(), zap.NewNop(), rec)

	p.Publish(checked)
	p.Publish(created)
	require.NoError(t, p.Close())

	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1, rec.publishedCount(topics.AuthorizationChecked, "published"))
	assert.Equal(t, 1, rec.publishedCount(topics.RoleEvents, "published"))
}

func TestPublisher_RecordsFailedPublish(t *testing.T) {
	db, mock := redismock.NewClientMock()
	topics := testTopics()

	ev := RoleCreated(uuid.New(), uuid.New(), "DATA_ANALYST", "admin-1")
	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: topics.RoleEvents,
		Values: []interface{}{"event", Encode(ev)},
	}).SetErr(errors.New("connection refused"))

	rec := newRecordingMetrics()
	p := NewPublisher(db, publisherConfig(), zap.NewNop(), rec)

	p.Publish(ev)
	require.NoError(t, p.Close())

	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1, rec.publishedCount(topics.RoleEvents, "failed"))
	assert.Equal(t, 0, rec.publishedCount(topics.RoleEvents, "published"))
}

func TestPublisher_DropsOldestWhenFull(t *testing.T) {
	db, mock := redismock.NewClientMock()
	topics := testTopics()
	rec := newRecordingMetrics()

	// Built without the flusher goroutine so enqueues accumulate; a ring
	// of this size holds three entries before overwriting.
	p := &Publisher{
		client:  db,
		topics:  topics,
		timeout: time.Second,
		buffer:  make([]*Event, 4),
		size:    4,
		flushCh: make(chan struct{}, 1),
		doneCh:  make(chan struct{}),
		logger:  zap.NewNop(),
		metrics: rec,
	}

	all := make([]*Event, 6)
	for i := range all {
		all[i] = RoleCreated(uuid.New(), uuid.New(), "DATA_ANALYST", "admin-1")
		p.Publish(all[i])
	}

	// The three newest survive.
	for _, ev := range all[3:] {
		mock.ExpectXAdd(&redis.XAddArgs{
			Stream: topics.RoleEvents,
			Values: []interface{}{"event", Encode(ev)},
		}).SetVal("1-0")
	}

	p.flush()

	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 3, rec.publishedCount(topics.RoleEvents, "dropped"))
	assert.Equal(t, 3, rec.publishedCount(topics.RoleEvents, "published"))
}

func TestPublisher_HoldsConfiguredCapacity(t *testing.T) {
	db, mock := redismock.NewClientMock()
	topics := testTopics()
	rec := newRecordingMetrics()

	// Sized the way NewPublisher sizes a capacity-4 ring: one spare slot,
	// because the write that catches the read index drops the oldest.
	p := &Publisher{
		client:  db,
		topics:  topics,
		timeout: time.Second,
		buffer:  make([]*Event, 5),
		size:    5,
		flushCh: make(chan struct{}, 1),
		doneCh:  make(chan struct{}),
		logger:  zap.NewNop(),
		metrics: rec,
	}

	all := make([]*Event, 4)
	for i := range all {
		all[i] = RoleCreated(uuid.New(), uuid.New(), "DATA_ANALYST", "admin-1")
		p.Publish(all[i])
	}
	for _, ev := range all {
		mock.ExpectXAdd(&redis.XAddArgs{
			Stream: topics.RoleEvents,
			Values: []interface{}{"event", Encode(ev)},
		}).SetVal("1-0")
	}

	p.flush()

	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, rec.publishedCount(topics.RoleEvents, "dropped"))
	assert.Equal(t, 4, rec.publishedCount(topics.RoleEvents, "published"))

	// The constructor allocates the spare slot itself.
	cfg := publisherConfig()
	cfg.PublishBuffer = 4
	np := NewPublisher(db, cfg, zap.NewNop(), rec)
	require.NoError(t, np.Close())
	assert.Len(t, np.buffer, 5)
}

func TestPublisher_SkipsUnroutableType(t *testing.T) {
	db, mock := redismock.NewClientMock()

	ev := newEvent("SOMETHING_ELSE", uuid.New())

	rec := newRecordingMetrics()
	p := NewPublisher(db, publisherConfig(), zap.NewNop(), rec)

	p.Publish(ev)
	require.NoError(t, p.Close())

	require.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, rec.published)
}
