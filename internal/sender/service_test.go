package sender

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubmail/backend/internal/domain"
	"hubmail/backend/internal/logger"
	"hubmail/backend/internal/monitoring"
	"hubmail/backend/internal/storage/memory"
)

// promauto 注册到默认注册表，整个测试二进制只建一份
var testMetrics = monitoring.NewMetrics()

type sentMail struct {
	hubID int32
	to    string
	raw   []byte
}

// fakeMailer 记录投递调用，failAddrs 中的地址模拟投递失败
type fakeMailer struct {
	mu        sync.Mutex
	sent      []sentMail
	failAddrs map[string]bool
}

func (f *fakeMailer) Send(_ context.Context, hub *domain.Hub, to string, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAddrs[to] {
		return assert.AnError
	}
	f.sent = append(f.sent, sentMail{hubID: hub.ID, to: to, raw: raw})
	return nil
}

func (f *fakeMailer) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.to)
	}
	return out
}

func newTestService(store *memory.Store, fm *fakeMailer) *Service {
	return NewService(Options{
		Store:   store,
		Mailer:  fm,
		Metrics: testMetrics,
		Log:     logger.NewDevelopmentLogger(),
		Domain:  "example.com",
		Workers: 1, QueueSize: 1,
	})
}

func seedHub(store *memory.Store) {
	store.SeedHub(domain.Hub{
		ID:            1,
		Sender:        "boss@example.com",
		EmailTemplate: "<div>{message}</div><a href=\"{unsubscribe_url}\">bye</a>",
	})
}

func TestRetrySkipsSentRecipients(t *testing.T) {
	store := memory.NewStore()
	seedHub(store)
	created, err := store.CreateEmail(&domain.NewEmail{
		HubID:   1,
		Subject: "Offer",
		Message: "Dear {title} {name}",
		Recipients: []domain.NewRecipient{
			{Address: "a@x", Name: "Ada", Fields: domain.FieldMap{"title": "Dr"}},
			{Address: "b@y", Name: "Bob"},
		},
	})
	require.NoError(t, err)

	// 第一个收件人已发送过
	sent := true
	first := created.Recipients[0].ID
	second := created.Recipients[1].ID
	if created.Recipients[0].Address != "a@x" {
		first, second = second, first
	}
	require.NoError(t, store.UpdateRecipient(first, &domain.UpdateRecipient{IsSent: &sent}))

	fm := &fakeMailer{}
	svc := newTestService(store, fm)
	svc.HandleJob(context.Background(), "job-1", &domain.SendEmailJob{
		Retry: &domain.RetryEmailJob{EmailID: created.Email.ID, HubID: 1},
	})

	assert.Equal(t, []string{"b@y"}, fm.sentTo())

	recipient, err := store.GetRecipientByID(second, 1)
	require.NoError(t, err)
	assert.True(t, recipient.IsSent)

	// 重发整封邮件不再产生任何投递
	svc.HandleJob(context.Background(), "job-2", &domain.SendEmailJob{
		Retry: &domain.RetryEmailJob{EmailID: created.Email.ID, HubID: 1},
	})
	assert.Len(t, fm.sentTo(), 1)
}

func TestNewEmailJobFromWireFormat(t *testing.T) {
	store := memory.NewStore()
	seedHub(store)

	raw := `{"NewEmail":[{"id":9,"email":"ops@example.com"},{` +
		`"hub_id":1,"subject":"Hello","message":"Hi {name}",` +
		`"recipients":[{"address":"c@z","name":"Cleo","fields":{}}]}]}`
	var job domain.SendEmailJob
	require.NoError(t, json.Unmarshal([]byte(raw), &job))
	require.NotNil(t, job.New)

	fm := &fakeMailer{}
	svc := newTestService(store, fm)
	svc.HandleJob(context.Background(), "job-3", &job)

	require.Equal(t, []string{"c@z"}, fm.sentTo())
	assert.Equal(t, int32(1), fm.sent[0].hubID)

	// 落库且计数已更新
	got, err := store.GetEmailByID(1, 1)
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.Email.Subject)
	assert.Equal(t, 1, got.Email.NumSent)
	require.Len(t, got.Recipients, 1)
	assert.True(t, got.Recipients[0].IsSent)
	assert.NotEmpty(t, fm.sent[0].raw)
}

func TestDeliveryFailureDoesNotBlockOthers(t *testing.T) {
	store := memory.NewStore()
	seedHub(store)
	created, err := store.CreateEmail(&domain.NewEmail{
		HubID:   1,
		Subject: "Offer",
		Message: "Hi",
		Recipients: []domain.NewRecipient{
			{Address: "bad@x", Name: "Bad"},
			{Address: "good@y", Name: "Good"},
		},
	})
	require.NoError(t, err)

	fm := &fakeMailer{failAddrs: map[string]bool{"bad@x": true}}
	svc := newTestService(store, fm)
	svc.HandleJob(context.Background(), "job-4", &domain.SendEmailJob{
		Retry: &domain.RetryEmailJob{EmailID: created.Email.ID, HubID: 1},
	})

	assert.Equal(t, []string{"good@y"}, fm.sentTo())

	got, err := store.GetEmailByID(created.Email.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Email.NumSent)
	for _, recipient := range got.Recipients {
		if recipient.Address == "bad@x" {
			assert.False(t, recipient.IsSent)
		} else {
			assert.True(t, recipient.IsSent)
		}
	}
}

func TestRetryUnknownEmailFailsJobOnly(t *testing.T) {
	store := memory.NewStore()
	seedHub(store)

	fm := &fakeMailer{}
	svc := newTestService(store, fm)
	svc.HandleJob(context.Background(), "job-5", &domain.SendEmailJob{
		Retry: &domain.RetryEmailJob{EmailID: 999, HubID: 1},
	})

	assert.Empty(t, fm.sentTo())
}
