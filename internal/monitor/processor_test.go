package monitor

import (
	"fmt"
	"strings"
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

type fakePublisher struct {
	mu     sync.Mutex
	events []interface{}
}

func (f *fakePublisher) Publish(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, v)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func rawMessage(from, subject, inReplyTo, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: boss@example.com\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	if inReplyTo != "" {
		b.WriteString("In-Reply-To: <" + inReplyTo + ">\r\n")
	}
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func setup(t *testing.T) (*memory.Store, *fakePublisher, *Processor, int32) {
	t.Helper()
	store := memory.NewStore()
	store.SeedHub(domain.Hub{ID: 1, Sender: "boss@example.com"})
	created, err := store.CreateEmail(&domain.NewEmail{
		HubID:   1,
		Subject: "Offer",
		Message: "Hi",
		Recipients: []domain.NewRecipient{
			{Address: "ada@corp.ru", Name: "Ada"},
		},
	})
	require.NoError(t, err)

	pub := &fakePublisher{}
	proc := NewProcessor(store, pub, testMetrics, logger.NewDevelopmentLogger(), "example.com")
	return store, pub, proc, created.Recipients[0].ID
}

func TestProcessReplyUpdatesRecipient(t *testing.T) {
	store, pub, proc, recipientID := setup(t)
	hub, err := store.GetHubByID(1)
	require.NoError(t, err)

	raw := rawMessage("ada@corp.ru", "Re: Offer",
		fmt.Sprintf("%d@example.com", recipientID), "Sounds great!\r\n\r\n> Hi")
	require.NoError(t, proc.Process(hub, raw))

	recipient, err := store.GetRecipientByID(recipientID, 1)
	require.NoError(t, err)
	assert.True(t, recipient.IsSent)
	assert.True(t, recipient.Opened)
	assert.True(t, recipient.Replied)
	require.NotNil(t, recipient.Reply)
	assert.Equal(t, "Sounds great!", *recipient.Reply)

	require.Len(t, pub.events, 1)
	event, ok := pub.events[0].(domain.ZMQReplyMessage)
	require.True(t, ok)
	assert.Equal(t, int32(1), event.HubID)
	assert.Equal(t, "ada@corp.ru", event.Email)
	assert.Equal(t, "Sounds great!", event.Message)
	require.NotNil(t, event.Subject)
	assert.Equal(t, "Re: Offer", *event.Subject)
}

func TestProcessReplyIdempotent(t *testing.T) {
	store, _, proc, recipientID := setup(t)
	hub, err := store.GetHubByID(1)
	require.NoError(t, err)

	raw := rawMessage("ada@corp.ru", "Re: Offer",
		fmt.Sprintf("%d@example.com", recipientID), "Sounds great!")
	require.NoError(t, proc.Process(hub, raw))
	require.NoError(t, proc.Process(hub, raw))

	recipient, err := store.GetRecipientByID(recipientID, 1)
	require.NoError(t, err)
	assert.True(t, recipient.Replied)
	require.NotNil(t, recipient.Reply)
	assert.Equal(t, "Sounds great!", *recipient.Reply)

	got, err := store.GetEmailByID(recipient.EmailID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Email.NumReplied)
}

func TestProcessUnsubscribe(t *testing.T) {
	store, pub, proc, recipientID := setup(t)
	hub, err := store.GetHubByID(1)
	require.NoError(t, err)

	raw := rawMessage("ada@corp.ru", "Unsubscribe me", "", "stop it")
	require.NoError(t, proc.Process(hub, raw))
	// 重复退订为无操作
	require.NoError(t, proc.Process(hub, raw))

	rows := store.Unsubscribes()
	require.Len(t, rows, 1)
	assert.Equal(t, int32(1), rows[0].HubID)
	assert.Equal(t, "ada@corp.ru", rows[0].Address)
	require.NotNil(t, rows[0].Reason)
	assert.Equal(t, "Unsubscribe me", *rows[0].Reason)

	// 收件人记录不受退订影响
	recipient, err := store.GetRecipientByID(recipientID, 1)
	require.NoError(t, err)
	assert.False(t, recipient.Replied)

	require.Len(t, pub.events, 2)
	event, ok := pub.events[0].(domain.ZMQUnsubscribeMessage)
	require.True(t, ok)
	assert.Equal(t, "ada@corp.ru", event.Email)
}

func TestProcessUnsubscribeBeatsReplyCorrelation(t *testing.T) {
	store, _, proc, recipientID := setup(t)
	hub, err := store.GetHubByID(1)
	require.NoError(t, err)

	// 退信：携带合法关联但来自 MAILER-DAEMON
	raw := rawMessage("MAILER-DAEMON@corp.ru", "Undelivered Mail Returned to Sender",
		fmt.Sprintf("%d@example.com", recipientID), "bounce details")
	require.NoError(t, proc.Process(hub, raw))

	recipient, err := store.GetRecipientByID(recipientID, 1)
	require.NoError(t, err)
	assert.False(t, recipient.Replied)
	assert.Len(t, store.Unsubscribes(), 1)
}

func TestProcessUnknownTokenIgnored(t *testing.T) {
	store, pub, proc, _ := setup(t)
	hub, err := store.GetHubByID(1)
	require.NoError(t, err)

	raw := rawMessage("someone@else.com", "Re: Offer", "999@example.com", "hello")
	require.NoError(t, proc.Process(hub, raw))

	assert.Empty(t, pub.events)
	assert.Empty(t, store.Unsubscribes())
}

func TestProcessOtherHubTokenIgnored(t *testing.T) {
	store, pub, proc, recipientID := setup(t)
	store.SeedHub(domain.Hub{ID: 2, Sender: "other@example.com"})
	hub2, err := store.GetHubByID(2)
	require.NoError(t, err)

	// Hub 2 的会话收到 Hub 1 收件人的关联令牌
	raw := rawMessage("ada@corp.ru", "Re: Offer",
		fmt.Sprintf("%d@example.com", recipientID), "hello")
	require.NoError(t, proc.Process(hub2, raw))

	recipient, err := store.GetRecipientByID(recipientID, 1)
	require.NoError(t, err)
	assert.False(t, recipient.Replied)
	assert.Empty(t, pub.events)
}
