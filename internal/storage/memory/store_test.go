package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubmail/backend/internal/domain"
	"hubmail/backend/internal/storage"
)

func boolPtr(v bool) *bool    { return &v }
func strPtr(v string) *string { return &v }

func seedEmail(t *testing.T, s *Store, hubID int32) *domain.EmailWithRecipients {
	t.Helper()
	created, err := s.CreateEmail(&domain.NewEmail{
		HubID:   hubID,
		Subject: "Hello",
		Message: "Dear {title}",
		Recipients: []domain.NewRecipient{
			{Address: "a@x", Name: "Ada", Fields: domain.FieldMap{"title": "Dr"}},
			{Address: "b@y", Name: "Bob"},
		},
	})
	require.NoError(t, err)
	return created
}

func TestHubScoping(t *testing.T) {
	s := NewStore()
	s.SeedHub(domain.Hub{ID: 1})
	s.SeedHub(domain.Hub{ID: 2})
	created := seedEmail(t, s, 1)

	_, err := s.GetEmailByID(created.Email.ID, 2)
	assert.ErrorIs(t, err, storage.ErrEmailNotFound)

	_, err = s.GetRecipientByID(created.Recipients[0].ID, 2)
	assert.ErrorIs(t, err, storage.ErrRecipientNotFound)

	got, err := s.GetEmailByID(created.Email.ID, 1)
	require.NoError(t, err)
	assert.Len(t, got.Recipients, 2)
}

func TestUpdateRecipientRecomputesCounters(t *testing.T) {
	s := NewStore()
	s.SeedHub(domain.Hub{ID: 1})
	created := seedEmail(t, s, 1)
	first := created.Recipients[0].ID

	require.NoError(t, s.UpdateRecipient(first, &domain.UpdateRecipient{
		IsSent:  boolPtr(true),
		Opened:  boolPtr(true),
		Replied: boolPtr(true),
		Reply:   strPtr("Thanks!"),
	}))

	got, err := s.GetEmailByID(created.Email.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Email.NumSent)
	assert.Equal(t, 1, got.Email.NumOpened)
	assert.Equal(t, 1, got.Email.NumReplied)

	recipient, err := s.GetRecipientByID(first, 1)
	require.NoError(t, err)
	require.NotNil(t, recipient.Reply)
	assert.Equal(t, "Thanks!", *recipient.Reply)

	// 后写覆盖
	require.NoError(t, s.UpdateRecipient(first, &domain.UpdateRecipient{Reply: strPtr("Again")}))
	recipient, err = s.GetRecipientByID(first, 1)
	require.NoError(t, err)
	assert.Equal(t, "Again", *recipient.Reply)
}

func TestUnsubscribeIdempotent(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Unsubscribe(1, "b@y", strPtr("Unsubscribe please")))
	require.NoError(t, s.Unsubscribe(1, "b@y", strPtr("another reason")))
	require.NoError(t, s.Unsubscribe(2, "b@y", nil))

	rows := s.Unsubscribes()
	assert.Len(t, rows, 2)
}

func TestCursorMonotonic(t *testing.T) {
	s := NewStore()
	s.SeedHub(domain.Hub{ID: 1, LastProcessedUID: 10})

	require.NoError(t, s.SetLastProcessedUID(1, 13))
	require.NoError(t, s.SetLastProcessedUID(1, 11)) // 不回退

	hub, err := s.GetHubByID(1)
	require.NoError(t, err)
	assert.Equal(t, int32(13), hub.LastProcessedUID)

	assert.ErrorIs(t, s.SetLastProcessedUID(99, 1), storage.ErrHubNotFound)
}
