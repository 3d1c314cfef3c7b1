// Package memory 内存仓储实现，用于开发模式与测试。
package memory

import (
	"sync"
	"time"

	"hubmail/backend/internal/domain"
	"hubmail/backend/internal/storage"
)

type unsubKey struct {
	hubID   int32
	address string
}

// Store 内存存储实现，互斥锁保护，可跨协程共享。
type Store struct {
	mu           sync.RWMutex
	hubs         map[int32]domain.Hub
	emails       map[int32]domain.Email
	recipients   map[int32]domain.Recipient
	unsubscribes map[unsubKey]domain.Unsubscribe
	nextEmailID  int32
	nextRecipID  int32
	nextUnsubID  int32
}

// NewStore 创建内存存储
func NewStore() *Store {
	return &Store{
		hubs:         make(map[int32]domain.Hub),
		emails:       make(map[int32]domain.Email),
		recipients:   make(map[int32]domain.Recipient),
		unsubscribes: make(map[unsubKey]domain.Unsubscribe),
		nextEmailID:  1,
		nextRecipID:  1,
		nextUnsubID:  1,
	}
}

// SeedHub 预置一个 Hub（开发/测试用）
func (s *Store) SeedHub(hub domain.Hub) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hubs[hub.ID] = hub
}

// GetHubByID 实现 storage.HubReader
func (s *Store) GetHubByID(id int32) (*domain.Hub, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hub, ok := s.hubs[id]
	if !ok {
		return nil, storage.ErrHubNotFound
	}
	return &hub, nil
}

// ListHubs 实现 storage.HubReader
func (s *Store) ListHubs() ([]domain.Hub, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hubs := make([]domain.Hub, 0, len(s.hubs))
	for _, hub := range s.hubs {
		hubs = append(hubs, hub)
	}
	return hubs, nil
}

// SetLastProcessedUID 实现 storage.HubWriter，游标单调不减
func (s *Store) SetLastProcessedUID(hubID, uid int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hub, ok := s.hubs[hubID]
	if !ok {
		return storage.ErrHubNotFound
	}
	if uid <= hub.LastProcessedUID {
		return nil
	}
	hub.LastProcessedUID = uid
	s.hubs[hubID] = hub
	return nil
}

// GetEmailByID 实现 storage.EmailReader
func (s *Store) GetEmailByID(id, hubID int32) (*domain.EmailWithRecipients, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email, ok := s.emails[id]
	if !ok || email.HubID != hubID {
		return nil, storage.ErrEmailNotFound
	}
	return &domain.EmailWithRecipients{
		Email:      email,
		Recipients: s.recipientsOfLocked(id),
	}, nil
}

// GetRecipientByID 实现 storage.EmailReader
func (s *Store) GetRecipientByID(id, hubID int32) (*domain.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recipient, ok := s.recipients[id]
	if !ok {
		return nil, storage.ErrRecipientNotFound
	}
	email, ok := s.emails[recipient.EmailID]
	if !ok || email.HubID != hubID {
		return nil, storage.ErrRecipientNotFound
	}
	return &recipient, nil
}

// CreateEmail 实现 storage.EmailWriter
func (s *Store) CreateEmail(newEmail *domain.NewEmail) (*domain.EmailWithRecipients, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	email := domain.Email{
		ID:             s.nextEmailID,
		HubID:          newEmail.HubID,
		Subject:        newEmail.Subject,
		Message:        newEmail.Message,
		Attachment:     newEmail.Attachment,
		AttachmentName: newEmail.AttachmentName,
		AttachmentMime: newEmail.AttachmentMime,
		CreatedAt:      now,
	}
	s.nextEmailID++
	s.emails[email.ID] = email

	for _, item := range newEmail.Recipients {
		fields := item.Fields
		if fields == nil {
			fields = domain.FieldMap{}
		}
		recipient := domain.Recipient{
			ID:        s.nextRecipID,
			EmailID:   email.ID,
			Address:   item.Address,
			Name:      item.Name,
			Fields:    fields,
			UpdatedAt: now,
		}
		s.nextRecipID++
		s.recipients[recipient.ID] = recipient
	}

	return &domain.EmailWithRecipients{
		Email:      email,
		Recipients: s.recipientsOfLocked(email.ID),
	}, nil
}

// UpdateRecipient 实现 storage.EmailWriter
func (s *Store) UpdateRecipient(recipientID int32, upd *domain.UpdateRecipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recipient, ok := s.recipients[recipientID]
	if !ok {
		return storage.ErrRecipientNotFound
	}
	if upd.IsSent != nil {
		recipient.IsSent = *upd.IsSent
	}
	if upd.Opened != nil {
		recipient.Opened = *upd.Opened
	}
	if upd.Replied != nil {
		recipient.Replied = *upd.Replied
	}
	if upd.Reply != nil {
		reply := *upd.Reply
		recipient.Reply = &reply
	}
	recipient.UpdatedAt = time.Now().UTC()
	s.recipients[recipientID] = recipient

	s.recomputeCountersLocked(recipient.EmailID)
	return nil
}

// Unsubscribe 实现 storage.EmailWriter，重复插入为无操作
func (s *Store) Unsubscribe(hubID int32, address string, reason *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := unsubKey{hubID: hubID, address: address}
	if _, exists := s.unsubscribes[key]; exists {
		return nil
	}
	s.unsubscribes[key] = domain.Unsubscribe{
		ID:        s.nextUnsubID,
		HubID:     hubID,
		Address:   address,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	s.nextUnsubID++
	return nil
}

// Unsubscribes 返回退订表快照（测试用）
func (s *Store) Unsubscribes() []domain.Unsubscribe {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Unsubscribe, 0, len(s.unsubscribes))
	for _, row := range s.unsubscribes {
		out = append(out, row)
	}
	return out
}

func (s *Store) recipientsOfLocked(emailID int32) []domain.Recipient {
	var out []domain.Recipient
	for _, recipient := range s.recipients {
		if recipient.EmailID == emailID {
			out = append(out, recipient)
		}
	}
	return out
}

func (s *Store) recomputeCountersLocked(emailID int32) {
	email, ok := s.emails[emailID]
	if !ok {
		return
	}
	email.NumSent, email.NumOpened, email.NumReplied = 0, 0, 0
	for _, recipient := range s.recipients {
		if recipient.EmailID != emailID {
			continue
		}
		if recipient.IsSent {
			email.NumSent++
		}
		if recipient.Opened {
			email.NumOpened++
		}
		if recipient.Replied {
			email.NumReplied++
		}
	}
	s.emails[emailID] = email
}
