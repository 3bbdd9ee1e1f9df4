// File: services/session/store.go
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tavolo/models"

	"github.com/go-redis/redis/v8"
)

const sessionKeyPrefix = "conv:sess:"

// docTTL bounds the lifetime of a whole session document in Redis. Pending
// proposals expire much earlier via their own ExpiresAt, checked lazily on
// read; the document TTL only keeps unread garbage from accumulating.
const docTTL = 24 * time.Hour

// Store is the per-(tenant, phone) conversation state store.
type Store interface {
	SetPending(ctx context.Context, tenantID, phone string, p models.PendingBooking, ttl time.Duration) error
	GetPendingIfValid(ctx context.Context, tenantID, phone string) (*models.PendingBooking, error)
	ClearSession(ctx context.Context, tenantID, phone string) error

	SetPendingCancel(ctx context.Context, tenantID, phone, reservationID string, ttl time.Duration) error
	GetPendingCancelIfValid(ctx context.Context, tenantID, phone string) (*models.PendingCancel, error)
	ClearPendingCancel(ctx context.Context, tenantID, phone string) error

	SetPendingModify(ctx context.Context, tenantID, phone string, p models.PendingModify, ttl time.Duration) error
	GetPendingModifyIfValid(ctx context.Context, tenantID, phone string) (*models.PendingModify, error)
	ClearPendingModify(ctx context.Context, tenantID, phone string) error

	SetDraft(ctx context.Context, tenantID, phone string, patch models.Draft) error
	GetDraft(ctx context.Context, tenantID, phone string) (models.Draft, error)

	AppendHistory(ctx context.Context, tenantID, phone string, item models.HistoryItem) error
	GetHistory(ctx context.Context, tenantID, phone string) ([]models.HistoryItem, error)

	SetLastOutboundNow(ctx context.Context, tenantID, phone string) error
	LastOutboundWithin(ctx context.Context, tenantID, phone string, window time.Duration) (bool, error)
}

// RedisSessionStore keeps each session as one JSON document under a native
// Redis TTL.
type RedisSessionStore struct {
	client       *redis.Client
	defaultTTL   time.Duration
	historyLimit int
	now          func() time.Time
}

// NewRedisSessionStore creates a session store. defaultTTL governs pending
// proposals whose setter passes ttl = 0.
func NewRedisSessionStore(client *redis.Client, defaultTTL time.Duration, historyLimit int) *RedisSessionStore {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	if historyLimit <= 0 {
		historyLimit = 12
	}
	return &RedisSessionStore{
		client:       client,
		defaultTTL:   defaultTTL,
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

func sessionKey(tenantID, phone string) string {
	return sessionKeyPrefix + tenantID + ":" + phone
}

func (s *RedisSessionStore) load(ctx context.Context, tenantID, phone string) (*models.SessionData, error) {
	data, err := s.client.Get(ctx, sessionKey(tenantID, phone)).Result()
	if err == redis.Nil {
		return &models.SessionData{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var sess models.SessionData
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &sess, nil
}

func (s *RedisSessionStore) save(ctx context.Context, tenantID, phone string, sess *models.SessionData) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(tenantID, phone), b, docTTL).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	return s.now().Add(ttl).UnixMilli()
}

// SetPending stores the single "create booking" proposal. Any other pending
// slot is cleared so at most one proposal is ever live.
func (s *RedisSessionStore) SetPending(ctx context.Context, tenantID, phone string, p models.PendingBooking, ttl time.Duration) error {
	sess, err := s.load(ctx, tenantID, phone)
	if err != nil {
		return err
	}
	p.ExpiresAt = s.expiry(ttl)
	sess.PendingBooking = &p
	sess.PendingCancel = nil
	sess.PendingModify = nil
	return s.save(ctx, tenantID, phone, sess)
}

// GetPendingIfValid returns the create proposal, treating one past its
// expiry as absent (lazy expiry: the slot is cleared on this read).
func (s *RedisSessionStore) GetPendingIfValid(ctx context.Context, tenantID, phone string) (*models.PendingBooking, error) {
	sess, err := s.load(ctx, tenantID, phone)
	if err != nil {
		return nil, err
	}
	p := sess.PendingBooking
	if p == nil {
		return nil, nil
	}
	if p.ExpiresAt < s.now().UnixMilli() {
		sess.PendingBooking = nil
		if err := s.save(ctx, tenantID, phone, sess); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return p, nil
}

// ClearSession drops the whole session document.
func (s *RedisSessionStore) ClearSession(ctx context.Context, tenantID, phone string) error {
	if err := s.client.Del(ctx, sessionKey(tenantID, phone)).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) SetPendingCancel(ctx context.Context, tenantID, phone, reservationID string, ttl time.Duration) error {
	sess, err := s.load(ctx, tenantID, phone)
	if err != nil {
		return err
	}
	sess.PendingCancel = &models.PendingCancel{ReservationID: reservationID, ExpiresAt: s.expiry(ttl)}
	sess.PendingBooking = nil
	sess.PendingModify = nil
	return s.save(ctx, tenantID, phone, sess)
}

func (s *RedisSessionStore) GetPendingCancelIfValid(ctx context.Context, tenantID, phone string) (*models.PendingCancel, error) {
	sess, err := s.load(ctx, tenantID, phone)
	if err != nil {
		return nil, err
	}
	p := sess.PendingCancel
	if p == nil {
		return nil, nil
	}
	if p.ExpiresAt < s.now().UnixMilli() {
		sess.PendingCancel = nil
		if err := s.save(ctx, tenantID, phone, sess); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return p, nil
}

func (s *RedisSessionStore) ClearPendingCancel(ctx context.Context, tenantID, phone string) error {
	sess, err := s.load(ctx, tenantID, phone)
	if err != nil {
		return err
	}
	sess.PendingCancel = nil
	return s.save(ctx, tenantID, phone, sess)
}

func (s *RedisSessionStore) SetPendingModify(ctx context.Context, tenantID, phone string, p models.PendingModify, ttl time.Duration) error {
	sess, err := s.load(ctx, tenantID, phone)
	if err != nil {
		return err
	}
	p.ExpiresAt = s.expiry(ttl)
	sess.PendingModify = &p
	sess.PendingBooking = nil
	sess.PendingCancel = nil
	return s.save(ctx, tenantID, phone, sess)
}

func (s *RedisSessionStore) GetPendingModifyIfValid(ctx context.Context, tenantID, phone string) (*models.PendingModify, error) {
	sess, err := s.load(ctx, tenantID, phone)
	if err != nil {
		return nil, err
	}
	p := sess.PendingModify
	if p == nil {
		return nil, nil
	}
	if p.ExpiresAt < s.now().UnixMilli() {
		sess.PendingModify = nil
		if err := s.save(ctx, tenantID, phone, sess); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return p, nil
}

func (s *RedisSessionStore) ClearPendingModify(ctx context.Context, tenantID, phone string) error {
	sess, err := s.load(ctx, tenantID, phone)
	if err != nil {
		return err
	}
	sess.PendingModify = nil
	return s.save(ctx, tenantID, phone, sess)
}

// SetDraft merges a partial field patch into the draft; zero values in the
// patch never erase previously collected fields.
func (s *RedisSessionStore) SetDraft(ctx context.Context, tenantID, phone string, patch models.Draft) error {
	sess, err := s.load(ctx, tenantID, phone)
	if err != nil {
		return err
	}
	draft := sess.Draft
	if draft == nil {
		draft = &models.Draft{}
	}
	if patch.Date != "" {
		draft.Date = patch.Date
	}
	if patch.Time != "" {
		draft.Time = patch.Time
	}
	if patch.People != 0 {
		draft.People = patch.People
	}
	if patch.Name != "" {
		draft.Name = patch.Name
	}
	if patch.Notes != "" {
		draft.Notes = patch.Notes
	}
	sess.Draft = draft
	return s.save(ctx, tenantID, phone, sess)
}

func (s *RedisSessionStore) GetDraft(ctx context.Context, tenantID, phone string) (models.Draft, error) {
	sess, err := s.load(ctx, tenantID, phone)
	if err != nil {
		return models.Draft{}, err
	}
	if sess.Draft == nil {
		return models.Draft{}, nil
	}
	return *sess.Draft, nil
}

// AppendHistory adds one dialogue turn, evicting the oldest beyond the limit.
func (s *RedisSessionStore) AppendHistory(ctx context.Context, tenantID, phone string, item models.HistoryItem) error {
	sess, err := s.load(ctx, tenantID, phone)
	if err != nil {
		return err
	}
	sess.History = append(sess.History, item)
	if len(sess.History) > s.historyLimit {
		sess.History = sess.History[len(sess.History)-s.historyLimit:]
	}
	return s.save(ctx, tenantID, phone, sess)
}

func (s *RedisSessionStore) GetHistory(ctx context.Context, tenantID, phone string) ([]models.HistoryItem, error) {
	sess, err := s.load(ctx, tenantID, phone)
	if err != nil {
		return nil, err
	}
	return sess.History, nil
}

// SetLastOutboundNow stamps the time of the last reply actually sent.
func (s *RedisSessionStore) SetLastOutboundNow(ctx context.Context, tenantID, phone string) error {
	sess, err := s.load(ctx, tenantID, phone)
	if err != nil {
		return err
	}
	sess.LastOutboundAt = s.now().UnixMilli()
	return s.save(ctx, tenantID, phone, sess)
}

// LastOutboundWithin reports whether a reply went out within the dedupe
// window; callers drop the new reply when it did.
func (s *RedisSessionStore) LastOutboundWithin(ctx context.Context, tenantID, phone string, window time.Duration) (bool, error) {
	sess, err := s.load(ctx, tenantID, phone)
	if err != nil {
		return false, err
	}
	if sess.LastOutboundAt == 0 {
		return false, nil
	}
	return s.now().UnixMilli()-sess.LastOutboundAt < window.Milliseconds(), nil
}
