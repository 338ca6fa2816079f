// Package auth binds API keys to chain addresses.
//
// A key is issued either by proving control of an address (an EIP-191
// signature over IssuanceMessage) or, for bootstrapping the owner, with the
// configured admin secret. Every authenticated request carries the bound
// address as its caller; roles (owner, operator) are resolved elsewhere.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/idgen"
)

var (
	ErrNoAPIKey         = errors.New("auth: API key required")
	ErrInvalidAPIKey    = errors.New("auth: invalid or expired API key")
	ErrKeyNotFound      = errors.New("auth: API key not found")
	ErrInvalidSignature = errors.New("auth: invalid signature")
	ErrStaleMessage     = errors.New("auth: issuance message expired")
	ErrBadAdminSecret   = errors.New("auth: admin secret rejected")
)

// KeyPrefix starts every raw key.
const KeyPrefix = "sk_"

// DefaultMessageTTL bounds how old a signed issuance message may be.
const DefaultMessageTTL = 5 * time.Minute

// APIKey is a stored key. The raw key is never stored.
type APIKey struct {
	ID        string        `json:"id"`
	Hash      string        `json:"-"`
	Address   chain.Address `json:"address"`
	Name      string        `json:"name"`
	CreatedAt time.Time     `json:"created_at"`
	LastUsed  time.Time     `json:"last_used,omitempty"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
	Revoked   bool          `json:"revoked"`
}

func (k *APIKey) clone() *APIKey {
	cp := *k
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}

// Store persists API keys.
type Store interface {
	Create(ctx context.Context, key *APIKey) error
	GetByHash(ctx context.Context, hash string) (*APIKey, error)
	GetByAddress(ctx context.Context, addr chain.Address) ([]*APIKey, error)
	Update(ctx context.Context, key *APIKey) error
}

// Manager issues and validates keys.
type Manager struct {
	store       Store
	adminSecret string
	messageTTL  time.Duration
	now         func() time.Time
}

// NewManager creates a Manager. adminSecret enables Bootstrap when non-empty.
func NewManager(store Store, adminSecret string) *Manager {
	return &Manager{store: store, adminSecret: adminSecret, messageTTL: DefaultMessageTTL, now: time.Now}
}

// WithClock replaces the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// GenerateKey creates a key bound to addr and returns the raw key, which is
// shown once.
func (m *Manager) GenerateKey(ctx context.Context, addr chain.Address, name string) (string, *APIKey, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}
	rawKey := KeyPrefix + hex.EncodeToString(b)

	name = strings.TrimSpace(name)
	if name == "" {
		name = "default"
	}
	key := &APIKey{
		ID:        idgen.WithPrefix("ak_"),
		Hash:      hashKey(rawKey),
		Address:   addr,
		Name:      name,
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.Create(ctx, key); err != nil {
		return "", nil, fmt.Errorf("failed to store API key: %w", err)
	}
	return rawKey, key, nil
}

// IssueWithSignature issues a key to the address that signed
// IssuanceMessage(addr, timestamp). The timestamp must be recent.
func (m *Manager) IssueWithSignature(ctx context.Context, addr chain.Address, timestamp int64, signature, name string) (string, *APIKey, error) {
	issued := time.Unix(timestamp, 0)
	if age := m.now().Sub(issued); age > m.messageTTL || age < -m.messageTTL {
		return "", nil, ErrStaleMessage
	}
	if err := VerifySignature(IssuanceMessage(addr, timestamp), signature, addr); err != nil {
		return "", nil, err
	}
	return m.GenerateKey(ctx, addr, name)
}

// Bootstrap issues a key to addr when secret matches the admin secret.
func (m *Manager) Bootstrap(ctx context.Context, secret string, addr chain.Address, name string) (string, *APIKey, error) {
	if m.adminSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(m.adminSecret)) != 1 {
		return "", nil, ErrBadAdminSecret
	}
	return m.GenerateKey(ctx, addr, name)
}

// ValidateKey resolves a raw key (optionally "Bearer "-prefixed).
func (m *Manager) ValidateKey(ctx context.Context, rawKey string) (*APIKey, error) {
	rawKey = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rawKey), "Bearer "))
	if rawKey == "" {
		return nil, ErrNoAPIKey
	}
	if !strings.HasPrefix(rawKey, KeyPrefix) {
		return nil, ErrInvalidAPIKey
	}

	key, err := m.store.GetByHash(ctx, hashKey(rawKey))
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	now := m.now()
	if key.Revoked || (key.ExpiresAt != nil && now.After(*key.ExpiresAt)) {
		return nil, ErrInvalidAPIKey
	}

	key.LastUsed = now.UTC()
	_ = m.store.Update(ctx, key)
	return key, nil
}

// ListKeys returns addr's keys, newest first.
func (m *Manager) ListKeys(ctx context.Context, addr chain.Address) ([]*APIKey, error) {
	return m.store.GetByAddress(ctx, addr)
}

// RevokeKey revokes one of addr's keys.
func (m *Manager) RevokeKey(ctx context.Context, keyID string, addr chain.Address) error {
	keys, err := m.store.GetByAddress(ctx, addr)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.ID == keyID {
			k.Revoked = true
			return m.store.Update(ctx, k)
		}
	}
	return ErrKeyNotFound
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu     sync.RWMutex
	keys   map[string]*APIKey // by ID
	byHash map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*APIKey), byHash: make(map[string]string)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(_ context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.ID] = key.clone()
	s.byHash[key.Hash] = key.ID
	return nil
}

func (s *MemoryStore) GetByHash(_ context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return s.keys[id].clone(), nil
}

func (s *MemoryStore) GetByAddress(_ context.Context, addr chain.Address) ([]*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*APIKey
	for _, k := range s.keys {
		if k.Address == addr {
			result = append(result, k.clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) Update(_ context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; !ok {
		return ErrKeyNotFound
	}
	s.keys[key.ID] = key.clone()
	return nil
}
