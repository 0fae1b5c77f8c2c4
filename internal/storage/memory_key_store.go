package storage

import (
	"context"
	"sync"
)

// InMemoryKeyStore is a thread-safe in-memory APIKeyStore, used in tests and
// local development where no database is available. Keys are stored in
// plaintext; the persistent store is the one that hashes.
type InMemoryKeyStore struct {
	// keys maps plaintext key values for direct lookup.
	keys map[string]*APIKey
	// keysByID maps key IDs for update and revocation.
	keysByID map[string]*APIKey
	// keysByApplication groups keys per application.
	keysByApplication map[string][]*APIKey
	// mutex protects all three maps.
	mutex sync.RWMutex
}

// compile-time interface check
var _ APIKeyStore = (*InMemoryKeyStore)(nil)

// NewInMemoryKeyStore creates an empty in-memory key store.
func NewInMemoryKeyStore() *InMemoryKeyStore {
	return &InMemoryKeyStore{
		keys:              make(map[string]*APIKey),
		keysByID:          make(map[string]*APIKey),
		keysByApplication: make(map[string][]*APIKey),
	}
}

// FindByKey retrieves an API key by its key value.
func (s *InMemoryKeyStore) FindByKey(_ context.Context, key string) (*APIKey, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	apiKey, exists := s.keys[key]
	if !exists {
		return nil, false
	}

	keyCopy := *apiKey

	return &keyCopy, true
}

// Add stores a new API key. Duplicate IDs and duplicate key values are
// rejected.
func (s *InMemoryKeyStore) Add(_ context.Context, apiKey *APIKey) error {
	if apiKey == nil {
		return ErrKeyNil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.keysByID[apiKey.ID]; exists {
		return ErrKeyAlreadyExists
	}

	if _, exists := s.keys[apiKey.Key]; exists {
		return ErrKeyAlreadyExists
	}

	keyCopy := *apiKey

	s.keys[keyCopy.Key] = &keyCopy
	s.keysByID[keyCopy.ID] = &keyCopy
	s.keysByApplication[keyCopy.ApplicationID] = append(s.keysByApplication[keyCopy.ApplicationID], &keyCopy)

	return nil
}

// Update modifies an existing API key, keyed by ID.
func (s *InMemoryKeyStore) Update(_ context.Context, apiKey *APIKey) error {
	if apiKey == nil {
		return ErrKeyNil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	existingKey, exists := s.keysByID[apiKey.ID]
	if !exists {
		return ErrKeyNotFound
	}

	s.removeFromApplicationMap(existingKey.ApplicationID, existingKey.ID)

	if existingKey.Key != apiKey.Key {
		delete(s.keys, existingKey.Key)
	}

	keyCopy := *apiKey

	s.keys[keyCopy.Key] = &keyCopy
	s.keysByID[keyCopy.ID] = &keyCopy
	s.keysByApplication[keyCopy.ApplicationID] = append(s.keysByApplication[keyCopy.ApplicationID], &keyCopy)

	return nil
}

// Delete removes an API key by ID.
func (s *InMemoryKeyStore) Delete(_ context.Context, keyID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	existingKey, exists := s.keysByID[keyID]
	if !exists {
		return ErrKeyNotFound
	}

	delete(s.keys, existingKey.Key)
	delete(s.keysByID, keyID)
	s.removeFromApplicationMap(existingKey.ApplicationID, keyID)

	return nil
}

// ListByApplication returns all API keys for one application.
func (s *InMemoryKeyStore) ListByApplication(_ context.Context, applicationID string) ([]*APIKey, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	keys, exists := s.keysByApplication[applicationID]
	if !exists {
		return []*APIKey{}, nil
	}

	result := make([]*APIKey, len(keys))
	for i, key := range keys {
		keyCopy := *key
		result[i] = &keyCopy
	}

	return result, nil
}

// removeFromApplicationMap removes a key from the per-application index.
// Caller must hold the write lock.
func (s *InMemoryKeyStore) removeFromApplicationMap(applicationID, keyID string) {
	keys := s.keysByApplication[applicationID]
	for i, key := range keys {
		if key.ID == keyID {
			s.keysByApplication[applicationID] = append(keys[:i], keys[i+1:]...)

			break
		}
	}

	if len(s.keysByApplication[applicationID]) == 0 {
		delete(s.keysByApplication, applicationID)
	}
}
