package keyring

import (
	"context"
	"sync"

	"github.com/dropDatabas3/gpgauth/internal/security/pgp"
	"github.com/google/uuid"
)

// Memory implementa Keyring en memoria. Útil para tests y para clientes
// que ya tienen el par desbloqueado.
type Memory struct {
	mu      sync.RWMutex
	user    *pgp.PrivateKey
	servers map[uuid.UUID]*pgp.PublicKey
}

func NewMemory(user *pgp.PrivateKey) *Memory {
	return &Memory{user: user, servers: make(map[uuid.UUID]*pgp.PublicKey)}
}

// SetUserKey reemplaza el par del usuario.
func (m *Memory) SetUserKey(k *pgp.PrivateKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = k
}

func (m *Memory) UserPublicKey(ctx context.Context) (*pgp.PublicKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil, ErrKeyNotFound
	}
	return m.user.Public(), nil
}

// UserPrivateKey ignora passphrase: la clave en memoria ya está desbloqueada.
func (m *Memory) UserPrivateKey(ctx context.Context, _ []byte) (*pgp.PrivateKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil, ErrKeyNotFound
	}
	return m.user, nil
}

func (m *Memory) ServerKey(ctx context.Context, id uuid.UUID) (*pgp.PublicKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.servers[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return k, nil
}

func (m *Memory) PinServerKey(ctx context.Context, id uuid.UUID, key *pgp.PublicKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers[id] = key
	return nil
}
