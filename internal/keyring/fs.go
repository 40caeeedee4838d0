package keyring

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dropDatabas3/gpgauth/internal/security/pgp"
	"github.com/dropDatabas3/gpgauth/internal/util/atomicwrite"
	"github.com/google/uuid"
)

// FileKeyring implementa Keyring sobre un directorio:
//
//	<dir>/user/private.asc   par del usuario (armored, tal cual se importó)
//	<dir>/user/public.asc    parte pública
//	<dir>/servers/<id>.asc   clave pinneada por DomainID
//
// Las escrituras son atómicas (tmp → fsync → rename).
type FileKeyring struct {
	dir string
	mu  sync.RWMutex
}

// NewFileKeyring crea el keyring y sus subdirectorios.
func NewFileKeyring(dir string) (*FileKeyring, error) {
	for _, sub := range []string{"user", "servers"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
			return nil, fmt.Errorf("keyring: create %s directory: %w", sub, err)
		}
	}
	return &FileKeyring{dir: dir}, nil
}

func (k *FileKeyring) userPrivatePath() string { return filepath.Join(k.dir, "user", "private.asc") }
func (k *FileKeyring) userPublicPath() string  { return filepath.Join(k.dir, "user", "public.asc") }
func (k *FileKeyring) serverPath(id uuid.UUID) string {
	return filepath.Join(k.dir, "servers", id.String()+".asc")
}

func (k *FileKeyring) read(path string) (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keyring: read %s: %w", filepath.Base(path), err)
	}
	return string(b), nil
}

func (k *FileKeyring) write(path, armored string, perm fs.FileMode) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := atomicwrite.WriteFile(path, []byte(armored), perm); err != nil {
		return fmt.Errorf("keyring: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ImportUserKey valida el par con passphrase y lo guarda junto a su
// parte pública. El archivo privado conserva el cifrado original.
func (k *FileKeyring) ImportUserKey(ctx context.Context, armoredPrivate string, passphrase []byte) (*pgp.PrivateKey, error) {
	priv, err := pgp.ParsePrivateKey(armoredPrivate, passphrase)
	if err != nil {
		return nil, err
	}
	pub, err := priv.Public().Armor()
	if err != nil {
		return nil, err
	}
	if err := k.write(k.userPrivatePath(), armoredPrivate, 0o600); err != nil {
		return nil, err
	}
	if err := k.write(k.userPublicPath(), pub, 0o644); err != nil {
		return nil, err
	}
	return priv, nil
}

func (k *FileKeyring) UserPublicKey(ctx context.Context) (*pgp.PublicKey, error) {
	armored, err := k.read(k.userPublicPath())
	if err != nil {
		return nil, err
	}
	return pgp.ParsePublicKey(armored)
}

func (k *FileKeyring) UserPrivateKey(ctx context.Context, passphrase []byte) (*pgp.PrivateKey, error) {
	armored, err := k.read(k.userPrivatePath())
	if err != nil {
		return nil, err
	}
	return pgp.ParsePrivateKey(armored, passphrase)
}

func (k *FileKeyring) ServerKey(ctx context.Context, id uuid.UUID) (*pgp.PublicKey, error) {
	armored, err := k.read(k.serverPath(id))
	if err != nil {
		return nil, err
	}
	return pgp.ParsePublicKey(armored)
}

func (k *FileKeyring) PinServerKey(ctx context.Context, id uuid.UUID, key *pgp.PublicKey) error {
	armored, err := key.Armor()
	if err != nil {
		return err
	}
	return k.write(k.serverPath(id), armored, 0o644)
}
