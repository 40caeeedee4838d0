// Package pgp wraps golang.org/x/crypto/openpgp with the few operations the
// gpgauth handshake needs: key parsing, metadata, encrypt and decrypt of
// short armored messages.
package pgp

import (
	"bytes"
	"crypto"
	_ "crypto/sha256" // be explicit about needing SHA256
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"
)

// MessageType is the armor block type of an encrypted message.
const MessageType = "PGP MESSAGE"

var (
	ErrNoKey          = errors.New("pgp: no key found in armored data")
	ErrNotPrivateKey  = errors.New("pgp: armored data does not contain a private key")
	ErrKeyLocked      = errors.New("pgp: private key is locked")
	ErrBadPassphrase  = errors.New("pgp: wrong passphrase")
	ErrNotDecryptable = errors.New("pgp: message not encrypted for this key")
)

var openpgpConfig = &packet.Config{
	DefaultHash: crypto.SHA256,
}

// KeyInfo is the metadata the key-store exposes about a key.
type KeyInfo struct {
	Fingerprint string
	KeyID       string
	UserIDs     []string
	Created     time.Time
	// Expires is nil for keys without a lifetime.
	Expires *time.Time
	Revoked bool
	Private bool
}

// IsExpiredAt reports whether the key lifetime ended before t.
func (ki KeyInfo) IsExpiredAt(t time.Time) bool {
	return ki.Expires != nil && t.After(*ki.Expires)
}

// PublicKey is a parsed OpenPGP public key.
type PublicKey struct {
	entity *openpgp.Entity
}

// PrivateKey is a parsed, unlocked OpenPGP key pair.
type PrivateKey struct {
	entity *openpgp.Entity
}

// normalize drops CRLF line endings and surrounding whitespace.
func normalize(armored string) string {
	return strings.TrimSpace(strings.ReplaceAll(armored, "\r\n", "\n"))
}

func readEntity(armored string) (*openpgp.Entity, error) {
	armored = normalize(armored)
	if armored == "" {
		return nil, ErrNoKey
	}
	list, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armored))
	if err != nil {
		return nil, fmt.Errorf("pgp: could not parse armored key: %w", err)
	}
	if len(list) == 0 {
		return nil, ErrNoKey
	}
	return list[0], nil
}

// ParsePublicKey parses the first key of an armored key block. A private key
// block is accepted too; only its public part is kept.
func ParsePublicKey(armored string) (*PublicKey, error) {
	e, err := readEntity(armored)
	if err != nil {
		return nil, err
	}
	return publicOf(e), nil
}

// ParsePrivateKey parses an armored private key and unlocks it with
// passphrase when it is encrypted.
func ParsePrivateKey(armored string, passphrase []byte) (*PrivateKey, error) {
	e, err := readEntity(armored)
	if err != nil {
		return nil, err
	}
	if e.PrivateKey == nil {
		return nil, ErrNotPrivateKey
	}
	if e.PrivateKey.Encrypted {
		if len(passphrase) == 0 {
			return nil, ErrKeyLocked
		}
		if err := e.PrivateKey.Decrypt(passphrase); err != nil {
			return nil, ErrBadPassphrase
		}
	}
	for _, sk := range e.Subkeys {
		if sk.PrivateKey != nil && sk.PrivateKey.Encrypted {
			if err := sk.PrivateKey.Decrypt(passphrase); err != nil {
				return nil, ErrBadPassphrase
			}
		}
	}
	return &PrivateKey{entity: e}, nil
}

// Generate creates a new RSA key pair. bits == 0 means 2048. A positive
// lifetime is written in the self-signatures.
func Generate(name, email string, bits int, lifetime time.Duration) (*PrivateKey, error) {
	cfg := &packet.Config{DefaultHash: crypto.SHA256, RSABits: bits}
	e, err := openpgp.NewEntity(name, "", email, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgp: generate key: %w", err)
	}
	if lifetime > 0 {
		secs := uint32(lifetime / time.Second)
		for _, id := range e.Identities {
			id.SelfSignature.KeyLifetimeSecs = &secs
			if err := id.SelfSignature.SignUserId(id.UserId.Id, e.PrimaryKey, e.PrivateKey, cfg); err != nil {
				return nil, fmt.Errorf("pgp: sign identity: %w", err)
			}
		}
	}
	return &PrivateKey{entity: e}, nil
}

func fingerprintOf(pk *packet.PublicKey) string {
	return strings.ToUpper(hex.EncodeToString(pk.Fingerprint[:]))
}

func infoOf(e *openpgp.Entity) KeyInfo {
	info := KeyInfo{
		Fingerprint: fingerprintOf(e.PrimaryKey),
		KeyID:       fmt.Sprintf("%016X", e.PrimaryKey.KeyId),
		Created:     e.PrimaryKey.CreationTime,
		Revoked:     len(e.Revocations) > 0,
		Private:     e.PrivateKey != nil,
	}
	var primary *openpgp.Identity
	for name, id := range e.Identities {
		info.UserIDs = append(info.UserIDs, name)
		if primary == nil || (id.SelfSignature != nil && id.SelfSignature.IsPrimaryId != nil && *id.SelfSignature.IsPrimaryId) {
			primary = id
		}
	}
	if primary != nil && primary.SelfSignature != nil && primary.SelfSignature.KeyLifetimeSecs != nil && *primary.SelfSignature.KeyLifetimeSecs > 0 {
		exp := e.PrimaryKey.CreationTime.Add(time.Duration(*primary.SelfSignature.KeyLifetimeSecs) * time.Second)
		info.Expires = &exp
	}
	return info
}

// Fingerprint returns the uppercase hex v4 fingerprint of the primary key.
func (k *PublicKey) Fingerprint() string { return fingerprintOf(k.entity.PrimaryKey) }

// Info returns the key metadata.
func (k *PublicKey) Info() KeyInfo { return infoOf(k.entity) }

// Equal compares keys by primary key fingerprint, so two differently
// armored copies of the same key are equal.
func (k *PublicKey) Equal(other *PublicKey) bool {
	if k == nil || other == nil {
		return k == other
	}
	return bytes.Equal(k.entity.PrimaryKey.Fingerprint[:], other.entity.PrimaryKey.Fingerprint[:])
}

// Armor serializes the key as an armored public key block.
func (k *PublicKey) Armor() (string, error) {
	return armorWith(openpgp.PublicKeyType, nil, k.entity.Serialize)
}

// ArmorWithHeaders is Armor with extra armor headers (e.g. Comment).
func (k *PublicKey) ArmorWithHeaders(headers map[string]string) (string, error) {
	return armorWith(openpgp.PublicKeyType, headers, k.entity.Serialize)
}

// Public returns the public half of the pair.
func (k *PrivateKey) Public() *PublicKey { return publicOf(k.entity) }

// publicOf copies e without private material.
func publicOf(e *openpgp.Entity) *PublicKey {
	pub := &openpgp.Entity{
		PrimaryKey:  e.PrimaryKey,
		Identities:  e.Identities,
		Revocations: e.Revocations,
		Subkeys:     make([]openpgp.Subkey, len(e.Subkeys)),
	}
	for i, sk := range e.Subkeys {
		pub.Subkeys[i] = openpgp.Subkey{PublicKey: sk.PublicKey, Sig: sk.Sig}
	}
	return &PublicKey{entity: pub}
}

// Fingerprint returns the fingerprint of the primary key.
func (k *PrivateKey) Fingerprint() string { return fingerprintOf(k.entity.PrimaryKey) }

// Info returns the key metadata.
func (k *PrivateKey) Info() KeyInfo { return infoOf(k.entity) }

// Armor serializes the unlocked key pair as an armored private key block.
func (k *PrivateKey) Armor() (string, error) {
	return armorWith(openpgp.PrivateKeyType, nil, func(w io.Writer) error {
		return k.entity.SerializePrivate(w, openpgpConfig)
	})
}

func armorWith(blockType string, headers map[string]string, serialize func(io.Writer) error) (string, error) {
	buf := new(bytes.Buffer)
	w, err := armor.Encode(buf, blockType, headers)
	if err != nil {
		return "", err
	}
	if err := serialize(w); err != nil {
		return "", fmt.Errorf("pgp: serialize: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Encrypt encrypts plaintext for to and returns an armored message.
func Encrypt(plaintext string, to *PublicKey) (string, error) {
	if to == nil {
		return "", ErrNoKey
	}
	buf := new(bytes.Buffer)
	aw, err := armor.Encode(buf, MessageType, nil)
	if err != nil {
		return "", err
	}
	pw, err := openpgp.Encrypt(aw, []*openpgp.Entity{to.entity}, nil, nil, openpgpConfig)
	if err != nil {
		return "", fmt.Errorf("pgp: encrypt: %w", err)
	}
	if _, err := io.WriteString(pw, plaintext); err != nil {
		return "", fmt.Errorf("pgp: encrypt: %w", err)
	}
	if err := pw.Close(); err != nil {
		return "", fmt.Errorf("pgp: encrypt: %w", err)
	}
	if err := aw.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Decrypt decrypts an armored message with key.
func Decrypt(armored string, key *PrivateKey) (string, error) {
	if key == nil {
		return "", ErrNoKey
	}
	block, err := armor.Decode(strings.NewReader(normalize(armored)))
	if err != nil {
		return "", fmt.Errorf("pgp: decode armored message: %w", err)
	}
	if block.Type != MessageType {
		return "", fmt.Errorf("pgp: unexpected armor block %q", block.Type)
	}
	md, err := openpgp.ReadMessage(block.Body, openpgp.EntityList{key.entity}, nil, openpgpConfig)
	if err != nil {
		return "", fmt.Errorf("pgp: read message: %w", err)
	}
	if !md.IsEncrypted || md.DecryptedWith.Entity == nil {
		return "", ErrNotDecryptable
	}
	out, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return "", fmt.Errorf("pgp: read plaintext: %w", err)
	}
	return string(out), nil
}
