// Package keys holds users' secp256k1 key material.
//
// Private keys are stored sealed under a server-wide secret and unsealed on
// demand: the server, not the client, operates on decrypted private keys.
// Every user owns an append-only list of keys; the active one is referenced by
// id, and older entries stay resolvable so historical messages can still be
// decrypted after a rotation.
package keys

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"

	"github.com/pliu/cipherchat/internal/ecc"
	apperr "github.com/pliu/cipherchat/internal/errors"
	"github.com/pliu/cipherchat/internal/logging"
	"github.com/pliu/cipherchat/internal/models"
	"github.com/pliu/cipherchat/internal/store"
)

const (
	Iterations = 100000
	SaltSize   = 16
)

// Sealed is a private key PEM encrypted under a key derived from the server
// secret. All fields are base64.
type Sealed struct {
	Ciphertext string
	IV         string
	Salt       string
}

// Store is the slice of the persistence layer the manager needs.
type Store interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserKey(ctx context.Context, userID, keyID string) (*models.UserKey, error)
	AppendUserKey(ctx context.Context, key *models.UserKey) error
	ListUserKeys(ctx context.Context, userID string) ([]models.UserKey, error)
}

type Manager struct {
	store  Store
	secret []byte
	log    *zap.Logger
}

func NewManager(st Store, secret string, log *zap.Logger) *Manager {
	return &Manager{store: st, secret: []byte(secret), log: logging.OrNop(log).Named("keys")}
}

func SealPrivateKey(pemBytes, secret []byte) (Sealed, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return Sealed{}, fmt.Errorf("reading salt: %w", err)
	}
	env, err := ecc.Encrypt(pemBytes, deriveKey(secret, salt))
	if err != nil {
		return Sealed{}, err
	}
	return Sealed{
		Ciphertext: env.Ciphertext,
		IV:         env.IV,
		Salt:       base64.StdEncoding.EncodeToString(salt),
	}, nil
}

// UnsealPrivateKey fails with ErrKeyDecryption on any mismatch of secret,
// salt, IV or ciphertext.
func UnsealPrivateKey(sealed Sealed, secret []byte) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(sealed.Salt)
	if err != nil {
		return nil, keyDecryption(fmt.Errorf("salt encoding: %w", err))
	}
	pemBytes, err := ecc.Decrypt(ecc.Envelope{Ciphertext: sealed.Ciphertext, IV: sealed.IV}, deriveKey(secret, salt))
	if err != nil {
		return nil, keyDecryption(err)
	}
	return pemBytes, nil
}

func deriveKey(secret, salt []byte) []byte {
	return pbkdf2.Key(secret, salt, Iterations, ecc.KeySize, sha256.New)
}

func keyDecryption(cause error) error {
	return apperr.Wrap(apperr.CodeKey, apperr.MessageOf(apperr.ErrKeyDecryption), cause)
}

// Generate creates a fresh key pair and seals it. The key is not stored and
// has no owner yet.
func (m *Manager) Generate() (*models.UserKey, error) {
	pair, err := ecc.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	sealed, err := SealPrivateKey(pair.PrivateKeyPEM, m.secret)
	if err != nil {
		return nil, err
	}
	return &models.UserKey{
		ID:                  uuid.NewString(),
		PublicKey:           string(pair.PublicKeyPEM),
		EncryptedPrivateKey: sealed.Ciphertext,
		IV:                  sealed.IV,
		Salt:                sealed.Salt,
	}, nil
}

// Rotate appends a new key to the user's list and makes it active.
func (m *Manager) Rotate(ctx context.Context, userID string) (*models.UserKey, error) {
	key, err := m.Generate()
	if err != nil {
		return nil, err
	}
	key.UserID = userID
	if err := m.store.AppendUserKey(ctx, key); err != nil {
		if apperr.Is(err, store.ErrNotFound) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, fmt.Errorf("append key: %w", err)
	}
	m.log.Info("rotated user key", zap.String("user_id", userID), zap.String("key_id", key.ID), zap.Int("seq", key.Seq))
	return key, nil
}

// ActiveKey resolves the user's activeKeyId within the user's own key list.
func (m *Manager) ActiveKey(ctx context.Context, userID string) (*models.UserKey, error) {
	user, err := m.store.GetUserByID(ctx, userID)
	if err != nil {
		if apperr.Is(err, store.ErrNotFound) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.ActiveKeyID == "" {
		return nil, apperr.ErrActiveKeyMissing
	}
	key, err := m.store.GetUserKey(ctx, userID, user.ActiveKeyID)
	if err != nil {
		if apperr.Is(err, store.ErrNotFound) {
			return nil, apperr.ErrActiveKeyMissing
		}
		return nil, fmt.Errorf("load active key: %w", err)
	}
	return key, nil
}

// Key resolves keyID within userID's key list, active or not.
func (m *Manager) Key(ctx context.Context, userID, keyID string) (*models.UserKey, error) {
	key, err := m.store.GetUserKey(ctx, userID, keyID)
	if err != nil {
		if apperr.Is(err, store.ErrNotFound) {
			return nil, apperr.ErrKeyNotFound
		}
		return nil, fmt.Errorf("load key: %w", err)
	}
	return key, nil
}

func (m *Manager) List(ctx context.Context, userID string) ([]models.UserKey, error) {
	if _, err := m.store.GetUserByID(ctx, userID); err != nil {
		if apperr.Is(err, store.ErrNotFound) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return m.store.ListUserKeys(ctx, userID)
}

// PrivateKey unseals and parses the private half of key.
func (m *Manager) PrivateKey(key *models.UserKey) (*ecc.PrivateKey, error) {
	pemBytes, err := UnsealPrivateKey(Sealed{
		Ciphertext: key.EncryptedPrivateKey,
		IV:         key.IV,
		Salt:       key.Salt,
	}, m.secret)
	if err != nil {
		m.log.Error("private key unseal failed", zap.String("key_id", key.ID), zap.Error(err))
		return nil, err
	}
	priv, err := ecc.ParsePrivateKeyPEM(pemBytes)
	if err != nil {
		return nil, keyDecryption(err)
	}
	return priv, nil
}

func PublicKey(key *models.UserKey) (*ecc.PublicKey, error) {
	pub, err := ecc.ParsePublicKeyPEM([]byte(key.PublicKey))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeKey, "invalid public key", err)
	}
	return pub, nil
}

// SharedSecret derives the ECDH secret between own (sealed private half) and
// peer (public half).
func (m *Manager) SharedSecret(own, peer *models.UserKey) ([]byte, error) {
	priv, err := m.PrivateKey(own)
	if err != nil {
		return nil, err
	}
	pub, err := PublicKey(peer)
	if err != nil {
		return nil, err
	}
	return ecc.DeriveSharedSecret(priv, pub), nil
}
