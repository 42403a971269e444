package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"go.uber.org/zap"

	"identity-service/internal/util"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

const (
	envelopeVersion = "v1"
	localKeyID      = "local"
	maxCachedKeys   = 1024
)

// KMSAPI is the subset of the AWS KMS client used for envelope encryption.
type KMSAPI interface {
	GenerateDataKey(ctx context.Context, in *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// EncryptedData is the at-rest envelope: AES-256-GCM ciphertext plus the data
// key wrapped by KMS (or by the local master key in development).
type EncryptedData struct {
	Version        string    `json:"v"`
	KeyID          string    `json:"kid"`
	EncryptedDEK   string    `json:"dek"`
	EncryptedValue string    `json:"ct"`
	CreatedAt      time.Time `json:"at"`
}

type dataKey struct {
	plaintext []byte
	wrapped   []byte
	keyID     string
	issuedAt  time.Time
}

// EncryptionManager seals payloads with a data key that is rotated every
// rotateEvery. Unwrapped keys are cached so reads do not hit KMS each time.
type EncryptionManager struct {
	kms        KMSAPI
	kmsKeyID   string
	localKey   []byte
	encContext map[string]string

	rotateEvery time.Duration
	mu          sync.Mutex
	current     *dataKey
	keyCache    sync.Map // wrapped DEK (base64) -> plaintext DEK
	cached      int
}

// NewKMSManager seals with data keys generated under keyID.
func NewKMSManager(client KMSAPI, keyID, purpose string) *EncryptionManager {
	return &EncryptionManager{
		kms:         client,
		kmsKeyID:    keyID,
		encContext:  map[string]string{"purpose": purpose},
		rotateEvery: time.Hour,
	}
}

// NewLocalManager wraps data keys with a process-local master key. Entries
// sealed under a different master key cannot be opened.
func NewLocalManager(masterKey []byte, purpose string) (*EncryptionManager, error) {
	if len(masterKey) == 0 {
		masterKey = make([]byte, 32)
		if _, err := rand.Read(masterKey); err != nil {
			return nil, fmt.Errorf("failed to generate local master key: %w", err)
		}
		util.Warn("Using an ephemeral local sealing key; sealed sessions will not survive a restart")
	}
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("local master key must be 32 bytes, got %d", len(masterKey))
	}
	return &EncryptionManager{
		localKey:    masterKey,
		encContext:  map[string]string{"purpose": purpose},
		rotateEvery: time.Hour,
	}, nil
}

func (em *EncryptionManager) currentKey(ctx context.Context) (*dataKey, error) {
	em.mu.Lock()
	defer em.mu.Unlock()

	if em.current != nil && time.Since(em.current.issuedAt) < em.rotateEvery {
		return em.current, nil
	}
	dk, err := em.generateDataKey(ctx)
	if err != nil {
		return nil, err
	}
	em.current = dk
	em.remember(base64.StdEncoding.EncodeToString(dk.wrapped), dk.plaintext)
	util.Debug("Rotated session data key", zap.String("key_id", dk.keyID))
	return dk, nil
}

func (em *EncryptionManager) generateDataKey(ctx context.Context) (*dataKey, error) {
	if em.kms == nil {
		plain := make([]byte, 32)
		if _, err := rand.Read(plain); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
		}
		wrapped, err := gcmSeal(em.localKey, plain)
		if err != nil {
			return nil, err
		}
		return &dataKey{plaintext: plain, wrapped: wrapped, keyID: localKeyID, issuedAt: time.Now()}, nil
	}

	out, err := em.kms.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:             aws.String(em.kmsKeyID),
		KeySpec:           types.DataKeySpecAes256,
		EncryptionContext: em.encContext,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate data key: %v", ErrEncryptionFailed, err)
	}
	return &dataKey{
		plaintext: out.Plaintext,
		wrapped:   out.CiphertextBlob,
		keyID:     aws.ToString(out.KeyId),
		issuedAt:  time.Now(),
	}, nil
}

// Seal encrypts plaintext under the current data key.
func (em *EncryptionManager) Seal(ctx context.Context, plaintext []byte) (*EncryptedData, error) {
	dk, err := em.currentKey(ctx)
	if err != nil {
		return nil, err
	}
	ct, err := gcmSeal(dk.plaintext, plaintext)
	if err != nil {
		return nil, err
	}
	return &EncryptedData{
		Version:        envelopeVersion,
		KeyID:          dk.keyID,
		EncryptedDEK:   base64.StdEncoding.EncodeToString(dk.wrapped),
		EncryptedValue: base64.StdEncoding.EncodeToString(ct),
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// Open reverses Seal.
func (em *EncryptionManager) Open(ctx context.Context, data *EncryptedData) ([]byte, error) {
	if data == nil || data.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope", ErrDecryptionFailed)
	}
	key, err := em.unwrap(ctx, data.EncryptedDEK)
	if err != nil {
		return nil, err
	}
	ct, err := base64.StdEncoding.DecodeString(data.EncryptedValue)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}
	return gcmOpen(key, ct)
}

func (em *EncryptionManager) unwrap(ctx context.Context, wrappedB64 string) ([]byte, error) {
	if cached, ok := em.keyCache.Load(wrappedB64); ok {
		return cached.([]byte), nil
	}
	wrapped, err := base64.StdEncoding.DecodeString(wrappedB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
	}

	var plain []byte
	if em.kms == nil {
		plain, err = gcmOpen(em.localKey, wrapped)
		if err != nil {
			return nil, err
		}
	} else {
		out, err := em.kms.Decrypt(ctx, &kms.DecryptInput{
			CiphertextBlob:    wrapped,
			EncryptionContext: em.encContext,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
		}
		plain = out.Plaintext
	}

	em.mu.Lock()
	em.remember(wrappedB64, plain)
	em.mu.Unlock()
	return plain, nil
}

// remember caches an unwrapped key; callers hold em.mu.
func (em *EncryptionManager) remember(wrappedB64 string, plain []byte) {
	if em.cached >= maxCachedKeys {
		em.keyCache.Range(func(k, _ any) bool {
			em.keyCache.Delete(k)
			return true
		})
		em.cached = 0
	}
	if _, loaded := em.keyCache.LoadOrStore(wrappedB64, plain); !loaded {
		em.cached++
	}
}

func gcmSeal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func gcmOpen(key, sealed []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
