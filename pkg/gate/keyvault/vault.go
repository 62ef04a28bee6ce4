// Package keyvault is an in-process key manager for key-dependent items.
//
// Each item gets a 256-bit data key derived with HKDF-SHA256 from the vault
// master key and a random per-item salt. Data is sealed with
// XChaCha20-Poly1305 using the item ID as associated data. Key
// distribution splits the data key into n XOR shares, all of which are
// needed to rebuild it; the shares act as escrow until destruction is
// verified and are what Abort restores from.
//
// With a Store attached, the per-item salt and seal count are persisted, so
// a vault opened with the same master key rebuilds every live key after a
// restart. Destruction clears the stored salt before it is reported.
package keyvault

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/gate"
	"mercator-hq/lethe/pkg/state"
)

const (
	// MasterKeySize is the required master key length.
	MasterKeySize = 32

	saltSize = 16
	hkdfInfo = "lethe data key v1:"
)

var (
	// ErrNoKey is returned for items the vault holds no live key for.
	ErrNoKey = errors.New("no data key")

	// ErrKeyDestroyed is returned when opening data whose key is gone.
	ErrKeyDestroyed = errors.New("data key destroyed")

	// ErrNotEncrypted is returned by ConfirmEncrypted for items that were
	// never sealed.
	ErrNotEncrypted = errors.New("item has no sealed data")
)

type entry struct {
	key       []byte
	salt      []byte
	shares    [][]byte
	sealed    int
	destroyed bool
}

// Store persists key records. state.Backend implements it.
type Store interface {
	SaveKey(ctx context.Context, rec state.KeyRecord) error
	LoadKey(ctx context.Context, itemID string) (state.KeyRecord, error)
}

// Vault holds data keys in memory, optionally backed by a Store.
type Vault struct {
	mu     sync.Mutex
	master []byte
	shares int
	items  map[string]*entry
	store  Store
	now    func() time.Time
}

// Option configures a Vault.
type Option func(*Vault)

// WithStore persists key records in s.
func WithStore(s Store) Option {
	return func(v *Vault) { v.store = s }
}

var (
	_ gate.KeyManager         = (*Vault)(nil)
	_ gate.DestructionChecker = (*Vault)(nil)
)

// New creates a vault. shares is the number of XOR shares produced by key
// distribution and must be at least 2.
func New(master []byte, shares int, opts ...Option) (*Vault, error) {
	if len(master) != MasterKeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", MasterKeySize, len(master))
	}
	if shares < 2 {
		return nil, fmt.Errorf("shares must be at least 2, got %d", shares)
	}
	m := make([]byte, MasterKeySize)
	copy(m, master)
	v := &Vault{master: m, shares: shares, items: make(map[string]*entry), now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// NewRandom creates a vault with a random master key. Keys it derives do
// not survive the process.
func NewRandom(shares int, opts ...Option) (*Vault, error) {
	master := make([]byte, MasterKeySize)
	if _, err := io.ReadFull(rand.Reader, master); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	return New(master, shares, opts...)
}

// Seal encrypts plaintext under the item's data key, creating the key on
// first use. The nonce is prepended to the returned ciphertext.
func (v *Vault) Seal(ctx context.Context, itemID string, plaintext []byte) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, err := v.lookup(ctx, itemID)
	if errors.Is(err, ErrNoKey) {
		e, err = v.create(ctx, itemID)
	}
	if err != nil {
		return nil, err
	}
	if e.destroyed || e.key == nil {
		return nil, ErrKeyDestroyed
	}
	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	e.sealed++
	if err := v.persist(ctx, itemID, e); err != nil {
		e.sealed--
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, []byte(itemID)), nil
}

// Open decrypts data produced by Seal.
func (v *Vault) Open(ctx context.Context, itemID string, ciphertext []byte) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, err := v.lookup(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if e.key == nil {
		return nil, ErrKeyDestroyed
	}
	if len(ciphertext) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("ciphertext too short")
	}
	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return nil, err
	}
	nonce, body := ciphertext[:chacha20poly1305.NonceSizeX], ciphertext[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, body, []byte(itemID))
}

// lookup returns the cached entry of itemID, loading it from the store on
// a miss. Items without a key return ErrNoKey.
func (v *Vault) lookup(ctx context.Context, itemID string) (*entry, error) {
	if e, ok := v.items[itemID]; ok {
		return e, nil
	}
	if v.store == nil {
		return nil, ErrNoKey
	}
	rec, err := v.store.LoadKey(ctx, itemID)
	if errors.Is(err, forgetting.ErrNotFound) {
		return nil, ErrNoKey
	}
	if err != nil {
		return nil, fmt.Errorf("load key %s: %w", itemID, err)
	}
	e := &entry{salt: rec.Salt, sealed: rec.Sealed, destroyed: rec.Destroyed}
	if !rec.Destroyed && len(rec.Salt) > 0 {
		if e.key, err = v.derive(itemID, rec.Salt); err != nil {
			return nil, err
		}
	}
	v.items[itemID] = e
	return e, nil
}

func (v *Vault) create(ctx context.Context, itemID string) (*entry, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	key, err := v.derive(itemID, salt)
	if err != nil {
		return nil, err
	}
	e := &entry{key: key, salt: salt}
	if err := v.persist(ctx, itemID, e); err != nil {
		return nil, err
	}
	v.items[itemID] = e
	return e, nil
}

func (v *Vault) derive(itemID string, salt []byte) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, v.master, salt, []byte(hkdfInfo+itemID))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive data key: %w", err)
	}
	return key, nil
}

func (v *Vault) persist(ctx context.Context, itemID string, e *entry) error {
	if v.store == nil {
		return nil
	}
	rec := state.KeyRecord{
		ItemID:    itemID,
		Salt:      e.salt,
		Sealed:    e.sealed,
		Destroyed: e.destroyed,
		UpdatedAt: v.now(),
	}
	if err := v.store.SaveKey(ctx, rec); err != nil {
		return fmt.Errorf("persist key %s: %w", itemID, err)
	}
	return nil
}

// live returns the entry of an item whose key is present.
func (v *Vault) live(ctx context.Context, itemID string) (*entry, error) {
	e, err := v.lookup(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if e.key == nil {
		if e.destroyed {
			return nil, ErrKeyDestroyed
		}
		return nil, ErrNoKey
	}
	return e, nil
}

// PreVerify implements gate.KeyManager.
func (v *Vault) PreVerify(ctx context.Context, itemID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, err := v.live(ctx, itemID)
	return err
}

// DistributeKey implements gate.KeyManager.
func (v *Vault) DistributeKey(ctx context.Context, itemID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, err := v.live(ctx, itemID)
	if err != nil {
		return err
	}
	shares, err := split(e.key, v.shares)
	if err != nil {
		return err
	}
	e.shares = shares
	return nil
}

// ConfirmEncrypted implements gate.KeyManager.
func (v *Vault) ConfirmEncrypted(ctx context.Context, itemID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, err := v.lookup(ctx, itemID)
	if err != nil {
		return err
	}
	if e.sealed == 0 {
		return ErrNotEncrypted
	}
	return nil
}

// DestroyKey implements gate.KeyManager. The shares survive until
// VerifyDestroyed so a failed verification can still abort.
func (v *Vault) DestroyKey(ctx context.Context, itemID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, err := v.live(ctx, itemID)
	if err != nil {
		return err
	}
	if len(e.shares) == 0 {
		return fmt.Errorf("key for %s was not distributed", itemID)
	}
	wipe(e.key)
	e.key = nil
	return nil
}

// VerifyDestroyed implements gate.KeyManager. The stored salt is cleared
// before the shares are wiped; if that write fails the key is still
// recoverable and the step fails.
func (v *Vault) VerifyDestroyed(ctx context.Context, itemID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, err := v.lookup(ctx, itemID)
	if err != nil {
		return err
	}
	if e.key != nil {
		return fmt.Errorf("key for %s still present", itemID)
	}
	gone := &entry{sealed: e.sealed, destroyed: true}
	if err := v.persist(ctx, itemID, gone); err != nil {
		return err
	}
	for _, s := range e.shares {
		wipe(s)
	}
	wipe(e.salt)
	e.shares = nil
	e.salt = nil
	e.destroyed = true
	return nil
}

// Abort implements gate.KeyManager.
func (v *Vault) Abort(ctx context.Context, itemID string, _ []gate.ShredStep) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, err := v.lookup(ctx, itemID)
	if err != nil {
		return err
	}
	if e.destroyed {
		return fmt.Errorf("key for %s is unrecoverable", itemID)
	}
	if e.key == nil {
		if len(e.shares) == 0 {
			return fmt.Errorf("key for %s is unrecoverable", itemID)
		}
		e.key = combine(e.shares)
	}
	for _, s := range e.shares {
		wipe(s)
	}
	e.shares = nil
	return nil
}

// Destroyed implements gate.DestructionChecker. It reports whether the
// item's key has been verified destroyed.
func (v *Vault) Destroyed(ctx context.Context, itemID string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, err := v.lookup(ctx, itemID)
	if errors.Is(err, ErrNoKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return e.destroyed, nil
}

// split returns n shares whose XOR is key.
func split(key []byte, n int) ([][]byte, error) {
	shares := make([][]byte, n)
	last := make([]byte, len(key))
	copy(last, key)
	for i := 0; i < n-1; i++ {
		s := make([]byte, len(key))
		if _, err := io.ReadFull(rand.Reader, s); err != nil {
			return nil, fmt.Errorf("generate share: %w", err)
		}
		subtle.XORBytes(last, last, s)
		shares[i] = s
	}
	shares[n-1] = last
	return shares, nil
}

func combine(shares [][]byte) []byte {
	key := make([]byte, len(shares[0]))
	for _, s := range shares {
		subtle.XORBytes(key, key, s)
	}
	return key
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
