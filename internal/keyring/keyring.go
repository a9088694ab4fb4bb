// Package keyring holds wallet accounts, their encrypted secrets and the
// software signers built from them.
package keyring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/klingon-exchange/walletd/internal/state"
	"github.com/klingon-exchange/walletd/internal/storage"
	"github.com/klingon-exchange/walletd/pkg/helpers"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

var (
	ErrInvalidPassword  = errors.New("invalid password")
	ErrAccountNotFound  = errors.New("account not found")
	ErrAccountExists    = errors.New("account already exists")
	ErrExternalAccount  = errors.New("account has no local secret")
	ErrKeyringLocked    = errors.New("keyring is locked")
	ErrNoAccountsOpened = errors.New("password did not open any account")
)

const (
	secretKindRaw      = "raw"
	secretKindMnemonic = "mnemonic"
)

// Keyring manages accounts. It is the only writer of the Accounts and
// KeyringState domains of the state store.
type Keyring struct {
	mu       sync.Mutex
	storage  *storage.Storage
	state    *state.Store
	kdf      KDFParams
	unlocked map[string]*keyPair
	log      *logging.Logger
}

// New creates a keyring over storage, publishing into st.
func New(store *storage.Storage, st *state.Store, kdf KDFParams) *Keyring {
	if kdf.Time == 0 || kdf.Memory == 0 || kdf.Threads == 0 {
		kdf = DefaultKDFParams()
	}
	return &Keyring{
		storage:  store,
		state:    st,
		kdf:      kdf,
		unlocked: make(map[string]*keyPair),
		log:      logging.GetDefault().Component("keyring"),
	}
}

// Load reads persisted accounts into the state store.
func (k *Keyring) Load() error {
	records, err := k.storage.ListAccounts()
	if err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}

	accounts := make(state.Accounts, len(records))
	for _, r := range records {
		accounts[r.Address] = toJSON(r)
	}
	k.state.Accounts.Set(accounts)
	k.publishState()

	k.log.Info("Keyring loaded", "accounts", len(accounts))
	return nil
}

// CreateWithSecretRequest imports a raw private key.
type CreateWithSecretRequest struct {
	SecretKey  string `json:"secretKey"`
	PublicKey  string `json:"publicKey"`
	Name       string `json:"name"`
	Password   string `json:"password"`
	IsEthereum bool   `json:"isEthereum"`
}

// CreateWithSecret imports a hex-encoded secret key.
func (k *Keyring) CreateWithSecret(req CreateWithSecretRequest) (state.AccountJSON, error) {
	secret, err := helpers.HexToBytes(req.SecretKey)
	if err != nil {
		return state.AccountJSON{}, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	defer secureClear(secret)

	keyType := KeyTypeEd25519
	if req.IsEthereum {
		keyType = KeyTypeEthereum
	}
	kp, err := buildKeyPair(keyType, secret)
	if err != nil {
		return state.AccountJSON{}, err
	}

	if req.PublicKey != "" {
		pub, err := helpers.HexToBytes(req.PublicKey)
		if err != nil || !bytes.Equal(pub, kp.publicKey) {
			return state.AccountJSON{}, fmt.Errorf("%w: public key does not match secret", ErrInvalidSecret)
		}
	}

	return k.addLocal(kp, secret, secretKindRaw, "", req.Name, req.Password)
}

// CreateFromSuriRequest derives an account from a mnemonic.
type CreateFromSuriRequest struct {
	Suri        string `json:"suri"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Password    string `json:"password"`
	GenesisHash string `json:"genesisHash"`
}

// CreateFromSuri derives and stores an account from a BIP-39 mnemonic.
func (k *Keyring) CreateFromSuri(req CreateFromSuriRequest) (state.AccountJSON, error) {
	keyType := KeyType(req.Type)
	if keyType == "" {
		keyType = KeyTypeEd25519
	}

	secret, path, err := secretFromMnemonic(strings.TrimSpace(req.Suri), keyType)
	if err != nil {
		return state.AccountJSON{}, err
	}
	defer secureClear(secret)

	kp, err := buildKeyPair(keyType, secret)
	if err != nil {
		return state.AccountJSON{}, err
	}

	account, err := k.addLocal(kp, secret, secretKindMnemonic, path, req.Name, req.Password)
	if err != nil {
		return state.AccountJSON{}, err
	}
	if req.GenesisHash != "" {
		return k.setGenesisHash(account.Address, req.GenesisHash)
	}
	return account, nil
}

// CreateExternalRequest registers a watch-only, QR or ledger account.
type CreateExternalRequest struct {
	Address     string `json:"address"`
	GenesisHash string `json:"genesisHash"`
	Name        string `json:"name"`
	IsEthereum  bool   `json:"isEthereum"`
	IsHardware  bool   `json:"isHardware"`
}

// CreateExternal stores an account without a secret.
func (k *Keyring) CreateExternal(req CreateExternalRequest) (state.AccountJSON, error) {
	address, isEthereum, err := NormalizeAddress(req.Address)
	if err != nil {
		return state.AccountJSON{}, err
	}
	if isEthereum != req.IsEthereum {
		return state.AccountJSON{}, fmt.Errorf("%w: address type mismatch", ErrInvalidAddress)
	}

	keyType := KeyTypeSr25519
	if isEthereum {
		keyType = KeyTypeEthereum
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.state.Accounts.Get()[address]; ok {
		return state.AccountJSON{}, ErrAccountExists
	}

	record := &storage.AccountRecord{
		Address:     address,
		KeyType:     string(keyType),
		Name:        req.Name,
		GenesisHash: req.GenesisHash,
		IsExternal:  true,
		IsHardware:  req.IsHardware,
		CreatedAt:   time.Now(),
	}
	if err := k.storage.SaveAccount(record); err != nil {
		return state.AccountJSON{}, err
	}

	account := toJSON(record)
	k.putAccount(account)
	k.log.Info("External account added", "address", address, "hardware", req.IsHardware)
	return account, nil
}

func (k *Keyring) addLocal(kp *keyPair, secret []byte, kind, path, name, password string) (state.AccountJSON, error) {
	if err := ValidatePasswordStrength(password); err != nil {
		return state.AccountJSON{}, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.state.Accounts.Get()[kp.address]; ok {
		return state.AccountJSON{}, ErrAccountExists
	}

	env, err := seal(secret, password, k.kdf)
	if err != nil {
		return state.AccountJSON{}, fmt.Errorf("failed to encrypt secret: %w", err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return state.AccountJSON{}, fmt.Errorf("failed to encode secret: %w", err)
	}

	record := &storage.AccountRecord{
		Address:        kp.address,
		KeyType:        string(kp.typ),
		Name:           name,
		SecretKind:     kind,
		DerivationPath: path,
		Secret:         data,
		CreatedAt:      time.Now(),
	}
	if err := k.storage.SaveAccount(record); err != nil {
		return state.AccountJSON{}, err
	}

	account := toJSON(record)
	k.putAccount(account)
	k.log.Info("Account created", "address", kp.address, "type", kp.typ)
	return account, nil
}

func (k *Keyring) setGenesisHash(address, genesisHash string) (state.AccountJSON, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	record, err := k.storage.GetAccount(address)
	if err != nil {
		return state.AccountJSON{}, err
	}
	record.GenesisHash = genesisHash
	if err := k.storage.SaveAccount(record); err != nil {
		return state.AccountJSON{}, err
	}
	account := toJSON(record)
	k.putAccount(account)
	return account, nil
}

// GetMeta returns the public view of an account.
func (k *Keyring) GetMeta(address string) (state.AccountJSON, error) {
	normalized, _, err := NormalizeAddress(address)
	if err != nil {
		return state.AccountJSON{}, err
	}
	account, ok := k.state.Accounts.Get()[normalized]
	if !ok {
		return state.AccountJSON{}, ErrAccountNotFound
	}
	return account, nil
}

// Rename changes the display name of an account.
func (k *Keyring) Rename(address, name string) (state.AccountJSON, error) {
	account, err := k.GetMeta(address)
	if err != nil {
		return state.AccountJSON{}, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.storage.UpdateAccountName(account.Address, name); err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return state.AccountJSON{}, ErrAccountNotFound
		}
		return state.AccountJSON{}, err
	}
	account.Name = name
	k.putAccount(account)
	return account, nil
}

// Forget removes an account and its secret.
func (k *Keyring) Forget(address string) error {
	account, err := k.GetMeta(address)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.storage.DeleteAccount(account.Address); err != nil && !errors.Is(err, storage.ErrAccountNotFound) {
		return err
	}
	delete(k.unlocked, account.Address)

	k.state.Accounts.Update(func(cur state.Accounts) state.Accounts {
		next := make(state.Accounts, len(cur))
		for addr, a := range cur {
			if addr != account.Address {
				next[addr] = a
			}
		}
		return next
	})
	k.publishStateLocked()

	k.log.Info("Account forgotten", "address", account.Address)
	return nil
}

// ValidatePassword reports whether password opens the account's secret.
func (k *Keyring) ValidatePassword(address, password string) error {
	_, err := k.open(address, password)
	return err
}

// Unlock opens every local account whose secret is sealed with password and
// keeps the keys in memory until Lock.
func (k *Keyring) Unlock(password string) (int, error) {
	records, err := k.storage.ListAccounts()
	if err != nil {
		return 0, err
	}

	opened := make(map[string]*keyPair)
	for _, r := range records {
		if r.IsExternal || len(r.Secret) == 0 {
			continue
		}
		kp, err := openRecord(r, password)
		if err != nil {
			continue
		}
		opened[r.Address] = kp
	}
	if len(opened) == 0 {
		return 0, ErrNoAccountsOpened
	}

	k.mu.Lock()
	for addr, kp := range opened {
		k.unlocked[addr] = kp
	}
	k.mu.Unlock()

	k.publishState()
	k.log.Info("Keyring unlocked", "accounts", len(opened))
	return len(opened), nil
}

// Lock drops every in-memory key.
func (k *Keyring) Lock() {
	k.mu.Lock()
	k.unlocked = make(map[string]*keyPair)
	k.mu.Unlock()

	k.publishState()
	k.log.Info("Keyring locked")
}

// IsLocal reports whether address belongs to a wallet account.
func (k *Keyring) IsLocal(address string) bool {
	normalized, _, err := NormalizeAddress(address)
	if err != nil {
		return false
	}
	_, ok := k.state.Accounts.Get()[normalized]
	return ok
}

// Addresses returns the set of wallet addresses.
func (k *Keyring) Addresses() mapset.Set[string] {
	accounts := k.state.Accounts.Get()
	set := mapset.NewThreadUnsafeSetWithSize[string](len(accounts))
	for addr := range accounts {
		set.Add(addr)
	}
	return set
}

// Signer signs payloads with a local account key.
type Signer struct {
	address string
	keyType KeyType
	kp      *keyPair
}

// Address returns the signing account.
func (s *Signer) Address() string { return s.address }

// KeyType returns the account scheme.
func (s *Signer) KeyType() KeyType { return s.keyType }

// Sign signs payload. Ethereum accounts expect a 32-byte hash.
func (s *Signer) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.kp.sign(payload)
}

// SignerFor returns a signer for address. An empty password uses an
// unlocked key.
func (k *Keyring) SignerFor(address, password string) (*Signer, error) {
	normalized, _, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	if password == "" {
		k.mu.Lock()
		kp, ok := k.unlocked[normalized]
		k.mu.Unlock()
		if !ok {
			return nil, ErrKeyringLocked
		}
		return &Signer{address: normalized, keyType: kp.typ, kp: kp}, nil
	}

	kp, err := k.open(normalized, password)
	if err != nil {
		return nil, err
	}
	return &Signer{address: normalized, keyType: kp.typ, kp: kp}, nil
}

func (k *Keyring) open(address, password string) (*keyPair, error) {
	normalized, _, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	record, err := k.storage.GetAccount(normalized)
	if errors.Is(err, storage.ErrAccountNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return openRecord(record, password)
}

func openRecord(r *storage.AccountRecord, password string) (*keyPair, error) {
	if r.IsExternal || len(r.Secret) == 0 {
		return nil, ErrExternalAccount
	}

	var env Envelope
	if err := json.Unmarshal(r.Secret, &env); err != nil {
		return nil, fmt.Errorf("failed to decode secret: %w", err)
	}
	secret, err := open(&env, password)
	if err != nil {
		return nil, err
	}
	defer secureClear(secret)

	return buildKeyPair(KeyType(r.KeyType), secret)
}

func buildKeyPair(keyType KeyType, secret []byte) (*keyPair, error) {
	switch keyType {
	case KeyTypeEthereum:
		return ethereumKeyPair(secret)
	case KeyTypeEd25519:
		return ed25519KeyPair(secret)
	default:
		return nil, fmt.Errorf("unsupported key type %q", keyType)
	}
}

// putAccount publishes a single account change. Callers hold k.mu.
func (k *Keyring) putAccount(account state.AccountJSON) {
	k.state.Accounts.Update(func(cur state.Accounts) state.Accounts {
		next := make(state.Accounts, len(cur)+1)
		for addr, a := range cur {
			next[addr] = a
		}
		next[account.Address] = account
		return next
	})
	k.publishStateLocked()
}

func (k *Keyring) publishState() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.publishStateLocked()
}

func (k *Keyring) publishStateLocked() {
	accounts := k.state.Accounts.Get()
	locals := 0
	for _, a := range accounts {
		if !a.IsExternal {
			locals++
		}
	}
	k.state.KeyringState.Set(state.KeyringState{
		IsReady:      true,
		IsLocked:     locals > 0 && len(k.unlocked) == 0,
		AccountCount: len(accounts),
	})
}

func toJSON(r *storage.AccountRecord) state.AccountJSON {
	return state.AccountJSON{
		Address:     r.Address,
		Type:        r.KeyType,
		Name:        r.Name,
		GenesisHash: r.GenesisHash,
		IsExternal:  r.IsExternal,
		IsHardware:  r.IsHardware,
		WhenCreated: r.CreatedAt.UnixMilli(),
	}
}
