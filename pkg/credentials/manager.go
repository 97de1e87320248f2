// Package credentials owns the credential lifecycle for every venue: set,
// resolve, enable, rotate, and audit. Secret values live in the encrypted
// vault; the per-venue flags and record shapes are persisted alongside them
// and restored on construction, with an optional display-safe mirror file.
package credentials

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"exbridge/internal/masking"
	"exbridge/pkg/core"
	"exbridge/pkg/vault"
)

// DefaultEnvPrefix is the prefix for credential environment variables.
const DefaultEnvPrefix = "EXBRIDGE"

type recordKey struct {
	venue   core.Venue
	sandbox bool
}

// record is the in-memory view of one venue credential set. Secret fields
// are populated only in plaintext-bootstrap mode; with a vault attached they
// stay empty and the vault is the source of truth.
type record struct {
	apiKey     string
	apiSecret  string
	passphrase string
	enabled    bool
	hasSecrets bool
}

// Manager coordinates credential storage and resolution. All mutation goes
// through one mutex, so concurrent writers cannot interleave a rotation with
// an update.
type Manager struct {
	mu         sync.Mutex
	store      *vault.Store
	mirrorPath string
	envPrefix  string
	emitter    Emitter
	logger     zerolog.Logger
	records    map[recordKey]*record
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore attaches the encrypted vault. Without it the manager runs in
// plaintext-bootstrap mode: secrets stay in process memory only and a
// warning is logged.
func WithStore(s *vault.Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithMirrorPath sets the path of the mirror file, rewritten on every
// mutation. With a vault attached the mirror holds masked values for
// display; in plaintext-bootstrap mode it holds the real values and is the
// only persistence.
func WithMirrorPath(path string) Option {
	return func(m *Manager) { m.mirrorPath = path }
}

// WithEnvPrefix overrides the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(m *Manager) { m.envPrefix = prefix }
}

// WithEmitter sets the audit event sink.
func WithEmitter(e Emitter) Option {
	return func(m *Manager) { m.emitter = e }
}

// WithLogger sets the manager's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		envPrefix: DefaultEnvPrefix,
		emitter:   nopEmitter{},
		logger:    zerolog.Nop(),
		records:   make(map[recordKey]*record),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store != nil {
		if err := m.loadRecords(); err != nil {
			m.logger.Warn().Err(err).Msg("restore credential records")
		}
		return m
	}
	m.logger.Warn().Msg("no encrypted store attached, credentials held in process memory only")
	if m.mirrorPath != "" {
		if err := m.loadMirror(); err != nil {
			m.logger.Warn().Err(err).Msg("restore credential mirror")
		}
	}
	return m
}

// secretName builds the vault name for one secret field, such as
// "binance_api_key" or "kucoin_passphrase_testnet".
func secretName(venue core.Venue, kind string, sandbox bool) string {
	name := venue.String() + "_" + kind
	if sandbox {
		name += "_testnet"
	}
	return name
}

// envName builds the environment variable for one secret field, such as
// "EXBRIDGE_BINANCE_API_KEY" or "EXBRIDGE_KUCOIN_PASSPHRASE_TESTNET".
func (m *Manager) envName(venue core.Venue, kind string, sandbox bool) string {
	name := m.envPrefix + "_" + strings.ToUpper(venue.String()) + "_" + strings.ToUpper(kind)
	if sandbox {
		name += "_TESTNET"
	}
	return name
}

// Set validates and stores a credential, replacing any existing one for the
// same venue and environment. The record's enabled flag is preserved across
// replacement.
func (m *Manager) Set(cred core.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := recordKey{venue: cred.Venue, sandbox: cred.Sandbox}
	prev, hadPrev := m.records[key]

	if m.store != nil {
		fields := map[string]string{
			"api_key":    cred.APIKey,
			"api_secret": cred.APISecret,
			"passphrase": cred.Passphrase,
		}
		for kind, value := range fields {
			name := secretName(cred.Venue, kind, cred.Sandbox)
			if kind == "passphrase" && value == "" {
				// A replacement without a passphrase must not leave a
				// stale one behind.
				if err := m.store.Delete(name); err != nil {
					return fmt.Errorf("persist %s credentials: %w", cred.Venue, err)
				}
				continue
			}
			if err := m.store.Set(name, value); err != nil {
				return fmt.Errorf("persist %s credentials: %w", cred.Venue, err)
			}
		}
	}

	rec := &record{hasSecrets: true}
	if hadPrev {
		rec.enabled = prev.enabled
	} else {
		rec.enabled = cred.Enabled
	}
	if m.store == nil {
		rec.apiKey = cred.APIKey
		rec.apiSecret = cred.APISecret
		rec.passphrase = cred.Passphrase
	}
	m.records[key] = rec
	if err := m.saveRecordsLocked(); err != nil {
		return err
	}

	m.emitter.Emit(EventKeysUpdated, cred.Venue, map[string]bool{
		"had_prev": hadPrev && prev.hasSecrets,
		"has_new":  true,
		"sandbox":  cred.Sandbox,
	})
	return nil
}

// Resolve returns the credential for a venue and environment. Environment
// variables win over the encrypted store, which wins over process memory;
// a venue with no source anywhere resolves to false.
func (m *Manager) Resolve(venue core.Venue, sandbox bool) (core.Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred := core.Credential{Venue: venue, Sandbox: sandbox}
	key := recordKey{venue: venue, sandbox: sandbox}
	rec := m.records[key]
	if rec != nil {
		cred.Enabled = rec.enabled
	}

	cred.APIKey = m.resolveField(venue, "api_key", sandbox, rec)
	cred.APISecret = m.resolveField(venue, "api_secret", sandbox, rec)
	cred.Passphrase = m.resolveField(venue, "passphrase", sandbox, rec)

	if cred.APIKey == "" && cred.APISecret == "" {
		return core.Credential{}, false
	}
	return cred, true
}

func (m *Manager) resolveField(venue core.Venue, kind string, sandbox bool, rec *record) string {
	if v, ok := os.LookupEnv(m.envName(venue, kind, sandbox)); ok {
		return v
	}
	if m.store != nil {
		if v, err := m.store.Get(secretName(venue, kind, sandbox)); err == nil {
			return v
		}
		return ""
	}
	if rec == nil {
		return ""
	}
	switch kind {
	case "api_key":
		return rec.apiKey
	case "api_secret":
		return rec.apiSecret
	case "passphrase":
		return rec.passphrase
	}
	return ""
}

// Enable marks a venue as tradeable.
func (m *Manager) Enable(venue core.Venue, sandbox bool) error {
	return m.setEnabled(venue, sandbox, true)
}

// Disable marks a venue as not tradeable. Credentials are kept.
func (m *Manager) Disable(venue core.Venue, sandbox bool) error {
	return m.setEnabled(venue, sandbox, false)
}

func (m *Manager) setEnabled(venue core.Venue, sandbox, enabled bool) error {
	m.mu.Lock()
	key := recordKey{venue: venue, sandbox: sandbox}
	rec := m.records[key]
	if rec == nil {
		rec = &record{}
		m.records[key] = rec
	}
	changed := rec.enabled != enabled
	rec.enabled = enabled
	var err error
	if changed {
		err = m.saveRecordsLocked()
	}
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	event := EventExchangeDisabled
	if enabled {
		event = EventExchangeEnabled
	}
	m.emitter.Emit(event, venue, map[string]bool{"sandbox": sandbox})
	return nil
}

// Enabled reports whether a venue is marked tradeable.
func (m *Manager) Enabled(venue core.Venue, sandbox bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[recordKey{venue: venue, sandbox: sandbox}]
	return rec != nil && rec.enabled
}

// RotateKeys blanks a venue's secret fields and purges them from the store,
// preserving the enabled flag and environment. The next Set completes the
// rotation.
func (m *Manager) RotateKeys(venue core.Venue, sandbox bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hadPrev := m.purgeLocked(venue, sandbox)
	if err := m.purgeStore(venue, sandbox); err != nil {
		return err
	}
	if err := m.saveRecordsLocked(); err != nil {
		return err
	}

	m.emitter.Emit(EventKeysRotated, venue, map[string]bool{
		"had_prev": hadPrev,
		"has_new":  false,
		"sandbox":  sandbox,
	})
	return nil
}

// Clear blanks a venue's secret fields, keeping the record and its flags.
func (m *Manager) Clear(venue core.Venue, sandbox bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hadPrev := m.purgeLocked(venue, sandbox)
	if err := m.purgeStore(venue, sandbox); err != nil {
		return err
	}
	if err := m.saveRecordsLocked(); err != nil {
		return err
	}

	m.emitter.Emit(EventKeysCleared, venue, map[string]bool{
		"had_prev": hadPrev,
		"sandbox":  sandbox,
	})
	return nil
}

// Remove deletes a venue's record and secrets entirely.
func (m *Manager) Remove(venue core.Venue, sandbox bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := recordKey{venue: venue, sandbox: sandbox}
	_, hadPrev := m.records[key]
	delete(m.records, key)
	if err := m.purgeStore(venue, sandbox); err != nil {
		return err
	}
	if err := m.saveRecordsLocked(); err != nil {
		return err
	}

	m.emitter.Emit(EventKeysRemoved, venue, map[string]bool{
		"had_prev": hadPrev,
		"sandbox":  sandbox,
	})
	return nil
}

// purgeLocked blanks the in-memory secret fields. Caller holds the lock.
func (m *Manager) purgeLocked(venue core.Venue, sandbox bool) bool {
	rec := m.records[recordKey{venue: venue, sandbox: sandbox}]
	if rec == nil {
		return false
	}
	had := rec.hasSecrets || rec.apiKey != "" || rec.apiSecret != ""
	rec.apiKey = ""
	rec.apiSecret = ""
	rec.passphrase = ""
	rec.hasSecrets = false
	return had
}

func (m *Manager) purgeStore(venue core.Venue, sandbox bool) error {
	if m.store == nil {
		return nil
	}
	for _, kind := range []string{"api_key", "api_secret", "passphrase"} {
		if err := m.store.Delete(secretName(venue, kind, sandbox)); err != nil {
			return fmt.Errorf("purge %s credentials: %w", venue, err)
		}
	}
	return nil
}

// Masked returns a display-safe mirror of a venue's resolved credentials.
// Values are masked, never plaintext.
func (m *Manager) Masked(venue core.Venue, sandbox bool) map[string]string {
	cred, ok := m.Resolve(venue, sandbox)
	if !ok {
		return map[string]string{}
	}
	out := map[string]string{
		"api_key":    masking.Mask(cred.APIKey),
		"api_secret": masking.Mask(cred.APISecret),
	}
	if cred.Passphrase != "" {
		out["passphrase"] = masking.Mask(cred.Passphrase)
	}
	return out
}

// IsProductionReady reports whether a venue can trade real funds: complete
// production credentials, the venue enabled, and an encrypted store backing
// the secrets.
func (m *Manager) IsProductionReady(venue core.Venue) bool {
	if m.store == nil {
		return false
	}
	cred, ok := m.Resolve(venue, false)
	if !ok || !cred.Complete() {
		return false
	}
	return m.Enabled(venue, false)
}

// ProductionReady reports whether at least one venue can trade real funds.
func (m *Manager) ProductionReady() bool {
	for _, venue := range core.Venues() {
		if m.IsProductionReady(venue) {
			return true
		}
	}
	return false
}
