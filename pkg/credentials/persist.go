package credentials

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/bytedance/sonic"

	"exbridge/internal/masking"
	"exbridge/pkg/core"
	"exbridge/pkg/vault"
)

// recordsName is the reserved vault entry holding the record map. Venue
// names never start with an underscore, so it cannot collide with a secret.
const recordsName = "_records"

// persistedRecord is the durable view of one record: the flags and whether
// secrets exist, never the secrets themselves (those have their own vault
// entries).
type persistedRecord struct {
	Enabled    bool `json:"enabled"`
	HasSecrets bool `json:"has_secrets"`
}

// mirrorEntry is one venue's view in the mirror file. With a vault attached
// the secret fields hold masked values; in plaintext-bootstrap mode they hold
// the real values and the mirror is the persistence.
type mirrorEntry struct {
	Venue      string `json:"venue"`
	Sandbox    bool   `json:"sandbox"`
	Enabled    bool   `json:"enabled"`
	APIKey     string `json:"api_key,omitempty"`
	APISecret  string `json:"api_secret,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

type mirrorFile struct {
	Masked  bool          `json:"masked"`
	Entries []mirrorEntry `json:"entries"`
}

func recordName(venue core.Venue, sandbox bool) string {
	name := venue.String()
	if sandbox {
		name += "_testnet"
	}
	return name
}

// saveRecordsLocked persists the record map into the vault and rewrites the
// mirror file. Caller holds the lock.
func (m *Manager) saveRecordsLocked() error {
	if m.store != nil {
		blob := make(map[string]persistedRecord, len(m.records))
		for key, rec := range m.records {
			blob[recordName(key.venue, key.sandbox)] = persistedRecord{
				Enabled:    rec.enabled,
				HasSecrets: rec.hasSecrets,
			}
		}
		data, err := sonic.Marshal(blob)
		if err != nil {
			return fmt.Errorf("encode records: %w", err)
		}
		if err := m.store.Set(recordsName, string(data)); err != nil {
			return fmt.Errorf("persist records: %w", err)
		}
	}
	return m.writeMirrorLocked()
}

// loadRecords restores flags and record shapes from the vault. Missing blob
// means a fresh store.
func (m *Manager) loadRecords() error {
	raw, err := m.store.Get(recordsName)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return nil
		}
		return err
	}
	var blob map[string]persistedRecord
	if err := sonic.Unmarshal([]byte(raw), &blob); err != nil {
		return fmt.Errorf("decode records: %w", err)
	}
	for name, pr := range blob {
		sandbox := strings.HasSuffix(name, "_testnet")
		venue, err := core.ParseVenue(strings.TrimSuffix(name, "_testnet"))
		if err != nil {
			continue
		}
		m.records[recordKey{venue: venue, sandbox: sandbox}] = &record{
			enabled:    pr.Enabled,
			hasSecrets: pr.HasSecrets,
		}
	}
	return nil
}

// writeMirrorLocked rewrites the mirror file from the current records.
// Caller holds the lock.
func (m *Manager) writeMirrorLocked() error {
	if m.mirrorPath == "" {
		return nil
	}

	keys := make([]recordKey, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].venue != keys[j].venue {
			return keys[i].venue < keys[j].venue
		}
		return !keys[i].sandbox && keys[j].sandbox
	})

	file := mirrorFile{Masked: m.store != nil, Entries: make([]mirrorEntry, 0, len(keys))}
	for _, k := range keys {
		rec := m.records[k]
		entry := mirrorEntry{
			Venue:   k.venue.String(),
			Sandbox: k.sandbox,
			Enabled: rec.enabled,
		}
		apiKey := m.resolveField(k.venue, "api_key", k.sandbox, rec)
		apiSecret := m.resolveField(k.venue, "api_secret", k.sandbox, rec)
		passphrase := m.resolveField(k.venue, "passphrase", k.sandbox, rec)
		if file.Masked {
			if apiKey != "" {
				entry.APIKey = masking.Mask(apiKey)
			}
			if apiSecret != "" {
				entry.APISecret = masking.Mask(apiSecret)
			}
			if passphrase != "" {
				entry.Passphrase = masking.Mask(passphrase)
			}
		} else {
			entry.APIKey = apiKey
			entry.APISecret = apiSecret
			entry.Passphrase = passphrase
		}
		file.Entries = append(file.Entries, entry)
	}

	data, err := sonic.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode mirror: %w", err)
	}
	if err := os.WriteFile(m.mirrorPath, data, 0o600); err != nil {
		return fmt.Errorf("write mirror: %w", err)
	}
	return nil
}

// loadMirror restores records from the mirror file in plaintext-bootstrap
// mode. A masked mirror cannot be restored into usable credentials and is
// skipped.
func (m *Manager) loadMirror() error {
	data, err := os.ReadFile(m.mirrorPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read mirror: %w", err)
	}
	var file mirrorFile
	if err := sonic.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode mirror: %w", err)
	}
	if file.Masked {
		return nil
	}
	for _, e := range file.Entries {
		venue, err := core.ParseVenue(e.Venue)
		if err != nil {
			continue
		}
		m.records[recordKey{venue: venue, sandbox: e.Sandbox}] = &record{
			apiKey:     e.APIKey,
			apiSecret:  e.APISecret,
			passphrase: e.Passphrase,
			enabled:    e.Enabled,
			hasSecrets: e.APIKey != "" || e.APISecret != "",
		}
	}
	return nil
}
