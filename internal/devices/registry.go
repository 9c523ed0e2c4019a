package devices

import (
	"context"
	"crypto/subtle"
	"log"
	"strings"
	"sync"
	"time"
)

// DeviceEntry is one registered device credential.
type DeviceEntry struct {
	DeviceID     string    `json:"device_id" yaml:"device_id"`
	Secret       string    `json:"-" yaml:"secret"`
	Model        string    `json:"model" yaml:"model"`
	RegisteredAt time.Time `json:"registered_at" yaml:"-"`
	IsActive     bool      `json:"is_active" yaml:"-"`
}

// Store is the optional persistence hook behind the registry. In-memory
// state stays authoritative at runtime; the store is write-through.
type Store interface {
	SaveDevice(ctx context.Context, entry DeviceEntry) error
	DeactivateDevice(ctx context.Context, deviceID string) error
	LoadDevices(ctx context.Context) ([]DeviceEntry, error)
}

// Registry holds device credentials and answers authentication checks.
type Registry struct {
	mu      sync.Mutex
	devices map[string]DeviceEntry
	store   Store

	// AllowEmptyID permits registration with an empty device id. The
	// server configuration never enables this; it exists for embedders.
	AllowEmptyID bool
}

func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]DeviceEntry)}
}

// NewRegistryWithStore populates the registry from the backing store and
// keeps writing through to it.
func NewRegistryWithStore(ctx context.Context, store Store) (*Registry, error) {
	r := NewRegistry()
	r.store = store

	entries, err := store.LoadDevices(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	for _, e := range entries {
		r.devices[e.DeviceID] = e
	}
	r.mu.Unlock()

	log.Printf("[DEVICES] Loaded %d devices from store", len(entries))
	return r, nil
}

// Register adds a device. Returns false if the id is already taken.
func (r *Registry) Register(deviceID, secret, model string) bool {
	if deviceID == "" && !r.AllowEmptyID {
		return false
	}

	r.mu.Lock()
	if _, exists := r.devices[deviceID]; exists {
		r.mu.Unlock()
		return false
	}
	entry := DeviceEntry{
		DeviceID:     deviceID,
		Secret:       secret,
		Model:        model,
		RegisteredAt: time.Now(),
		IsActive:     true,
	}
	r.devices[deviceID] = entry
	r.mu.Unlock()

	if r.store != nil {
		stored := entry
		if !strings.HasPrefix(secret, hashPrefix) {
			hashed, err := HashSecret(secret)
			if err != nil {
				log.Printf("[DEVICES] Secret hashing failed for %s: %v", deviceID, err)
				return true
			}
			stored.Secret = hashed
		}
		if err := r.store.SaveDevice(context.Background(), stored); err != nil {
			log.Printf("[DEVICES] Store write failed for %s: %v", deviceID, err)
		}
	}
	return true
}

// Authenticate reports whether the device exists, is active, and the
// secret matches. Comparison is constant-time in both the raw and the
// hashed representation.
func (r *Registry) Authenticate(deviceID, secret string) bool {
	r.mu.Lock()
	entry, ok := r.devices[deviceID]
	r.mu.Unlock()

	if !ok || !entry.IsActive {
		return false
	}

	if strings.HasPrefix(entry.Secret, hashPrefix) {
		match, err := CheckSecret(secret, entry.Secret)
		return err == nil && match
	}
	return subtle.ConstantTimeCompare([]byte(entry.Secret), []byte(secret)) == 1
}

// Deactivate marks a device inactive. The entry remains visible via Get.
func (r *Registry) Deactivate(deviceID string) bool {
	r.mu.Lock()
	entry, ok := r.devices[deviceID]
	if ok {
		entry.IsActive = false
		r.devices[deviceID] = entry
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if r.store != nil {
		if err := r.store.DeactivateDevice(context.Background(), deviceID); err != nil {
			log.Printf("[DEVICES] Store deactivate failed for %s: %v", deviceID, err)
		}
	}
	return true
}

// Get returns the entry for deviceID, including deactivated ones.
func (r *Registry) Get(deviceID string) (DeviceEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.devices[deviceID]
	return entry, ok
}

// Count returns the number of known devices, active or not.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}
