package device

import (
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry holds the devices granted to pages, indexed by internal (radio)
// and external (page-visible) identifier.
//
// The two indexes are always updated together: a device is reachable through
// both or through neither.
//
// All public methods are thread-safe. Returned devices are copies.
type Registry struct {
	byInternal map[string]*Device
	byExternal map[string]*Device
	mu         sync.RWMutex
	logger     Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byInternal: make(map[string]*Device),
		byExternal: make(map[string]*Device),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register adds dev to both indexes. Registering an internal id that is
// already present replaces the previous entry and its external binding.
func (r *Registry) Register(dev *Device) error {
	if dev == nil || dev.InternalID == "" || dev.ExternalID == "" {
		return ErrInvalidDevice
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byExternal[dev.ExternalID]; ok && existing.InternalID != dev.InternalID {
		return fmt.Errorf("%w: %s", ErrExternalIDInUse, dev.ExternalID)
	}
	if prev, ok := r.byInternal[dev.InternalID]; ok {
		delete(r.byExternal, prev.ExternalID)
	}

	stored := dev.Clone()
	r.byInternal[stored.InternalID] = stored
	r.byExternal[stored.ExternalID] = stored

	r.logger.Debug("device registered", "external_id", stored.ExternalID, "page_id", stored.PageID)
	return nil
}

// Unregister removes the device with the given internal id from both indexes.
// It reports whether a device was removed; an absent id is a no-op.
func (r *Registry) Unregister(internalID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.byInternal[internalID]
	if !ok {
		return false
	}
	delete(r.byInternal, internalID)
	delete(r.byExternal, dev.ExternalID)

	r.logger.Debug("device unregistered", "external_id", dev.ExternalID)
	return true
}

// LookupByExternal returns the device bound to an external id.
func (r *Registry) LookupByExternal(externalID string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.byExternal[externalID]
	if !ok {
		return nil, false
	}
	return dev.Clone(), true
}

// LookupByInternal returns the device bound to a radio identifier.
func (r *Registry) LookupByInternal(internalID string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.byInternal[internalID]
	if !ok {
		return nil, false
	}
	return dev.Clone(), true
}

// SetState updates the connection state of a device.
// Returns ErrDeviceNotFound if the internal id is not registered.
func (r *Registry) SetState(internalID string, state ConnectionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.byInternal[internalID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, internalID)
	}
	dev.State = state
	return nil
}

// List returns every granted device ordered by grant time.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]*Device, 0, len(r.byInternal))
	for _, d := range r.byInternal {
		devices = append(devices, d.Clone())
	}
	sortByGrant(devices)
	return devices
}

// ListByPage returns the devices granted to a page.
func (r *Registry) ListByPage(pageID string) []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var devices []*Device
	for _, d := range r.byInternal {
		if d.PageID == pageID {
			devices = append(devices, d.Clone())
		}
	}
	sortByGrant(devices)
	return devices
}

// Len returns the number of granted devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byInternal)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int
	ByState      map[ConnectionState]int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.byInternal),
		ByState:      make(map[ConnectionState]int),
	}
	for _, d := range r.byInternal {
		stats.ByState[d.State]++
	}
	return stats
}

func sortByGrant(devices []*Device) {
	sort.SliceStable(devices, func(i, j int) bool {
		if devices[i].GrantedAt.Equal(devices[j].GrantedAt) {
			return devices[i].ExternalID < devices[j].ExternalID
		}
		return devices[i].GrantedAt.Before(devices[j].GrantedAt)
	})
}
