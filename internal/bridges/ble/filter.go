package ble

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/webble-core/internal/radio"
)

// bluetoothBase is the Bluetooth SIG base UUID that 16- and 32-bit aliases
// expand into: 0000xxxx-0000-1000-8000-00805f9b34fb.
var bluetoothBase = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// Filter is one requestDevice filter clause. Every constraint present must
// hold for the clause to match.
type Filter struct {
	Name       *string
	NamePrefix *string

	// Services lists the valid service UUIDs the clause requires. Invalid
	// entries are dropped at parse time.
	Services []uuid.UUID
}

// Matches reports whether a peripheral satisfies every constraint in the
// clause. name is the advertised local name, falling back to the
// peripheral's cached name.
func (f Filter) Matches(name string, adv radio.Advertisement) bool {
	if f.Name != nil && name != *f.Name {
		return false
	}
	if f.NamePrefix != nil && (name == "" || !strings.HasPrefix(name, *f.NamePrefix)) {
		return false
	}
	for _, s := range f.Services {
		if !adv.Advertises(s) {
			return false
		}
	}
	return true
}

// matchesAny reports whether any clause matches. A nil filter list accepts
// every peripheral.
func matchesAny(filters []Filter, name string, adv radio.Advertisement) bool {
	if filters == nil {
		return true
	}
	for _, f := range filters {
		if f.Matches(name, adv) {
			return true
		}
	}
	return false
}

// serviceUnion returns the distinct services named across all clauses, in
// first-seen order. It returns nil when no clause names a service.
func serviceUnion(filters []Filter) []uuid.UUID {
	var out []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, f := range filters {
		for _, s := range f.Services {
			if seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// parseFilters decodes the "filters" request parameter. Malformed clauses
// (non-objects) are skipped.
func parseFilters(raw any) []Filter {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	filters := make([]Filter, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		var f Filter
		if v, ok := obj["name"].(string); ok {
			f.Name = &v
		}
		if v, ok := obj["namePrefix"].(string); ok {
			f.NamePrefix = &v
		}
		if services, ok := obj["services"].([]any); ok {
			for _, s := range services {
				if u, ok := parseServiceUUID(s); ok {
					f.Services = append(f.Services, u)
				}
			}
		}
		filters = append(filters, f)
	}
	return filters
}

// parseServiceUUID accepts a full UUID string in either case, a 16- or
// 32-bit hex alias ("180d", "0x180D") or a numeric alias.
func parseServiceUUID(v any) (uuid.UUID, bool) {
	switch s := v.(type) {
	case string:
		s = strings.TrimSpace(s)
		if u, err := uuid.Parse(strings.ToLower(s)); err == nil {
			return u, true
		}
		hex := strings.TrimPrefix(strings.ToLower(s), "0x")
		if len(hex) != 4 && len(hex) != 8 {
			return uuid.Nil, false
		}
		n, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return uuid.Nil, false
		}
		return aliasUUID(uint32(n)), true
	case float64:
		if s < 0 || s > float64(^uint32(0)) || s != float64(uint32(s)) {
			return uuid.Nil, false
		}
		return aliasUUID(uint32(s)), true
	default:
		return uuid.Nil, false
	}
}

func aliasUUID(alias uint32) uuid.UUID {
	u := bluetoothBase
	binary.BigEndian.PutUint32(u[0:4], alias)
	return u
}
