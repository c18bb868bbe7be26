package ble

import "time"

// MaxScanTimeout caps the selection window a page may ask for. Larger
// values are clamped rather than converted, which would overflow.
const MaxScanTimeout = time.Hour

// Request kinds, the first component of a type path.
const (
	KindDevice        = "device"
	KindRequestDevice = "requestDevice"
	KindGetDevices    = "getDevices"
)

// Device sub-requests, the second component of a device type path.
const (
	ActionConnectGATT    = "connectGATT"
	ActionDisconnectGATT = "disconnectGATT"
	ActionForget         = "forget"
)

// Request is a decoded page request. The concrete type is one of
// *DeviceRequest, *RequestDeviceRequest or *GetDevicesRequest.
type Request interface {
	Kind() string
}

// DeviceRequest addresses a granted (or reconnectable) device.
type DeviceRequest struct {
	// DeviceID is the external id the page holds.
	DeviceID string

	// PeripheralID optionally names the radio peripheral for reconnection.
	PeripheralID string

	// Sub holds the path components after "device".
	Sub []string
}

// Kind implements Request.
func (*DeviceRequest) Kind() string { return KindDevice }

// Action returns the first sub-path component, or "".
func (r *DeviceRequest) Action() string {
	if len(r.Sub) == 0 {
		return ""
	}
	return r.Sub[0]
}

// RequestDeviceRequest starts a device selection.
type RequestDeviceRequest struct {
	AcceptAll bool

	// Filters is nil when AcceptAll is set.
	Filters []Filter

	// Timeout is the requested selection window. Zero means not supplied
	// or non-positive; the manager substitutes its default.
	Timeout time.Duration

	// TimeoutSupplied reports whether the page sent a timeout parameter.
	TimeoutSupplied bool
}

// Kind implements Request.
func (*RequestDeviceRequest) Kind() string { return KindRequestDevice }

// GetDevicesRequest lists previously granted devices.
type GetDevicesRequest struct{}

// Kind implements Request.
func (*GetDevicesRequest) Kind() string { return KindGetDevices }

// rejection is a decode failure carrying the page-visible reason.
type rejection struct {
	reason string
}

func (r *rejection) Error() string { return r.reason }

func reject(reason string) error { return &rejection{reason: reason} }

// decodeRequest classifies a transaction once, at the boundary.
func decodeRequest(t *Transaction) (Request, error) {
	path := t.Key.Path
	if len(path) == 0 || path[0] == "" {
		return nil, reject(ReasonUnrecognisedType(t.Key))
	}

	switch path[0] {
	case KindDevice:
		return decodeDevice(t)
	case KindRequestDevice:
		if len(path) != 1 {
			return nil, reject(ReasonInvalidType(t.Key))
		}
		return decodeRequestDevice(t)
	case KindGetDevices:
		if len(path) != 1 {
			return nil, reject(ReasonInvalidType(t.Key))
		}
		return &GetDevicesRequest{}, nil
	default:
		return nil, reject(ReasonUnrecognisedType(t.Key))
	}
}

func decodeDevice(t *Transaction) (*DeviceRequest, error) {
	id, ok := t.Data["deviceId"].(string)
	if !ok || id == "" {
		return nil, reject(ReasonBadDeviceRequest)
	}
	req := &DeviceRequest{
		DeviceID: id,
		Sub:      append([]string(nil), t.Key.Path[1:]...),
	}
	if pid, ok := t.Data["peripheralId"].(string); ok {
		req.PeripheralID = pid
	}
	return req, nil
}

func decodeRequestDevice(t *Transaction) (*RequestDeviceRequest, error) {
	req := &RequestDeviceRequest{}
	if v, ok := t.Data["acceptAllDevices"].(bool); ok {
		req.AcceptAll = v
	}

	if !req.AcceptAll {
		req.Filters = parseFilters(t.Data["filters"])
		if len(req.Filters) == 0 {
			return nil, reject(ReasonNoFilters)
		}
	}

	if raw, ok := t.Data["timeout"]; ok {
		req.TimeoutSupplied = true
		if secs, ok := toSeconds(raw); ok && secs > 0 {
			req.Timeout = MaxScanTimeout
			if secs < MaxScanTimeout.Seconds() {
				req.Timeout = time.Duration(secs * float64(time.Second))
			}
		}
	}
	return req, nil
}

// toSeconds accepts the numeric forms a decoded payload may carry.
func toSeconds(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
