package model

// DeviceRegistration describes the push token this device has handed to the
// backend. Token rotation replaces the record; it is never deleted.
type DeviceRegistration struct {
	Token      string `json:"token"`
	DeviceType string `json:"device_type"`

	// Registered is true once the backend acknowledged Token.
	Registered bool `json:"registered"`
}
