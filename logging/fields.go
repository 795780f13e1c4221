// Package logging provides centralized logging utilities for hookline.
// It defines standardized field names and helper functions to ensure
// consistent structured logging across all components.
package logging

// Standard field name constants for structured logging.
// Using constants ensures consistency and prevents typos across the codebase.
const (
	// Component identification
	FieldComponent = "component"

	// Network/connection fields
	FieldAddr       = "addr"
	FieldListenAddr = "listen_addr"
	FieldRemoteAddr = "remote_addr"
	FieldURL        = "url"
	FieldTarget     = "target"

	// Channel fields
	FieldChannel   = "channel"
	FieldCloseCode = "close_code"
	FieldReason    = "reason"

	// Relay fields
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatus      = "status"
	FieldSubscribers = "subscribers"

	// Operation fields
	FieldAttempt  = "attempt"
	FieldDuration = "duration"
	FieldSize     = "size"
	FieldState    = "state"
)

// Component name constants for the "component" field.
// These identify the source of log messages.
const (
	ComponentRelayServer   = "relay_server"
	ComponentChannel       = "subscriber_channel"
	ComponentRegistry      = "subscriber_registry"
	ComponentSubscriber    = "subscriber_client"
	ComponentDispatcher    = "forward_dispatcher"
	ComponentObservability = "observability_server"
)
