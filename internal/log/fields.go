// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldApptID    = "appointment_session_id"
	FieldUsername  = "username"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Browser / portal fields
	FieldContainerID = "container_id"
	FieldPhase       = "phase"
	FieldStopReason  = "stop_reason"
	FieldScrollCycle = "scroll_cycle"

	// Path / URL fields
	FieldPath    = "path"
	FieldBaseURL = "base_url"
)
