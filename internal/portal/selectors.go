// SPDX-License-Identifier: MIT

// Package portal centralizes the target portal's page contract: URL
// patterns and DOM selectors. Everything portal-specific that may drift
// when the portal ships a redesign lives in this file.
package portal

import "fmt"

// URL paths, joined onto the configured base URL.
const (
	LoginPath        = "/login"
	LandingPath      = "/dashboard"
	ContainersPath   = "/containers"
	AppointmentsPath = "/appointments/new"
	MyApptsPath      = "/my-appointments"
	InvalidCredsPath = "/login?error" // redirect target on bad credentials
)

// Login page.
const (
	SelUsername    = `input[name="username"]`
	SelPassword    = `input[name="password"]`
	SelLoginSubmit = `button[type="submit"]`

	// Captcha widget (inside its iframe-less wrapper on this portal).
	SelCaptchaCheckbox = `.captcha-anchor .checkbox`
	SelCaptchaSolved   = `.captcha-anchor .checkbox-checked`
	SelCaptchaSpinner  = `.captcha-anchor .spinner`
	SelCaptchaAudioBtn = `#audio-challenge-button`
	SelCaptchaAudioSrc = `#audio-source`
	SelCaptchaAnswer   = `#audio-response`
	SelCaptchaVerify   = `#verify-button`
	SelCaptchaImage    = `.image-grid-challenge`

	// Post-login noise.
	SelPopupDismiss = `.modal-dialog .dismiss, .popup-close, button[aria-label="Close"]`
)

// Listing page. The scroll target is resolved by trying these in order:
// the virtual-list viewport first, the outer results pane last.
var ScrollTargets = []string{
	`.virtual-list-viewport`,
	`cdk-virtual-scroll-viewport`,
	`.results-table .scroll-container`,
	`.results-pane`,
}

const (
	SelResultsPane     = `.results-pane`
	SelMasterCheckbox  = `.results-table thead mat-checkbox input[type="checkbox"]`
	SelMasterCell      = `.results-table thead mat-checkbox`
	SelRowCheckboxes   = `.results-table tbody mat-checkbox input[type="checkbox"]`
	SelRowCheckCells   = `.results-table tbody mat-checkbox`
	SelExportButton    = `button.export-excel`
	SelRowByTextAnchor = `.results-table tbody tr`
)

// NthRowCheckbox addresses the checkbox input of the n-th result row
// (1-based), for the per-row fallback when the master checkbox is stuck.
func NthRowCheckbox(n int) string {
	return fmt.Sprintf(`.results-table tbody tr:nth-child(%d) mat-checkbox input[type="checkbox"]`, n)
}

// Container detail card.
const (
	SelDetailCard        = `.detail-card`
	SelTimelineWidget    = `.detail-card .timeline`
	SelTimelineMilestone = `.detail-card .timeline .milestone`
	SelMilestoneLabel    = `.label`
	SelMilestoneDate     = `.date`
	PregateMilestone     = "Pregate"
	ClassCompleted       = "milestone-complete"
	SelBookingLabel      = `.detail-card .field-label`
	BookingLabelText     = "Booking #"
	SelBookingValue      = `.detail-card .field-value`
)

// Appointment form (stepper).
const (
	SelStepperActive = `.mat-stepper-header[aria-selected="true"] .step-index`

	SelTruckingCompany = `mat-select[data-field="trucking-company"]`
	SelTerminal        = `mat-select[data-field="terminal"]`
	SelMoveType        = `mat-select[data-field="move-type"]`
	SelContainerInput  = `input[data-field="container-number"]`
	SelBookingInput    = `input[data-field="booking-number"]`
	SelQuantityInput   = `input[data-field="quantity"]`
	SelDropdownOption  = `mat-option .mat-option-text`

	SelRowSelectCheckbox = `.transaction-table mat-checkbox input[type="checkbox"]`
	SelPinInput          = `input[data-field="pin"]`
	SelUnitInput         = `input[data-field="unit-number"]`
	SelTruckPlate        = `input[data-field="truck-plate"]`
	SelPlateOption       = `mat-option .mat-option-text`
	SelOwnChassisToggle  = `mat-slide-toggle[data-field="own-chassis"] input`
	SelSealInputs        = `input[data-field^="seal-"]`

	SelNextButton   = `button.stepper-next`
	SelSubmitButton = `button.appointment-submit`

	SelTimeDropdown  = `mat-select[data-field="appointment-time"]`
	SelTimeOptions   = `mat-option .mat-option-text`
	SelCalendarIcon  = `.appointment-calendar mat-icon.calendar-toggle`
	SelValidationMsg = `.validation-toast, .mat-error`
)

// Seal field names on the export phase-2 form.
var SealFields = []string{"seal-1", "seal-2", "seal-3", "seal-4"}

// DefaultPIN is auto-filled when the caller omits the pin code.
const DefaultPIN = "1111"

// WildcardPlate values select the first autocomplete option.
const WildcardPlate = "ABC123"
