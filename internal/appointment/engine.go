// SPDX-License-Identifier: MIT

// Package appointment drives the portal's three-phase appointment
// stepper for import and export moves. Workflow state lives in
// resumable sub-sessions so a failed phase can be continued with
// corrected fields instead of restarting the form.
package appointment

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harborlink/portalgate/internal/browser"
	"github.com/harborlink/portalgate/internal/log"
	"github.com/harborlink/portalgate/internal/portal"
	"github.com/harborlink/portalgate/internal/portalerr"
)

// ScreenshotFunc captures a forensic screenshot and returns its
// URL-safe artifact name, or "" when capture failed.
type ScreenshotFunc func(ctx context.Context, d browser.Driver, tag string) string

// CheckResult is the outcome of a check run. Import checks list the
// available times; export checks report calendar reachability.
type CheckResult struct {
	ApptID         string
	Variant        Variant
	AvailableTimes []string
	CalendarFound  bool
	PhaseData      map[string]any
}

// MakeResult is the outcome of a submit run.
type MakeResult struct {
	ApptID    string
	Confirmed bool
	Details   map[string]any
	PhaseData map[string]any
}

// Engine executes the stepper phases on an authenticated driver.
type Engine struct {
	baseURL string
	store   *Store

	stepTimeout  time.Duration // stepper advance bound per phase
	pollInterval time.Duration
	settle       time.Duration // pause after dropdown/autocomplete interactions
}

// NewEngine builds the appointment engine.
func NewEngine(baseURL string, store *Store) *Engine {
	return &Engine{
		baseURL:      baseURL,
		store:        store,
		stepTimeout:  15 * time.Second,
		pollInterval: 500 * time.Millisecond,
		settle:       300 * time.Millisecond,
	}
}

// Store exposes the sub-session store for the router and its sweeper.
func (e *Engine) Store() *Store { return e.store }

var timeOptionsJS = fmt.Sprintf(
	`JSON.stringify(Array.from(document.querySelectorAll(%q)).map(function(o){return o.textContent.trim();}).filter(function(t){return t.length > 0;}))`,
	portal.SelTimeOptions)

// Check advances the sub-session to phase 3 and reads what is bookable
// without submitting anything.
func (e *Engine) Check(ctx context.Context, d browser.Driver, sub *SubSession, shot ScreenshotFunc) (*CheckResult, error) {
	e.applyDefaults(sub)
	if err := e.advance(ctx, d, sub, shot); err != nil {
		return nil, err
	}

	res := &CheckResult{ApptID: sub.ID, Variant: sub.Variant, PhaseData: sub.PhaseData}
	switch sub.Variant {
	case VariantImport:
		times, err := e.readAvailableTimes(ctx, d)
		if err != nil {
			return nil, e.fail(ctx, d, sub, shot, err)
		}
		res.AvailableTimes = times
	case VariantExport:
		found, err := e.openCalendar(ctx, d)
		if err != nil {
			return nil, e.fail(ctx, d, sub, shot, err)
		}
		res.CalendarFound = found
	}
	e.store.Touch(sub)
	return res, nil
}

// Make advances to phase 3, picks the requested slot, and clicks Submit.
// The Submit click happens exactly once and is never retried: it
// mutates portal state.
func (e *Engine) Make(ctx context.Context, d browser.Driver, sub *SubSession, shot ScreenshotFunc, appointmentTime string) (*MakeResult, error) {
	logger := log.WithComponentFromContext(ctx, "appointment")
	e.applyDefaults(sub)
	if err := e.advance(ctx, d, sub, shot); err != nil {
		return nil, err
	}

	switch sub.Variant {
	case VariantImport:
		if appointmentTime == "" {
			pe := portalerr.MissingField("appointment_time")
			pe.Phase = 3
			return nil, e.fail(ctx, d, sub, shot, pe)
		}
		if err := e.selectTime(ctx, d, appointmentTime); err != nil {
			return nil, e.fail(ctx, d, sub, shot, err)
		}
	case VariantExport:
		found, err := e.openCalendar(ctx, d)
		if err != nil {
			return nil, e.fail(ctx, d, sub, shot, err)
		}
		if !found {
			return nil, e.fail(ctx, d, sub, shot,
				portalerr.New(portalerr.KindElementNotFound, "calendar icon not reachable"))
		}
	}

	if err := d.Click(ctx, portal.SelSubmitButton); err != nil {
		// The click did not land; deliberately no retry past this point.
		return nil, e.fail(ctx, d, sub, shot,
			portalerr.Wrap(portalerr.KindSubmitFailed, err, "submit click failed"))
	}
	logger.Info().
		Str("event", "appointment.submitted").
		Str(log.FieldApptID, sub.ID).
		Str("variant", string(sub.Variant)).
		Msg("appointment submitted")

	details := map[string]any{"variant": string(sub.Variant)}
	if appointmentTime != "" {
		details["appointment_time"] = appointmentTime
	}
	if id := str(sub.PhaseData, "container_id"); id != "" {
		details["container_id"] = id
	}
	if bn := str(sub.PhaseData, "booking_number"); bn != "" {
		details["booking_number"] = bn
	}

	res := &MakeResult{ApptID: sub.ID, Confirmed: true, Details: details, PhaseData: sub.PhaseData}
	e.store.Delete(sub.ID)
	return res, nil
}

// advance runs the pending form phases (1 and 2) in order.
func (e *Engine) advance(ctx context.Context, d browser.Driver, sub *SubSession, shot ScreenshotFunc) error {
	logger := log.WithComponentFromContext(ctx, "appointment")

	for sub.Phase <= 2 {
		if err := e.requirePhaseFields(sub); err != nil {
			return e.fail(ctx, d, sub, shot, err)
		}

		var fill func() error
		switch sub.Phase {
		case 1:
			if err := e.ensureOnForm(ctx, d); err != nil {
				return e.fail(ctx, d, sub, shot, err)
			}
			fill = func() error { return e.fillPhase1(ctx, d, sub) }
		case 2:
			fill = func() error { return e.fillPhase2(ctx, d, sub) }
		}

		if err := fill(); err != nil {
			return e.fail(ctx, d, sub, shot, err)
		}
		if err := e.next(ctx, d, fill); err != nil {
			return e.fail(ctx, d, sub, shot, err)
		}

		logger.Debug().
			Str("event", "appointment.phase_complete").
			Str(log.FieldApptID, sub.ID).
			Int(log.FieldPhase, sub.Phase).
			Msg("phase complete")
		sub.Phase++
		e.store.Touch(sub)
	}
	return nil
}

// ensureOnForm navigates to the appointment stepper, detecting a portal
// logout on the way.
func (e *Engine) ensureOnForm(ctx context.Context, d browser.Driver) error {
	url, err := d.CurrentURL(ctx)
	if err != nil {
		return portalerr.Wrap(portalerr.KindNavTimeout, err, "read current url")
	}
	if strings.Contains(url, portal.LoginPath) {
		return portalerr.New(portalerr.KindSessionExpired, "portal logged the session out")
	}
	if !strings.Contains(url, portal.AppointmentsPath) {
		if err := d.Navigate(ctx, e.baseURL+portal.AppointmentsPath); err != nil {
			return portalerr.Wrap(portalerr.KindNavTimeout, err, "open appointment form")
		}
	}
	if err := d.WaitVisible(ctx, portal.SelTruckingCompany, 20*time.Second); err != nil {
		return portalerr.Wrap(portalerr.KindNavTimeout, err, "appointment form did not render")
	}
	return nil
}

func (e *Engine) fillPhase1(ctx context.Context, d browser.Driver, sub *SubSession) error {
	dropdowns := []struct{ label, selector string }{
		{"trucking_company", portal.SelTruckingCompany},
		{"terminal", portal.SelTerminal},
		{"move_type", portal.SelMoveType},
	}
	for _, dd := range dropdowns {
		if err := e.selectDropdown(ctx, d, dd.label, dd.selector, str(sub.PhaseData, dd.label)); err != nil {
			return err
		}
	}

	switch sub.Variant {
	case VariantImport:
		if err := d.TypePaced(ctx, portal.SelContainerInput, str(sub.PhaseData, "container_id")); err != nil {
			return portalerr.Wrap(portalerr.KindElementNotFound, err, "fill container number")
		}
	case VariantExport:
		if err := d.TypePaced(ctx, portal.SelBookingInput, str(sub.PhaseData, "booking_number")); err != nil {
			return portalerr.Wrap(portalerr.KindElementNotFound, err, "fill booking number")
		}
		if err := d.TypePaced(ctx, portal.SelQuantityInput, str(sub.PhaseData, "quantity")); err != nil {
			return portalerr.Wrap(portalerr.KindElementNotFound, err, "fill quantity")
		}
	}
	return nil
}

func (e *Engine) fillPhase2(ctx context.Context, d browser.Driver, sub *SubSession) error {
	if err := e.selectTransactionRow(ctx, d); err != nil {
		return err
	}

	switch sub.Variant {
	case VariantImport:
		if err := d.TypePaced(ctx, portal.SelPinInput, str(sub.PhaseData, "pin_code")); err != nil {
			return portalerr.Wrap(portalerr.KindElementNotFound, err, "fill pin")
		}
	case VariantExport:
		if err := d.TypePaced(ctx, portal.SelUnitInput, str(sub.PhaseData, "unit_number")); err != nil {
			return portalerr.Wrap(portalerr.KindElementNotFound, err, "fill unit number")
		}
		for _, field := range portal.SealFields {
			sel := fmt.Sprintf(`input[data-field=%q]`, field)
			if err := d.TypePaced(ctx, sel, str(sub.PhaseData, sealKey(field))); err != nil {
				return portalerr.Wrap(portalerr.KindElementNotFound, err, "fill %s", field)
			}
		}
	}

	if err := e.fillPlate(ctx, d, sub); err != nil {
		return err
	}
	return e.setOwnChassis(ctx, d, boolVal(sub.PhaseData, "own_chassis"))
}

// selectTransactionRow ticks the transaction checkbox, with a JS-click
// fallback for the material wrapper.
func (e *Engine) selectTransactionRow(ctx context.Context, d browser.Driver) error {
	for _, click := range []func() error{
		func() error { return d.Click(ctx, portal.SelRowSelectCheckbox) },
		func() error { return d.ClickJS(ctx, portal.SelRowSelectCheckbox) },
	} {
		if err := click(); err != nil {
			continue
		}
		_ = sleepCtx(ctx, e.settle)
		if checked, err := d.IsChecked(ctx, portal.SelRowSelectCheckbox); err == nil && checked {
			return nil
		}
	}
	return portalerr.New(portalerr.KindCheckboxStuck, "transaction checkbox would not check")
}

// fillPlate types the plate and resolves the autocomplete. The wildcard
// plate (or an empty value) picks the first suggested option.
func (e *Engine) fillPlate(ctx context.Context, d browser.Driver, sub *SubSession) error {
	plate := str(sub.PhaseData, "truck_plate")
	wildcard := plate == "" || plate == portal.WildcardPlate
	if wildcard {
		plate = portal.WildcardPlate
	}

	if err := d.TypePaced(ctx, portal.SelTruckPlate, plate); err != nil {
		return portalerr.Wrap(portalerr.KindElementNotFound, err, "fill truck plate")
	}
	_ = sleepCtx(ctx, e.settle)

	if wildcard {
		if err := d.Click(ctx, portal.SelPlateOption); err != nil {
			pe := portalerr.OptionNotFound("truck_plate", plate)
			pe.Err = err
			return pe
		}
		return nil
	}
	ok, err := d.ClickByText(ctx, portal.SelPlateOption, plate)
	if err == nil && ok {
		return nil
	}
	// Exact suggestion missing: take the first one rather than stall.
	if err := d.Click(ctx, portal.SelPlateOption); err != nil {
		return portalerr.OptionNotFound("truck_plate", plate)
	}
	return nil
}

// setOwnChassis reads the toggle before clicking: a blind click on an
// already-correct toggle would reverse it.
func (e *Engine) setOwnChassis(ctx context.Context, d browser.Driver, want bool) error {
	current, err := d.IsChecked(ctx, portal.SelOwnChassisToggle)
	if err != nil {
		return portalerr.Wrap(portalerr.KindElementNotFound, err, "read own-chassis toggle")
	}
	if current == want {
		return nil
	}
	if err := d.ClickJS(ctx, portal.SelOwnChassisToggle); err != nil {
		return portalerr.Wrap(portalerr.KindClickIntercepted, err, "toggle own-chassis")
	}
	return nil
}

// selectDropdown opens a material select and picks the option with the
// exact displayed text.
func (e *Engine) selectDropdown(ctx context.Context, d browser.Driver, label, selector, value string) error {
	if err := d.Click(ctx, selector); err != nil {
		if err := d.ClickJS(ctx, selector); err != nil {
			return &portalerr.Error{
				Kind:    portalerr.KindDropdownNotFound,
				Message: fmt.Sprintf("dropdown %q did not open", label),
				Field:   label,
				Err:     err,
			}
		}
	}
	_ = sleepCtx(ctx, e.settle)

	ok, err := d.ClickByText(ctx, portal.SelDropdownOption, value)
	if err != nil || !ok {
		return portalerr.OptionNotFound(label, value)
	}
	return nil
}

// next clicks the stepper's Next button and waits for the step indicator
// to advance. A stall is inspected for a validation toast first; a true
// stuck stepper gets exactly one refill-and-retry.
func (e *Engine) next(ctx context.Context, d browser.Driver, refill func() error) error {
	logger := log.WithComponentFromContext(ctx, "appointment")

	before, _ := d.Text(ctx, portal.SelStepperActive)
	if err := e.clickNext(ctx, d); err != nil {
		return err
	}
	if e.waitStepperAdvance(ctx, d, before) {
		return nil
	}

	if v, _ := d.Visible(ctx, portal.SelValidationMsg); v {
		msg, _ := d.Text(ctx, portal.SelValidationMsg)
		return portalerr.New(portalerr.KindValidation, "%s", strings.TrimSpace(msg))
	}

	logger.Warn().Str("event", "appointment.stepper_retry").Msg("stepper did not advance, refilling once")
	if err := refill(); err != nil {
		return err
	}
	if err := e.clickNext(ctx, d); err != nil {
		return err
	}
	if e.waitStepperAdvance(ctx, d, before) {
		return nil
	}
	return portalerr.New(portalerr.KindStepperStuck, "stepper did not advance after retry")
}

func (e *Engine) clickNext(ctx context.Context, d browser.Driver) error {
	if err := d.Click(ctx, portal.SelNextButton); err != nil {
		if err := d.ClickJS(ctx, portal.SelNextButton); err != nil {
			return portalerr.Wrap(portalerr.KindClickIntercepted, err, "click next")
		}
	}
	return nil
}

func (e *Engine) waitStepperAdvance(ctx context.Context, d browser.Driver, before string) bool {
	deadline := time.Now().Add(e.stepTimeout)
	for time.Now().Before(deadline) {
		now, err := d.Text(ctx, portal.SelStepperActive)
		if err == nil && now != before {
			return true
		}
		if sleepCtx(ctx, e.pollInterval) != nil {
			return false
		}
	}
	return false
}

// readAvailableTimes opens the time dropdown and lists its options.
func (e *Engine) readAvailableTimes(ctx context.Context, d browser.Driver) ([]string, error) {
	if err := d.Click(ctx, portal.SelTimeDropdown); err != nil {
		if err := d.ClickJS(ctx, portal.SelTimeDropdown); err != nil {
			return nil, &portalerr.Error{
				Kind:    portalerr.KindDropdownNotFound,
				Message: "appointment-time dropdown did not open",
				Field:   "appointment_time",
				Err:     err,
			}
		}
	}
	_ = sleepCtx(ctx, e.settle)

	raw, err := d.Eval(ctx, timeOptionsJS)
	if err != nil {
		return nil, portalerr.Wrap(portalerr.KindElementNotFound, err, "read time options")
	}
	var times []string
	if err := json.Unmarshal([]byte(raw), &times); err != nil {
		return nil, portalerr.Wrap(portalerr.KindInternal, err, "parse time options")
	}
	return times, nil
}

// selectTime opens the dropdown and picks the exact slot.
func (e *Engine) selectTime(ctx context.Context, d browser.Driver, value string) error {
	if err := d.Click(ctx, portal.SelTimeDropdown); err != nil {
		if err := d.ClickJS(ctx, portal.SelTimeDropdown); err != nil {
			return portalerr.Wrap(portalerr.KindDropdownNotFound, err, "appointment-time dropdown did not open")
		}
	}
	_ = sleepCtx(ctx, e.settle)

	ok, err := d.ClickByText(ctx, portal.SelTimeOptions, value)
	if err != nil || !ok {
		return portalerr.OptionNotFound("appointment_time", value)
	}
	return nil
}

// openCalendar reports whether the export calendar is reachable and
// opens it when it is.
func (e *Engine) openCalendar(ctx context.Context, d browser.Driver) (bool, error) {
	v, err := d.Visible(ctx, portal.SelCalendarIcon)
	if err != nil || !v {
		return false, nil
	}
	if err := d.Click(ctx, portal.SelCalendarIcon); err != nil {
		if err := d.ClickJS(ctx, portal.SelCalendarIcon); err != nil {
			return false, portalerr.Wrap(portalerr.KindClickIntercepted, err, "open calendar")
		}
	}
	return true, nil
}

// fail attaches resumption state to the error and preserves the
// sub-session for a follow-up request.
func (e *Engine) fail(ctx context.Context, d browser.Driver, sub *SubSession, shot ScreenshotFunc, err error) error {
	pe := portalerr.AsError(err)
	pe.ApptID = sub.ID
	if pe.Phase == 0 {
		pe.Phase = sub.Phase
	}
	if shot != nil && pe.ScreenshotURL == "" {
		pe.ScreenshotURL = shot(ctx, d, strings.ToLower(string(pe.Kind)))
	}
	e.store.Touch(sub)
	return pe
}

// requirePhaseFields enforces the per-phase field contract before any
// browser work happens.
func (e *Engine) requirePhaseFields(sub *SubSession) error {
	missing := func(f string) error {
		pe := portalerr.MissingField(f)
		pe.Phase = sub.Phase
		return pe
	}

	switch sub.Phase {
	case 1:
		required := []string{"trucking_company", "terminal", "move_type"}
		if sub.Variant == VariantImport {
			required = append(required, "container_id")
		} else {
			required = append(required, "booking_number")
		}
		for _, f := range required {
			if str(sub.PhaseData, f) == "" {
				return missing(f)
			}
		}
	case 2:
		// Presence is the contract here, not a non-empty value: the plate
		// may be the wildcard and own_chassis may legitimately be false.
		for _, f := range []string{"truck_plate", "own_chassis"} {
			if _, ok := sub.PhaseData[f]; !ok {
				return missing(f)
			}
		}
	}
	return nil
}

// applyDefaults fills the documented defaults into phase data so the
// caller sees exactly what was typed into the form.
func (e *Engine) applyDefaults(sub *SubSession) {
	if sub.Variant == VariantImport {
		if str(sub.PhaseData, "pin_code") == "" {
			sub.PhaseData["pin_code"] = portal.DefaultPIN
		}
	} else {
		if str(sub.PhaseData, "quantity") == "" {
			sub.PhaseData["quantity"] = "1"
		}
		if str(sub.PhaseData, "unit_number") == "" {
			sub.PhaseData["unit_number"] = "1"
		}
		for _, field := range portal.SealFields {
			if str(sub.PhaseData, sealKey(field)) == "" {
				sub.PhaseData[sealKey(field)] = "1"
			}
		}
	}
}

// sealKey maps a DOM field name ("seal-1") to its API key ("seal_1").
func sealKey(field string) string {
	return strings.ReplaceAll(field, "-", "_")
}

func str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

func boolVal(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
