// Package services implements the cadence orchestration business logic:
// the enrollment lifecycle engine and the reconciliation service. This
// file centralizes common service-level error values so they can be
// consistently returned by service methods and checked by callers.
//
// These errors are expected outcomes in normal operation (a contact is
// already enrolled, no default cadence exists) and are returned as typed
// values — never panicked — so the web layer or scheduler can map them.
package services

import "errors"

var (
	// ErrNotEnrollable is returned when the contact already has an active
	// or paused enrollment in this tenant.
	ErrNotEnrollable = errors.New("contact already has an open enrollment")

	// ErrNoCadenceAvailable is returned when no cadence was named and the
	// tenant has no default active cadence.
	ErrNoCadenceAvailable = errors.New("no default cadence available")

	// ErrCadenceNotFound is returned when the requested cadence does not
	// exist or is inactive in this tenant.
	ErrCadenceNotFound = errors.New("cadence not found")

	// ErrContactBlocked is returned when the bot-detection interlock
	// rejects the contact at enrollment time.
	ErrContactBlocked = errors.New("contact blocked by bot interlock")

	// ErrNoActiveEnrollment is reported by HandleResponse when the contact
	// has no active enrollment. This is expected, not an error condition:
	// most inbound messages belong to conversations outside any cadence.
	ErrNoActiveEnrollment = errors.New("no active enrollment for contact")

	// ErrEnrollmentNotFound is returned when an enrollment id does not
	// exist in this tenant.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrSyncRunning is returned when a full sync is requested while one
	// is already in progress.
	ErrSyncRunning = errors.New("full sync already running")

	// errChannelBlocked marks a channel-level dedup rejection inside the
	// retry loop; it is never returned to callers.
	errChannelBlocked = errors.New("send blocked by channel")
)
