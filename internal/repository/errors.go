// Package repository defines the persistence boundary of the service and
// its MySQL implementation.  Sentinel errors below let higher layers
// distinguish failure scenarios without inspecting driver errors.
package repository

import "errors"

// ErrNotFound is returned when a row does not exist.  Handlers translate
// it into a 404 that does not reveal ownership.
var ErrNotFound = errors.New("not found")

// ErrConflict signals a uniqueness violation, such as a second active
// reservation for the same member and occurrence.
var ErrConflict = errors.New("conflict")

// ErrNoActiveMembership is returned when a member has no usable ledger
// entry at the requested instant.
var ErrNoActiveMembership = errors.New("no active membership")

// ErrEventAlreadyProcessed is returned by RecordWebhookEvent for a
// duplicate delivery.
var ErrEventAlreadyProcessed = errors.New("webhook event already processed")
