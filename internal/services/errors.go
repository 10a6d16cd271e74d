// Package services defines the business logic for purchase records.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed by
// the bot and handler layers.
package services

import "errors"

var (
	// ErrPurchaseNotFound indicates that the requested purchase does not exist
	// or is not owned by the acting user. The two cases are deliberately
	// indistinguishable.
	ErrPurchaseNotFound = errors.New("purchase not found")

	// ErrInvalidAction is returned for an unknown action or move target.
	ErrInvalidAction = errors.New("invalid action")

	// ErrInvalidDelay is returned when a rearm delay is not positive.
	ErrInvalidDelay = errors.New("delay must be positive")

	// ErrNotPending is returned when extending a purchase that was already
	// bought or cancelled.
	ErrNotPending = errors.New("purchase is not pending")

	// ErrInvalidPurchase is returned when a new purchase is missing a name
	// or carries a non-positive price.
	ErrInvalidPurchase = errors.New("invalid purchase")
)
