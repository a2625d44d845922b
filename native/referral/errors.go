package referral

import (
	"errors"

	"refchain/native/referral/payout"
)

var (
	// Structural errors.
	ErrInvalidIdentity   = errors.New("referral: invalid identity")
	ErrAlreadyRegistered = errors.New("referral: already registered")
	ErrCycleDetected     = errors.New("referral: cycle detected")
	ErrReferrerNotInTree = errors.New("referral: referrer not in tree")

	// Authorization errors.
	ErrUnauthorizedRegistrar     = errors.New("referral: unauthorized registrar")
	ErrUnauthorizedAdministrator = errors.New("referral: unauthorized administrator")
	ErrInvalidSignature          = errors.New("referral: invalid signature")
	ErrAuthorityAlreadySet       = errors.New("referral: authority already initialised")
	ErrAuthorityNotSet           = errors.New("referral: authority not initialised")

	// Distribution errors.
	ErrZeroAmount         = errors.New("referral: zero amount")
	ErrAlreadyDistributed = errors.New("referral: already distributed")
	ErrTransferFailed     = errors.New("referral: transfer failed")
	ErrInvalidRequest     = errors.New("referral: invalid request")

	// ErrInvalidParameters is shared with the payout engine so callers can
	// match configuration failures from either layer.
	ErrInvalidParameters = payout.ErrInvalidParameters
)
