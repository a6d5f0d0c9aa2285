package types

import (
	sdkerrors "cosmossdk.io/errors"
)

// Codespace for marketplace sentinel errors.
const Codespace = "gridmarket"

var (
	// Caller errors
	ErrInvalidAmount  = sdkerrors.Register(Codespace, 2, "amount must be positive")
	ErrInvalidRequest = sdkerrors.Register(Codespace, 3, "invalid request")

	// Lookup errors
	ErrProviderNotFound = sdkerrors.Register(Codespace, 10, "provider not found")
	ErrReceiptNotFound  = sdkerrors.Register(Codespace, 11, "receipt not found")

	// Economic errors
	ErrInsufficientStake = sdkerrors.Register(Codespace, 20, "insufficient stake")
	ErrDuplicateClaim    = sdkerrors.Register(Codespace, 21, "cycle already claimed")

	// Dispatch errors
	ErrNoPeerAvailable = sdkerrors.Register(Codespace, 30, "no peer available for compute")
	ErrComputeTimeout  = sdkerrors.Register(Codespace, 31, "compute request timed out")
	ErrRequestCanceled = sdkerrors.Register(Codespace, 32, "compute request canceled")

	// Proof errors. Structural failures error out; a well-formed proof that
	// merely fails verification returns a VerificationResult instead.
	ErrProofStructure = sdkerrors.Register(Codespace, 40, "malformed proof structure")

	// Infrastructure errors
	ErrStorageFailed   = sdkerrors.Register(Codespace, 50, "storage operation failed")
	ErrTransportFailed = sdkerrors.Register(Codespace, 51, "transport operation failed")
)
