package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors — compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Market errors
var (
	// ErrMarketNotFound is returned when no market matches the given criteria.
	ErrMarketNotFound = errors.New("market not found")

	// ErrIllegalMarketState is returned when a lifecycle transition is attempted
	// out of order (the only legal chain is PENDING → OPEN → CLOSED → RESOLVED).
	ErrIllegalMarketState = errors.New("illegal market state transition")

	// ErrMarketNotOpen is returned when a bet or order is placed on a market
	// that is not accepting trades.
	ErrMarketNotOpen = errors.New("market is not open for betting")

	// ErrMarketExists is returned when a non-resolved market already exists for
	// the requested game/category pair.
	ErrMarketExists = errors.New("an unresolved market already exists for this game and category")

	// ErrNoOpenMarket is returned when no current market is available.
	ErrNoOpenMarket = errors.New("no open market available")

	// ErrUnsupportedMarket is returned when a P2P order targets a market whose
	// category is not binary.
	ErrUnsupportedMarket = errors.New("order book supports binary markets only")

	// ErrResolutionInProgress is returned when a second resolution is attempted
	// while one is already running for the same market.
	ErrResolutionInProgress = errors.New("resolution already in progress for this market")

	// ErrInvalidOutcome is returned when an outcome label or index does not
	// belong to the market's category.
	ErrInvalidOutcome = errors.New("outcome does not belong to this market")

	// ErrInvalidAmount is returned when a stake, mcps, or share count is zero
	// or negative.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Game errors
var (
	// ErrGameNotFound is returned when no game matches the given id.
	ErrGameNotFound = errors.New("game not found")

	// ErrGameNotActive is returned when a market is created or opened for a
	// game that is not in ACTIVE status, or while the admin kill-switch is off.
	ErrGameNotActive = errors.New("game is not active")

	// ErrCategoryNotFound is returned when no market category matches the id.
	ErrCategoryNotFound = errors.New("market category not found")

	// ErrSportNotFound is returned when no sport matches the id.
	ErrSportNotFound = errors.New("sport not found")

	// ErrTeamNotFound is returned when a referenced team does not exist or
	// belongs to a different sport.
	ErrTeamNotFound = errors.New("team not found for this sport")

	// ErrSameTeam is returned when a game names the same team on both sides.
	ErrSameTeam = errors.New("home and away teams must differ")
)

// Position / session errors
var (
	// ErrPositionNotFound is returned when no position matches the criteria.
	ErrPositionNotFound = errors.New("position not found")

	// ErrSessionVersionRegression is returned when an app-session version
	// update does not strictly increase the stored version.
	ErrSessionVersionRegression = errors.New("app session version must strictly increase")

	// ErrSessionExists is returned when a position re-uses an app session id.
	ErrSessionExists = errors.New("app session id is already bound to a position")
)

// Order book errors
var (
	// ErrOrderNotFound is returned when no order matches the given id.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderNotCancellable is returned when cancellation is attempted on an
	// order that is not OPEN or PARTIALLY_FILLED.
	ErrOrderNotCancellable = errors.New("order can no longer be cancelled")
)

// LP errors
var (
	// ErrLPShareNotFound is returned when an address holds no LP shares.
	ErrLPShareNotFound = errors.New("no liquidity shares for this address")

	// ErrWithdrawalsLocked is returned while the withdrawal-lock policy is in
	// effect (an open market or unsettled positions exist).
	ErrWithdrawalsLocked = errors.New("withdrawals are locked while markets or positions are open")

	// ErrInsufficientShares is returned when a withdrawal requests more shares
	// than the address holds.
	ErrInsufficientShares = errors.New("insufficient liquidity shares")
)

// Settlement-service errors
var (
	// ErrNotConnected is returned when the settlement-service connection is
	// down and could not be re-established.
	ErrNotConnected = errors.New("settlement service is not connected")

	// ErrRPCTimeout is returned when a settlement-service call exceeds its
	// deadline.
	ErrRPCTimeout = errors.New("settlement service call timed out")

	// ErrRemoteRPC is returned when the settlement service answers a request
	// with an error frame.
	ErrRemoteRPC = errors.New("settlement service rejected the request")

	// ErrFaucetDisabled is returned when no faucet URL is configured.
	ErrFaucetDisabled = errors.New("faucet is not configured")
)

// Auth errors
var (
	// ErrUnauthorized is returned when a valid admin token is not present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenInvalid is returned when a token cannot be parsed or its
	// signature does not match.
	ErrTokenInvalid = errors.New("token is invalid")

	// ErrBadAdminSecret is returned when the admin login secret is wrong.
	ErrBadAdminSecret = errors.New("admin secret does not match")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// notFoundErrors collects all "entity not found" sentinel errors so that
// IsNotFound can stay in sync automatically.
var notFoundErrors = []error{
	ErrMarketNotFound,
	ErrNoOpenMarket,
	ErrGameNotFound,
	ErrCategoryNotFound,
	ErrSportNotFound,
	ErrTeamNotFound,
	ErrPositionNotFound,
	ErrOrderNotFound,
	ErrLPShareNotFound,
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors. Use this instead of comparing error values
// directly when translating domain errors to HTTP 404 responses.
func IsNotFound(err error) bool {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict returns true for errors that represent a state conflict
// (illegal transition, duplicate market, stale session version).
func IsConflict(err error) bool {
	conflictErrors := []error{
		ErrIllegalMarketState,
		ErrMarketNotOpen,
		ErrMarketExists,
		ErrResolutionInProgress,
		ErrGameNotActive,
		ErrSameTeam,
		ErrSessionVersionRegression,
		ErrSessionExists,
		ErrOrderNotCancellable,
		ErrInsufficientShares,
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidation returns true for request-shape errors the caller can fix by
// sending a well-formed request. No session side-effects have happened.
func IsValidation(err error) bool {
	validationErrors := []error{
		ErrInvalidOutcome,
		ErrInvalidAmount,
		ErrUnsupportedMarket,
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsAuthError returns true for authentication/authorisation errors.
func IsAuthError(err error) bool {
	authErrors := []error{
		ErrUnauthorized,
		ErrTokenInvalid,
		ErrBadAdminSecret,
	}
	for _, target := range authErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
