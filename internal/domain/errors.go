package domain

import "errors"

// Domain errors
var (
	ErrPlayerNotFound    = errors.New("player not found")
	ErrPlayerExists      = errors.New("player already registered")
	ErrTeamNotFound      = errors.New("team not found")
	ErrTeamExists        = errors.New("team already exists")
	ErrInvalidTeam       = errors.New("invalid team composition")
	ErrInvalidMode       = errors.New("invalid duel mode")
	ErrNoEligibleMode    = errors.New("team members do not share a duel mode")
	ErrTeamInMatch       = errors.New("team is currently in a match")
	ErrNotInMatch        = errors.New("team is not in a match")
	ErrMatchmakingClosed = errors.New("matchmaking is closed")
	ErrNoActiveMatch     = errors.New("no active match for reporting player")
	ErrDataIntegrity     = errors.New("duel result does not match the active match")
	ErrInvalidDuelLink   = errors.New("no duel id found in report")
	ErrDuelFetch         = errors.New("fetching duel result failed")
	ErrEngineStopped     = errors.New("matchmaking engine stopped")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInternalError     = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPlayerNotFound) ||
		errors.Is(err, ErrTeamNotFound) ||
		errors.Is(err, ErrNoActiveMatch)
}

// IsConflictError checks if an error is caused by the current state of a team or the engine
func IsConflictError(err error) bool {
	return errors.Is(err, ErrPlayerExists) ||
		errors.Is(err, ErrTeamExists) ||
		errors.Is(err, ErrTeamInMatch) ||
		errors.Is(err, ErrNotInMatch) ||
		errors.Is(err, ErrMatchmakingClosed) ||
		errors.Is(err, ErrDataIntegrity)
}
