package contest

import "fmt"

// Code identifies why a creation or claim was rejected.
type Code string

const (
	CodeInvalidRequest      Code = "INVALID_REQUEST"
	CodeEmptyRoster         Code = "EMPTY_ROSTER"
	CodeNoRemainingPlayers  Code = "NO_REMAINING_PLAYERS"
	CodeSpreadTooLarge      Code = "SPREAD_TOO_LARGE"
	CodeTierUnavailable     Code = "TIER_UNAVAILABLE"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeNotSameLeague       Code = "NOT_SAME_LEAGUE"
	CodeNotAMember          Code = "NOT_A_MEMBER"
	CodeContestNotOpen      Code = "CONTEST_NOT_OPEN"
	CodeSelfClaim           Code = "SELF_CLAIM"
	CodePlayerRuledOut      Code = "PLAYER_RULED_OUT"
)

// RejectError is a validation failure. Nothing is persisted when one is
// returned. Two RejectErrors match under errors.Is when their codes match.
type RejectError struct {
	Code Code
	Msg  string
}

func (e *RejectError) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Msg
}

func (e *RejectError) Is(target error) bool {
	t, ok := target.(*RejectError)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrInvalidRequest      = &RejectError{Code: CodeInvalidRequest}
	ErrEmptyRoster         = &RejectError{Code: CodeEmptyRoster}
	ErrNoRemainingPlayers  = &RejectError{Code: CodeNoRemainingPlayers}
	ErrSpreadTooLarge      = &RejectError{Code: CodeSpreadTooLarge}
	ErrTierUnavailable     = &RejectError{Code: CodeTierUnavailable}
	ErrInsufficientBalance = &RejectError{Code: CodeInsufficientBalance}
	ErrNotSameLeague       = &RejectError{Code: CodeNotSameLeague}
	ErrNotAMember          = &RejectError{Code: CodeNotAMember}
	ErrContestNotOpen      = &RejectError{Code: CodeContestNotOpen}
	ErrSelfClaim           = &RejectError{Code: CodeSelfClaim}
	ErrPlayerRuledOut      = &RejectError{Code: CodePlayerRuledOut}
)

func reject(code Code, format string, args ...any) *RejectError {
	return &RejectError{Code: code, Msg: fmt.Sprintf(format, args...)}
}
