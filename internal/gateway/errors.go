package gateway

import (
	"errors"

	"million-dialogue/internal/domain"
)

// Error kinds group codes the way clients handle them.
const (
	KindNotFound        = "NotFound"
	KindForbidden       = "Forbidden"
	KindConflict        = "Conflict"
	KindValidation      = "Validation"
	KindUnauthenticated = "Unauthenticated"
	KindInternal        = "Internal"
)

var (
	errInvalidPayload = errors.New("invalid payload")
	errUnknownAction  = errors.New("unknown action")
	errInternal       = errors.New("internal error")
)

// ErrorBody is the typed error carried in a failed Response.
type ErrorBody struct {
	Code    string `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func toErrorBody(err error) ErrorBody {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, domain.ErrQuestionSetNotFound):
		return ErrorBody{Code: "NotFound", Kind: KindNotFound, Message: err.Error()}
	case errors.Is(err, domain.ErrRoomFull):
		return ErrorBody{Code: "RoomFull", Kind: KindConflict, Message: err.Error()}
	case errors.Is(err, domain.ErrRoomClosed):
		return ErrorBody{Code: "RoomClosed", Kind: KindConflict, Message: err.Error()}
	case errors.Is(err, domain.ErrNotHost):
		return ErrorBody{Code: "NotHost", Kind: KindForbidden, Message: err.Error()}
	case errors.Is(err, domain.ErrNotInRoom):
		return ErrorBody{Code: "NotInRoom", Kind: KindForbidden, Message: err.Error()}
	case errors.Is(err, domain.ErrRoundAlreadyActive):
		return ErrorBody{Code: "RoundAlreadyActive", Kind: KindConflict, Message: err.Error()}
	case errors.Is(err, domain.ErrNoActiveRound):
		return ErrorBody{Code: "NoActiveRound", Kind: KindConflict, Message: err.Error()}
	case errors.Is(err, domain.ErrNoActiveQuestion):
		return ErrorBody{Code: "NoActiveQuestion", Kind: KindConflict, Message: err.Error()}
	case errors.Is(err, domain.ErrAlreadyAnswered):
		return ErrorBody{Code: "AlreadyAnswered", Kind: KindConflict, Message: err.Error()}
	case errors.Is(err, domain.ErrInvalidChoice):
		return ErrorBody{Code: "InvalidChoice", Kind: KindValidation, Message: err.Error()}
	case errors.Is(err, domain.ErrInvalidSettings):
		return ErrorBody{Code: "InvalidSettings", Kind: KindValidation, Message: err.Error()}
	case errors.Is(err, errInvalidPayload):
		return ErrorBody{Code: "InvalidPayload", Kind: KindValidation, Message: err.Error()}
	case errors.Is(err, errUnknownAction):
		return ErrorBody{Code: "UnknownAction", Kind: KindValidation, Message: err.Error()}
	case errors.Is(err, domain.ErrUnauthenticated):
		return ErrorBody{Code: "Unauthenticated", Kind: KindUnauthenticated, Message: domain.ErrUnauthenticated.Error()}
	default:
		return ErrorBody{Code: "Internal", Kind: KindInternal, Message: errInternal.Error()}
	}
}
