package bridge

import (
	"errors"
	"net/http"

	"github.com/basket/zotbridge/internal/itemstore"
	"github.com/basket/zotbridge/internal/mutate"
	"github.com/basket/zotbridge/internal/tokenstore"
)

// ErrorKind is the stable wire-level error taxonomy. Kinds are terminal for
// the request that produced them; only ItemStoreUnavailable is worth a
// caller-side retry.
type ErrorKind string

const (
	KindAlreadyInitialized   ErrorKind = "AlreadyInitialized"
	KindNotInitialized       ErrorKind = "NotInitialized"
	KindUnauthorized         ErrorKind = "Unauthorized"
	KindAmbiguousDelta       ErrorKind = "AmbiguousDelta"
	KindItemNotFound         ErrorKind = "ItemNotFound"
	KindNoteConflict         ErrorKind = "NoteConflict"
	KindItemStoreUnavailable ErrorKind = "ItemStoreUnavailable"
	KindMalformedRequest     ErrorKind = "MalformedRequest"
	// KindRateLimited is returned when the auth-failure limiter trips. Not
	// part of the handshake taxonomy proper, but a brute-forced token is
	// the one secret this daemon guards.
	KindRateLimited ErrorKind = "RateLimited"
	KindInternal    ErrorKind = "Internal"
)

var (
	// ErrNotInitialized gates every endpoint except health and init while
	// the bridge has no token.
	ErrNotInitialized = errors.New("bridge not initialized")
	// ErrUnauthorized is a missing or non-matching token. The message
	// carries no detail about the stored secret.
	ErrUnauthorized = errors.New("invalid or missing token")
)

// classify maps an error from the guard or the engine onto its wire kind.
func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, tokenstore.ErrAlreadyInitialized):
		return KindAlreadyInitialized
	case errors.Is(err, ErrNotInitialized):
		return KindNotInitialized
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, mutate.ErrAmbiguousDelta):
		return KindAmbiguousDelta
	case errors.Is(err, itemstore.ErrItemNotFound):
		return KindItemNotFound
	case errors.Is(err, itemstore.ErrNoteConflict):
		return KindNoteConflict
	case errors.Is(err, itemstore.ErrUnavailable):
		return KindItemStoreUnavailable
	case errors.Is(err, tokenstore.ErrEmptyToken):
		return KindMalformedRequest
	default:
		return KindInternal
	}
}

func (k ErrorKind) httpStatus() int {
	switch k {
	case KindMalformedRequest, KindAmbiguousDelta:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindItemNotFound:
		return http.StatusNotFound
	case KindAlreadyInitialized, KindNotInitialized, KindNoteConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindItemStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
