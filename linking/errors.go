package linking

import (
	"context"
	"errors"
	"fmt"

	"github.com/quailyquaily/linkkeeper/gameapi"
	"github.com/quailyquaily/linkkeeper/linkstore"
)

// Domain-rule violations. They are returned as-is so the chat layer can
// answer with a specific message.
var (
	ErrAlreadyPending = errors.New("pending link already exists")
	ErrAlreadyLinked  = errors.New("already linked")
	ErrSubjectTaken   = errors.New("subject already linked elsewhere")
	ErrNotLinked      = errors.New("no verified link found")
	ErrCheckTooSoon   = errors.New("verification checked too recently")
	ErrNotAuthorized  = errors.New("operator is not a moderator")

	errMissingExternalID = errors.New("missing external id")
)

// Upstream taxonomy shared with the game API client.
var ErrNotFound = gameapi.ErrNotFound

type UpstreamError = gameapi.UpstreamError

// AlreadyLinkedError names the subject the external identity is bound to.
type AlreadyLinkedError struct {
	SubjectID int64
}

func (e *AlreadyLinkedError) Error() string {
	return fmt.Sprintf("already linked to %d", e.SubjectID)
}

func (e *AlreadyLinkedError) Is(target error) bool { return target == ErrAlreadyLinked }

// IsTransient reports failures the caller should present as "try again
// later": upstream API trouble, storage trouble and timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return true
	}
	var se *linkstore.StoreError
	if errors.As(err, &se) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
