package errors

import "errors"

var (
	ErrInternal         = errors.New("internal service error. please try again later")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrNotFound         = errors.New("entity not found")
	ErrRateLimited      = errors.New("too many submissions, slow down")
	ErrAmbiguousContest = errors.New("challenge belongs to more than one contest, contest_id is required")
	ErrUnauthorized     = errors.New("missing or invalid bearer token")
	ErrForbidden        = errors.New("user not allowed to perform this action")

	ErrQueueClosed  = errors.New("submission queue is closed")
	ErrQueueFull    = errors.New("submission queue is full")
	ErrJobNotFound  = errors.New("queued submission no longer exists")
	ErrUnparsable   = errors.New("oracle response could not be parsed")
	ErrOracleFailed = errors.New("oracle invocation failed")
	ErrStaleStatus  = errors.New("submission status changed concurrently")
)
