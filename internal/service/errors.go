package service

import "fmt"

type ErrRunQueueFull struct{}

func (e ErrRunQueueFull) Error() string {
	return "run queue is full"
}

func NewErrRunQueueFull() *ErrRunQueueFull {
	return &ErrRunQueueFull{}
}

type ErrInvalidTrigger struct {
	Trigger string
}

func (e ErrInvalidTrigger) Error() string {
	return fmt.Sprintf("invalid run trigger %q", e.Trigger)
}

type ErrRunNotEntitled struct {
	RepositoryID string
	Limit        int
}

func (e ErrRunNotEntitled) Error() string {
	return fmt.Sprintf("repository %s reached its limit of %d runs per day", e.RepositoryID, e.Limit)
}

type ErrDeliveryFailed struct {
	IntentID string
	Err      error
}

func (e ErrDeliveryFailed) Error() string {
	return fmt.Sprintf("err delivering intent %s: %v", e.IntentID, e.Err)
}

func (e ErrDeliveryFailed) Unwrap() error {
	return e.Err
}
