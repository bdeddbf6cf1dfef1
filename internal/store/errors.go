package store

import "errors"

var (
	ErrQueueClosed      = errors.New("queue is closed")
	ErrDuplicatePhone   = errors.New("phone number already waiting in queue")
	ErrNoWaitingClients = errors.New("no waiting clients")
	ErrAlreadyServing   = errors.New("a client is already being served")
	ErrNoOneToSwapWith  = errors.New("no later waiting client to swap with")
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrDayNotFound      = errors.New("day not found")
	ErrNotCurrentClient = errors.New("ticket is not the current client")
	ErrNotWaiting       = errors.New("ticket is no longer waiting")
	ErrInvalidReorder   = errors.New("reorder does not match waiting list")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConflict         = errors.New("operation failed, please retry")
	ErrReadOnly         = errors.New("write in read-only transaction")
)
