package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrStreamFailed = errors.New("stream terminally failed")
	ErrMalformed    = errors.New("malformed message")
)
