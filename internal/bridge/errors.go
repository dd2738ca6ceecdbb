package bridge

import "errors"

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionNotOpen     = errors.New("session socket not open")
	ErrInvalidTarget      = errors.New("target must be a ws:// or wss:// URL")
	ErrInvalidPayload     = errors.New("message must be valid base64")
	ErrConnectFailure     = errors.New("target websocket connection failed")
	ErrMailboxUnavailable = errors.New("mailbox relay not configured")
	ErrHandoffExpired     = errors.New("mailbox message not consumed in time")
)
