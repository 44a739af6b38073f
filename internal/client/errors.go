package client

import "errors"

var (
	ErrConnectionFailed = errors.New("client: connection failed")
	ErrReadTimeout      = errors.New("client: read timeout")
	ErrWriteTimeout     = errors.New("client: write timeout")
	ErrLoginFailed      = errors.New("client: login failed")
	ErrLoginTimeout     = errors.New("client: login timeout")
	ErrClosed           = errors.New("client: closed")
)
