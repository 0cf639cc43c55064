package constants

import "time"

// HTTP client transport tuning for the upstream connection pool.
const (
	MaxIdleConns        = 4096
	MaxIdleConnsPerHost = 512
	MaxConnsPerHost     = 1024
	IdleConnTimeout     = 120 * time.Second

	WriteBufferSize = 64 * 1024
	ReadBufferSize  = 64 * 1024

	DialTimeout           = 10 * time.Second
	KeepAlive             = 30 * time.Second
	TLSHandshakeTimeout   = 10 * time.Second
	ResponseHeaderTimeout = 60 * time.Second
	ExpectContinueTimeout = 2 * time.Second
)

// SSE scanner buffers. Upstream chunks can carry whole inline images, so the
// ceiling is generous.
const (
	SSEScannerInitialBufferSize = 64 * 1024
	SSEScannerMaxBufferSize     = 4 * 1024 * 1024
)

// MaxRequestBodyBytes bounds inbound JSON bodies (100 MB).
const MaxRequestBodyBytes int64 = 100 * 1024 * 1024
