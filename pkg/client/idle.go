package client

import (
	"context"
	"io"
	"time"
)

// idleReader cancels the request once no body bytes arrived for timeout.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
}

func newIdleReader(r io.Reader, timeout time.Duration, cancel context.CancelFunc) *idleReader {
	return &idleReader{
		r:       r,
		timeout: timeout,
		timer:   time.AfterFunc(timeout, cancel),
	}
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.timer.Reset(ir.timeout)
	}
	return n, err
}

func (ir *idleReader) stop() {
	ir.timer.Stop()
}
