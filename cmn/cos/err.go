// Package cos provides small low-level types and utilities shared across
// the client packages: connection-error classification and a one-shot
// stop channel used by the background worker and the housekeeper.
package cos

import (
	"errors"
	"net"
	"sync"
	"syscall"
)

// retriable conn errs: the worker's outer reconnect loop treats any
// transport failure the same way (reconnect-and-retry); these are
// classified only so a log line can name a more specific cause.
func IsErrConnectionRefused(err error) bool { return errors.Is(err, syscall.ECONNREFUSED) }
func IsErrConnectionReset(err error) bool   { return errors.Is(err, syscall.ECONNRESET) }
func IsErrBrokenPipe(err error) bool        { return errors.Is(err, syscall.EPIPE) }

func IsRetriableConnErr(err error) bool {
	return IsErrConnectionRefused(err) || IsErrConnectionReset(err) || IsErrBrokenPipe(err)
}

func isErrDNSLookup(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func IsUnreachable(err error) bool {
	return IsErrConnectionRefused(err) || isErrDNSLookup(err) || errors.Is(err, net.ErrClosed)
}

// StopCh is a closed-once signal channel: Listen() can be selected on
// repeatedly, Close() is idempotent.
type StopCh struct {
	ch   chan struct{}
	once sync.Once
}

func (s *StopCh) Init() { s.ch = make(chan struct{}) }

func (s *StopCh) Listen() <-chan struct{} { return s.ch }

func (s *StopCh) Close() { s.once.Do(func() { close(s.ch) }) }
