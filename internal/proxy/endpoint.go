package proxy

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

var ErrDeviceIO = errors.New("proxy: device i/o")

// Endpoint is one side of a channel: a character device opened read/write.
type Endpoint struct {
	Name string
	Path string

	fd       int
	attempts int
	retryAt  time.Time
}

func NewEndpoint(name, path string) *Endpoint {
	return &Endpoint{Name: name, Path: path, fd: -1}
}

func (e *Endpoint) Open() error {
	if e.fd >= 0 {
		return nil
	}
	if e.Path == "" {
		return fmt.Errorf("%w: %s has no device path", ErrDeviceIO, e.Name)
	}
	fd, err := unix.Open(e.Path, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrDeviceIO, e.Path, err)
	}
	e.fd = fd
	log.Info().Str("endpoint", e.Name).Str("path", e.Path).Msg("proxy.endpoint open")
	return nil
}

func (e *Endpoint) Close() error {
	if e.fd < 0 {
		return nil
	}
	err := unix.Close(e.fd)
	e.fd = -1
	log.Info().Str("endpoint", e.Name).Msg("proxy.endpoint closed")
	if err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrDeviceIO, e.Name, err)
	}
	return nil
}

func (e *Endpoint) IsOpen() bool {
	return e.fd >= 0
}

// Fd is the descriptor to poll, or -1 while closed.
func (e *Endpoint) Fd() int {
	return e.fd
}

func (e *Endpoint) Read(b []byte) (int, error) {
	if e.fd < 0 {
		return 0, fmt.Errorf("%w: read %s: closed", ErrDeviceIO, e.Name)
	}
	n, err := unix.Read(e.fd, b)
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", ErrDeviceIO, e.Name, err)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

// Write sends one frame. A short write is an error.
func (e *Endpoint) Write(b []byte) (int, error) {
	if e.fd < 0 {
		return 0, fmt.Errorf("%w: write %s: closed", ErrDeviceIO, e.Name)
	}
	n, err := unix.Write(e.fd, b)
	if err != nil {
		return 0, fmt.Errorf("%w: write %s: %v", ErrDeviceIO, e.Name, err)
	}
	if n != len(b) {
		return n, fmt.Errorf("%w: write %s: short write %d/%d", ErrDeviceIO, e.Name, n, len(b))
	}
	return n, nil
}

// ensureOpen opens a closed endpoint unless a failed attempt's backoff has
// not elapsed.
func (e *Endpoint) ensureOpen(now time.Time, cfg BackoffConfig, rng *rand.Rand) bool {
	if e.fd >= 0 {
		return true
	}
	if now.Before(e.retryAt) {
		return false
	}
	if err := e.Open(); err != nil {
		e.attempts++
		delay := NextBackoffDelay(cfg, e.attempts, rng)
		e.retryAt = now.Add(delay)
		log.Warn().Err(err).Str("endpoint", e.Name).Int("attempt", e.attempts).Dur("retry_in", delay).Msg("proxy.endpoint open failed")
		return false
	}
	e.attempts = 0
	e.retryAt = time.Time{}
	return true
}

// pollFds waits for input on fds. Negative fds are ignored by poll.
func pollFds(timeout time.Duration, fds ...int) ([]bool, error) {
	pfds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		pfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}
	ready := make([]bool, len(fds))
	n, err := unix.Poll(pfds, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return ready, nil
		}
		return ready, fmt.Errorf("%w: poll: %v", ErrDeviceIO, err)
	}
	if n == 0 {
		return ready, nil
	}
	for i, p := range pfds {
		ready[i] = fds[i] >= 0 && p.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
	}
	return ready, nil
}
