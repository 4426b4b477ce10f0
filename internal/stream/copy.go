package stream

import (
	"context"
	"errors"
	"io"
	"time"

	"golang.org/x/sync/errgroup"
)

// BufferSize is the chunk size used by CopyBidirectional on each read, per
// the splice design.
const BufferSize = 65536

// UDPIdleTimeout bounds how long a UDP-carried splice direction may go
// without a single byte before the whole operation is torn down. TCP
// carriers rely on socket EOF instead and ignore this value.
const UDPIdleTimeout = 10 * time.Second

// CopyBidirectional splices a and b: two concurrent loops, one per
// direction, each reading up to BufferSize bytes and writing them whole to
// the other side. A read error, a zero-byte read (EOF), or a write error in
// either direction ends the operation; both endpoints are shut down before
// CopyBidirectional returns. The two directions run as sibling goroutines
// under an errgroup so neither direction can starve the other, and the
// first error from either side determines the returned error.
func CopyBidirectional(ctx context.Context, a, b *Stream) error {
	g, gCtx := errgroup.WithContext(ctx)

	// A canceled context must unblock an in-flight blocking Read on a TCP
	// carrier, which has no idle deadline of its own; closing both streams
	// does that without racing the error each pipe() goroutine returns.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-gCtx.Done():
			_ = a.Shutdown()
			_ = b.Shutdown()
		case <-stop:
		}
	}()

	g.Go(func() error { return pipe(gCtx, a, b) })
	g.Go(func() error { return pipe(gCtx, b, a) })

	err := g.Wait()

	_ = a.Shutdown()
	_ = b.Shutdown()

	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// pipe copies from src to dst until EOF, a read/write error, context
// cancellation, or (for UDP carriers) UDPIdleTimeout of silence on src.
func pipe(ctx context.Context, src, dst *Stream) error {
	idle := idleTimeoutFor(src)
	buf := make([]byte, BufferSize)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if idle > 0 {
			if err := src.SetIdleDeadline(idle); err != nil {
				return err
			}
		}

		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if err == io.EOF {
				return io.EOF
			}
			return err
		}
	}
}

// idleTimeoutFor returns the read-idle deadline that should be enforced for
// a stream's carrier: UDP carriers get UDPIdleTimeout, TCP carriers rely on
// EOF/RST and get none.
func idleTimeoutFor(s *Stream) time.Duration {
	switch s.Carrier {
	case CarrierUDPAccept, CarrierUDPDial:
		return UDPIdleTimeout
	default:
		return 0
	}
}
