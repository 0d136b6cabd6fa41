package pacing

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruteri/keystream/keygen"
	"github.com/ruteri/keystream/secretbuf"
)

const (
	// MaxStreamChunks caps a single streaming request (~1.6 GB).
	MaxStreamChunks int64 = 100_000

	// MaxBulkChunks caps a bulk request, which is served as one response.
	MaxBulkChunks int64 = 8000

	// DefaultCadence is the number of chunks between progress messages.
	DefaultCadence int64 = 100
)

// ErrCancelled is returned when a run stopped at a chunk boundary because its
// context was cancelled or the sink asked to stop.
var ErrCancelled = errors.New("key generation cancelled")

// Sink receives the output of a run. Implementations are called from the
// goroutine executing Run only.
type Sink interface {
	// Yield is called before each chunk is generated. It lets the transport
	// handle pending control messages; returning an error stops the run.
	Yield() error

	// Chunk transmits one chunk. The slice is wiped as soon as Chunk returns
	// and must not be retained.
	Chunk(index int64, chunk []byte) error

	// Progress reports that current of total chunks have been transmitted.
	Progress(current, total int64) error
}

// Clamp caps a client supplied chunk count to ceiling. Oversized requests are
// clamped, never rejected. Negative counts clamp to zero.
func Clamp(n, ceiling int64) int64 {
	if n < 0 {
		return 0
	}
	if n > ceiling {
		return ceiling
	}
	return n
}

// Controller paces chunk generation for one request at a time. A Controller
// holds no per-request state and may be shared between sessions.
type Controller struct {
	gen     *keygen.Generator
	cadence int64

	// newBuffer is swapped in tests.
	newBuffer func(size int) (*secretbuf.Buffer, error)
}

// NewController returns a controller that reports progress every cadence
// chunks. A non-positive cadence selects DefaultCadence.
func NewController(gen *keygen.Generator, cadence int64) *Controller {
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	return &Controller{
		gen:       gen,
		cadence:   cadence,
		newBuffer: secretbuf.New,
	}
}

// ChunkSize returns the size of the chunks this controller emits.
func (c *Controller) ChunkSize() int {
	return c.gen.ChunkSize()
}

// Cadence returns the progress reporting interval.
func (c *Controller) Cadence() int64 {
	return c.cadence
}

// Run generates and transmits total chunks with indices 0..total-1. It returns
// the number of chunks handed to the sink. Errors:
//   - keygen.ErrEntropyUnavailable when the random source failed
//   - ErrCancelled when ctx was cancelled or Yield asked to stop
//   - any error returned by Chunk or Progress, wrapped
func (c *Controller) Run(ctx context.Context, total int64, sink Sink) (sent int64, err error) {
	if total <= 0 {
		return 0, nil
	}

	buf, err := c.newBuffer(c.gen.ChunkSize())
	if err != nil {
		return 0, fmt.Errorf("could not allocate chunk buffer: %w", err)
	}
	defer buf.Close()

	chunk := buf.Bytes()
	for i := int64(0); i < total; i++ {
		if ctx.Err() != nil {
			return sent, ErrCancelled
		}
		if err := sink.Yield(); err != nil {
			if errors.Is(err, ErrCancelled) {
				return sent, err
			}
			return sent, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		if ctx.Err() != nil {
			return sent, ErrCancelled
		}

		if err := c.gen.Generate(chunk); err != nil {
			return sent, err
		}

		err := sink.Chunk(i, chunk)
		buf.Zero()
		if err != nil {
			return sent, fmt.Errorf("could not transmit chunk %d: %w", i, err)
		}
		sent++

		if sent%c.cadence == 0 || sent == total {
			if err := sink.Progress(sent, total); err != nil {
				return sent, fmt.Errorf("could not report progress: %w", err)
			}
		}
	}

	return sent, nil
}
