package pacing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ruteri/keystream/keygen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChunkSize = 256

type event struct {
	kind    string
	index   int64
	current int64
	total   int64
}

// recordingSink records everything the controller emits. It copies each chunk
// before the controller wipes it.
type recordingSink struct {
	events   []event
	chunks   [][]byte
	yields   int
	yieldErr func(yields int) error
	chunkErr error
}

func (s *recordingSink) Yield() error {
	s.yields++
	if s.yieldErr != nil {
		return s.yieldErr(s.yields)
	}
	return nil
}

func (s *recordingSink) Chunk(index int64, chunk []byte) error {
	if s.chunkErr != nil {
		return s.chunkErr
	}
	s.events = append(s.events, event{kind: "chunk", index: index})
	s.chunks = append(s.chunks, bytes.Clone(chunk))
	return nil
}

func (s *recordingSink) Progress(current, total int64) error {
	s.events = append(s.events, event{kind: "progress", current: current, total: total})
	return nil
}

func (s *recordingSink) indices() []int64 {
	var out []int64
	for _, e := range s.events {
		if e.kind == "chunk" {
			out = append(out, e.index)
		}
	}
	return out
}

func (s *recordingSink) progress() []event {
	var out []event
	for _, e := range s.events {
		if e.kind == "progress" {
			out = append(out, e)
		}
	}
	return out
}

// failAfterSource succeeds n times and then reports entropy failure.
type failAfterSource struct {
	n int
}

func (f *failAfterSource) Fill(p []byte) error {
	if f.n == 0 {
		return errors.New("rng offline")
	}
	f.n--
	return keygen.SystemSource{}.Fill(p)
}

func newTestController(source keygen.Source, cadence int64) *Controller {
	return NewController(keygen.NewGeneratorWithSize(source, testChunkSize), cadence)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, int64(0), Clamp(-5, MaxStreamChunks))
	assert.Equal(t, int64(0), Clamp(0, MaxStreamChunks))
	assert.Equal(t, int64(3), Clamp(3, MaxStreamChunks))
	assert.Equal(t, MaxStreamChunks, Clamp(MaxStreamChunks, MaxStreamChunks))
	assert.Equal(t, MaxStreamChunks, Clamp(MaxStreamChunks+1, MaxStreamChunks))
	assert.Equal(t, MaxBulkChunks, Clamp(1<<40, MaxBulkChunks))
}

func TestController_SmallRequest(t *testing.T) {
	ctrl := newTestController(keygen.SystemSource{}, DefaultCadence)
	sink := &recordingSink{}

	sent, err := ctrl.Run(context.Background(), 3, sink)
	require.NoError(t, err)
	assert.Equal(t, int64(3), sent)

	assert.Equal(t, []event{
		{kind: "chunk", index: 0},
		{kind: "chunk", index: 1},
		{kind: "chunk", index: 2},
		{kind: "progress", current: 3, total: 3},
	}, sink.events)

	for _, c := range sink.chunks {
		assert.Len(t, c, testChunkSize)
	}
	assert.False(t, bytes.Equal(sink.chunks[0], sink.chunks[1]))
}

func TestController_ProgressCadence(t *testing.T) {
	ctrl := newTestController(keygen.SystemSource{}, 100)
	sink := &recordingSink{}

	sent, err := ctrl.Run(context.Background(), 250, sink)
	require.NoError(t, err)
	assert.Equal(t, int64(250), sent)

	progress := sink.progress()
	require.Len(t, progress, 3)
	assert.Equal(t, []int64{100, 200, 250}, []int64{progress[0].current, progress[1].current, progress[2].current})

	var last int64
	for _, p := range progress {
		assert.GreaterOrEqual(t, p.current, last, "progress must be monotonic")
		assert.Equal(t, int64(250), p.total)
		last = p.current
	}
	assert.Equal(t, int64(250), last, "final progress equals total")

	indices := sink.indices()
	for i, idx := range indices {
		assert.Equal(t, int64(i), idx, "indices must be gapless and increasing")
	}
}

func TestController_ExactMultipleOfCadence(t *testing.T) {
	ctrl := newTestController(keygen.SystemSource{}, 10)
	sink := &recordingSink{}

	_, err := ctrl.Run(context.Background(), 20, sink)
	require.NoError(t, err)
	assert.Len(t, sink.progress(), 2, "last chunk coinciding with cadence reports once")
}

func TestController_ZeroChunks(t *testing.T) {
	ctrl := newTestController(keygen.SystemSource{}, DefaultCadence)
	sink := &recordingSink{}

	sent, err := ctrl.Run(context.Background(), 0, sink)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, sink.events)
	assert.Zero(t, sink.yields)
}

func TestController_EntropyFailure(t *testing.T) {
	ctrl := newTestController(&failAfterSource{n: 2}, DefaultCadence)
	sink := &recordingSink{}

	sent, err := ctrl.Run(context.Background(), 10, sink)
	require.Error(t, err)
	assert.ErrorIs(t, err, keygen.ErrEntropyUnavailable)
	assert.Equal(t, int64(2), sent)
	assert.Equal(t, []int64{0, 1}, sink.indices())
}

func TestController_CancelledContext(t *testing.T) {
	ctrl := newTestController(keygen.SystemSource{}, DefaultCadence)
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sent, err := ctrl.Run(ctx, 10, sink)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Zero(t, sent)
	assert.Empty(t, sink.events)
}

func TestController_YieldStopsRun(t *testing.T) {
	ctrl := newTestController(keygen.SystemSource{}, DefaultCadence)
	stop := errors.New("end_session received")
	sink := &recordingSink{
		yieldErr: func(yields int) error {
			if yields == 4 {
				return stop
			}
			return nil
		},
	}

	sent, err := ctrl.Run(context.Background(), 1000, sink)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, int64(3), sent, "no chunk may begin after cancellation is observed")
	assert.Equal(t, []int64{0, 1, 2}, sink.indices())
}

func TestController_TransportFailure(t *testing.T) {
	ctrl := newTestController(keygen.SystemSource{}, DefaultCadence)
	broken := errors.New("broken pipe")
	sink := &recordingSink{chunkErr: broken}

	sent, err := ctrl.Run(context.Background(), 5, sink)
	assert.ErrorIs(t, err, broken)
	assert.Zero(t, sent)
}
