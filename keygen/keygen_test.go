package keygen

import (
	"bytes"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("getrandom: device not ready")
}

// shortReader writes a few bytes and then fails, simulating an entropy source
// dying mid-fill.
type shortReader struct{}

func (shortReader) Read(p []byte) (int, error) {
	n := copy(p, []byte{0xde, 0xad, 0xbe, 0xef})
	return n, errors.New("entropy pool exhausted")
}

// shannonEntropy returns bits of entropy per byte.
func shannonEntropy(data []byte) float64 {
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(len(data))
		h -= p * math.Log2(p)
	}
	return h
}

func TestGenerator_Generate(t *testing.T) {
	for _, name := range []string{"system", "chacha20"} {
		t.Run(name, func(t *testing.T) {
			source, err := NewSource(name)
			require.NoError(t, err)
			gen := NewGenerator(source)
			assert.Equal(t, ChunkSize, gen.ChunkSize())

			a := make([]byte, ChunkSize)
			b := make([]byte, ChunkSize)
			require.NoError(t, gen.Generate(a))
			require.NoError(t, gen.Generate(b))

			assert.False(t, bytes.Equal(a, b), "two chunks must never be identical")
			assert.Greater(t, shannonEntropy(a), 7.9, "chunk should look uniformly random")
		})
	}
}

func TestGenerator_WrongBufferSize(t *testing.T) {
	gen := NewGenerator(SystemSource{})
	err := gen.Generate(make([]byte, ChunkSize-1))
	assert.ErrorIs(t, err, ErrInvalidChunkBuffer)
}

func TestGenerator_EntropyFailure(t *testing.T) {
	gen := NewGeneratorWithSize(SystemSource{Reader: failingReader{}}, 64)
	buf := bytes.Repeat([]byte{0xff}, 64)

	err := gen.Generate(buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEntropyUnavailable)
	assert.Equal(t, make([]byte, 64), buf, "buffer must be wiped on failure")
}

func TestGenerator_PartialFillIsWiped(t *testing.T) {
	gen := NewGeneratorWithSize(SystemSource{Reader: shortReader{}}, 16)
	buf := make([]byte, 16)

	err := gen.Generate(buf)
	assert.ErrorIs(t, err, ErrEntropyUnavailable)
	assert.Equal(t, make([]byte, 16), buf)
}

func TestChaChaSource_SeedFailure(t *testing.T) {
	source := ChaChaSource{Seed: SystemSource{Reader: failingReader{}}}
	err := source.Fill(make([]byte, 128))
	assert.ErrorIs(t, err, ErrEntropyUnavailable)
}

func TestNewSource_Unknown(t *testing.T) {
	_, err := NewSource("lcg")
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestGenerator_ConcurrentUse(t *testing.T) {
	gen := NewGeneratorWithSize(ChaChaSource{}, 1024)

	const workers = 8
	results := make([][]byte, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buf := make([]byte, 1024)
			assert.NoError(t, gen.Generate(buf))
			results[i] = buf
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, workers)
	for _, r := range results {
		_, dup := seen[string(r)]
		assert.False(t, dup, "concurrent callers must not observe shared state")
		seen[string(r)] = struct{}{}
	}
}
