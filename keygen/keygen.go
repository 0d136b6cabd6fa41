package keygen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
)

// ChunkSize is the size of one unit of key material. Producer and every
// consumer must agree on it; changing it breaks the protocol.
const ChunkSize = 16 * 1024

var (
	// ErrEntropyUnavailable is returned when the random source could not
	// produce the requested bytes.
	ErrEntropyUnavailable = errors.New("entropy unavailable")

	// ErrInvalidChunkBuffer is returned when the buffer passed to Generate
	// does not match the generator's chunk size.
	ErrInvalidChunkBuffer = errors.New("invalid chunk buffer size")

	// ErrUnknownSource is returned by NewSource for unsupported names.
	ErrUnknownSource = errors.New("unknown entropy source")
)

// Source fills p entirely with uniformly random bytes or returns an error.
// Implementations must be safe for concurrent use.
type Source interface {
	Fill(p []byte) error
}

// SystemSource reads from the operating system CSPRNG.
type SystemSource struct {
	// Reader defaults to crypto/rand.Reader. Tests substitute failing readers.
	Reader io.Reader
}

func (s SystemSource) Fill(p []byte) error {
	r := s.Reader
	if r == nil {
		r = rand.Reader
	}
	if _, err := io.ReadFull(r, p); err != nil {
		return fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	return nil
}

// ChaChaSource expands a fresh 256-bit seed into the XChaCha20 keystream.
// Every Fill draws a new key and nonce from Seed, so no cipher state is shared
// between calls or callers.
type ChaChaSource struct {
	Seed Source
}

func (s ChaChaSource) Fill(p []byte) error {
	seed := s.Seed
	if seed == nil {
		seed = SystemSource{}
	}

	var material [chacha20.KeySize + chacha20.NonceSizeX]byte
	defer clear(material[:])

	if err := seed.Fill(material[:]); err != nil {
		if errors.Is(err, ErrEntropyUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}

	cipher, err := chacha20.NewUnauthenticatedCipher(material[:chacha20.KeySize], material[chacha20.KeySize:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}

	// The keystream XORed over zeroes is the keystream itself.
	clear(p)
	cipher.XORKeyStream(p, p)
	return nil
}

// NewSource returns the source registered under name ("system" or "chacha20").
func NewSource(name string) (Source, error) {
	switch name {
	case "", "system":
		return SystemSource{}, nil
	case "chacha20":
		return ChaChaSource{Seed: SystemSource{}}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
}

// Generator produces chunks of a fixed size from a Source.
type Generator struct {
	source    Source
	chunkSize int
}

// NewGenerator creates a generator for chunks of ChunkSize bytes.
func NewGenerator(source Source) *Generator {
	return NewGeneratorWithSize(source, ChunkSize)
}

// NewGeneratorWithSize creates a generator with a non-default chunk size.
// Only tests and benchmarks should need this.
func NewGeneratorWithSize(source Source, chunkSize int) *Generator {
	if source == nil {
		source = SystemSource{}
	}
	return &Generator{source: source, chunkSize: chunkSize}
}

// ChunkSize returns the number of bytes produced per chunk.
func (g *Generator) ChunkSize() int {
	return g.chunkSize
}

// Generate fills buf with one chunk of fresh random bytes. buf must be exactly
// ChunkSize() bytes long. On failure buf is zeroed so that no partially
// generated material escapes.
func (g *Generator) Generate(buf []byte) error {
	if len(buf) != g.chunkSize {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidChunkBuffer, len(buf), g.chunkSize)
	}

	if err := g.source.Fill(buf); err != nil {
		clear(buf)
		if !errors.Is(err, ErrEntropyUnavailable) {
			err = fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
		}
		return err
	}
	return nil
}
