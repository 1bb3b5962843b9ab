package nn

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
)

// Params supplies named weight tensors to layer constructors. Implementations
// must be safe for sequential use during model construction; after
// construction the layers own copies of nothing — they keep the returned
// slices, so implementations must not reuse backing arrays between calls.
type Params interface {
	// Tensor returns the flat row-major tensor registered under name. The
	// product of dims must match the stored element count; implementations
	// return an error on a missing tensor or a shape mismatch.
	Tensor(name string, dims ...int) ([]float64, error)
}

// ─── Deterministic random initialisation ─────────────────────────────────────

// RandomParams produces deterministic pseudo-random tensors from a fixed
// seed. It backs the -random-weights development mode and the test suite,
// where the model's numerical behaviour only needs to be deterministic, not
// meaningful.
type RandomParams struct {
	rng *rand.Rand
}

// Compile-time interface check.
var _ Params = (*RandomParams)(nil)

// NewRandomParams creates a RandomParams seeded with seed. Two instances with
// the same seed yield the same tensors for the same request sequence.
func NewRandomParams(seed uint64) *RandomParams {
	return &RandomParams{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Tensor returns a fresh tensor with elements drawn from a scaled uniform
// distribution. The scale follows the fan-in of the first dimension boundary
// so activations stay in a sane range through deep stacks.
func (p *RandomParams) Tensor(name string, dims ...int) ([]float64, error) {
	n := 1
	for _, d := range dims {
		if d <= 0 {
			return nil, fmt.Errorf("nn: tensor %q has non-positive dim %d", name, d)
		}
		n *= d
	}
	fanIn := dims[len(dims)-1]
	scale := 1 / math.Sqrt(float64(fanIn))
	out := make([]float64, n)
	for i := range out {
		out[i] = (p.rng.Float64()*2 - 1) * scale
	}
	return out, nil
}

// ─── Tensor file format ──────────────────────────────────────────────────────

// File format: "SBWT" magic, uint32 version, uint32 tensor count, then per
// tensor: uint16 name length, name bytes, uint8 rank, rank×uint32 dims,
// float32 data. All integers little-endian. The float32 storage matches how
// the exporting toolchain serialises trained weights; values are widened to
// float64 on load.

const (
	weightsMagic   = "SBWT"
	weightsVersion = 1
)

// FileParams serves tensors loaded from a weights file. All tensors are held
// in memory; lookups are by exact name.
type FileParams struct {
	tensors map[string]fileTensor
}

type fileTensor struct {
	dims []int
	data []float64
}

// Compile-time interface check.
var _ Params = (*FileParams)(nil)

// LoadParams reads a weights file at path.
func LoadParams(path string) (*FileParams, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("nn: open weights %q: %w", path, err)
	}
	defer f.Close()

	p, err := ReadParams(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("nn: read weights %q: %w", path, err)
	}
	return p, nil
}

// ReadParams decodes a weights stream from r.
func ReadParams(r io.Reader) (*FileParams, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic[:]) != weightsMagic {
		return nil, fmt.Errorf("bad magic %q", magic[:])
	}
	var version, count uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if version != weightsVersion {
		return nil, fmt.Errorf("unsupported weights version %d", version)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read tensor count: %w", err)
	}

	tensors := make(map[string]fileTensor, count)
	for i := uint32(0); i < count; i++ {
		var nameLen uint16
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return nil, fmt.Errorf("tensor %d: read name length: %w", i, err)
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("tensor %d: read name: %w", i, err)
		}
		var rank uint8
		if err := binary.Read(r, binary.LittleEndian, &rank); err != nil {
			return nil, fmt.Errorf("tensor %q: read rank: %w", name, err)
		}
		dims := make([]int, rank)
		n := 1
		for d := range dims {
			var v uint32
			if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
				return nil, fmt.Errorf("tensor %q: read dim: %w", name, err)
			}
			dims[d] = int(v)
			n *= int(v)
		}
		raw := make([]float32, n)
		if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
			return nil, fmt.Errorf("tensor %q: read data: %w", name, err)
		}
		data := make([]float64, n)
		for j, v := range raw {
			data[j] = float64(v)
		}
		if _, dup := tensors[string(name)]; dup {
			return nil, fmt.Errorf("duplicate tensor %q", name)
		}
		tensors[string(name)] = fileTensor{dims: dims, data: data}
	}
	return &FileParams{tensors: tensors}, nil
}

// WriteParams encodes the given tensors to w in the weights file format.
// Tensors are written in the iteration order of names, which the caller
// controls; the format itself is order-independent.
func WriteParams(w io.Writer, names []string, tensors map[string]struct {
	Dims []int
	Data []float64
}) error {
	if _, err := w.Write([]byte(weightsMagic)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(weightsVersion)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(names))); err != nil {
		return err
	}
	for _, name := range names {
		t, ok := tensors[name]
		if !ok {
			return fmt.Errorf("nn: write weights: tensor %q missing", name)
		}
		if err := binary.Write(w, binary.LittleEndian, uint16(len(name))); err != nil {
			return err
		}
		if _, err := w.Write([]byte(name)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint8(len(t.Dims))); err != nil {
			return err
		}
		for _, d := range t.Dims {
			if err := binary.Write(w, binary.LittleEndian, uint32(d)); err != nil {
				return err
			}
		}
		raw := make([]float32, len(t.Data))
		for i, v := range t.Data {
			raw[i] = float32(v)
		}
		if err := binary.Write(w, binary.LittleEndian, raw); err != nil {
			return err
		}
	}
	return nil
}

// Tensor implements [Params].
func (p *FileParams) Tensor(name string, dims ...int) ([]float64, error) {
	t, ok := p.tensors[name]
	if !ok {
		return nil, fmt.Errorf("nn: tensor %q not found in weights file", name)
	}
	if len(t.dims) != len(dims) {
		return nil, fmt.Errorf("nn: tensor %q rank mismatch: file has %v, model wants %v", name, t.dims, dims)
	}
	for i, d := range dims {
		if t.dims[i] != d {
			return nil, fmt.Errorf("nn: tensor %q shape mismatch: file has %v, model wants %v", name, t.dims, dims)
		}
	}
	return t.data, nil
}
