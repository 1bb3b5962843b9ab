package head

import (
	"fmt"
	"sort"
	"sync"

	"github.com/voxhollow/sibilant/internal/nn"
)

// FusionFactory builds a fusion strategy from trained parameters under the
// given parameter namespace.
type FusionFactory func(p nn.Params, name string, dmodel int) (Fusion, error)

var (
	fusionMu sync.RWMutex
	fusions  = map[string]FusionFactory{}
)

func init() {
	RegisterFusion("add", func(p nn.Params, name string, dmodel int) (Fusion, error) {
		return NewAddFusion(p, name, dmodel)
	})
	RegisterFusion("concat", func(p nn.Params, name string, dmodel int) (Fusion, error) {
		return NewConcatFusion(p, name, dmodel)
	})
}

// RegisterFusion makes a fusion strategy available under kind. Registering
// the same kind twice panics; fusion kinds are wired at init time.
func RegisterFusion(kind string, f FusionFactory) {
	fusionMu.Lock()
	defer fusionMu.Unlock()
	if _, ok := fusions[kind]; ok {
		panic(fmt.Sprintf("head: fusion %q registered twice", kind))
	}
	fusions[kind] = f
}

// NewFusion builds the registered fusion strategy kind under the parameter
// namespace name.
func NewFusion(kind string, p nn.Params, name string, dmodel int) (Fusion, error) {
	fusionMu.RLock()
	f, ok := fusions[kind]
	fusionMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("head: unknown fusion %q; known: %v", kind, FusionKinds())
	}
	return f(p, name, dmodel)
}

// FusionKinds returns the registered fusion kinds, sorted.
func FusionKinds() []string {
	fusionMu.RLock()
	defer fusionMu.RUnlock()
	kinds := make([]string, 0, len(fusions))
	for k := range fusions {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// ConcatFusion concatenates the ContextVector onto every hidden row and
// projects the doubled width back to dmodel.
type ConcatFusion struct {
	proj   *nn.Linear
	dmodel int
}

var _ Fusion = (*ConcatFusion)(nil)

// NewConcatFusion constructs the concatenating fusion under "<name>".
func NewConcatFusion(p nn.Params, name string, dmodel int) (*ConcatFusion, error) {
	proj, err := nn.NewLinear(p, name, 2*dmodel, dmodel)
	if err != nil {
		return nil, err
	}
	return &ConcatFusion{proj: proj, dmodel: dmodel}, nil
}

// Fuse returns new rows; the inputs are not mutated.
func (f *ConcatFusion) Fuse(rows [][]float64, ctx []float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		cat := make([]float64, 0, len(r)+len(ctx))
		cat = append(cat, r...)
		cat = append(cat, ctx...)
		out[i] = f.proj.Apply(cat)
	}
	return out
}
