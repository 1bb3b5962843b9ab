package vocab_test

import (
	"strings"
	"testing"

	"github.com/voxhollow/sibilant/internal/vocab"
)

func TestLoadFromReader_SkipsBlanksAndComments(t *testing.T) {
	t.Parallel()
	in := "<blank>\n\n# comment\nni3\nhao3\n"
	tbl, err := vocab.LoadFromReader(strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tbl.Size() != 3 {
		t.Fatalf("expected 3 symbols, got %d", tbl.Size())
	}
	if s, ok := tbl.Symbol(0); !ok || s != "<blank>" {
		t.Errorf("symbol 0: got %q, ok=%v", s, ok)
	}
	if s, ok := tbl.Symbol(2); !ok || s != "hao3" {
		t.Errorf("symbol 2: got %q, ok=%v", s, ok)
	}
}

func TestLoadFromReader_EmptyIsError(t *testing.T) {
	t.Parallel()
	_, err := vocab.LoadFromReader(strings.NewReader("\n\n"))
	if err == nil {
		t.Fatal("expected error for empty vocabulary, got nil")
	}
}

func TestSymbol_OutOfRange(t *testing.T) {
	t.Parallel()
	tbl := vocab.FromSymbols([]string{"a", "b"})
	if _, ok := tbl.Symbol(2); ok {
		t.Error("expected ok=false for out-of-range index")
	}
	if _, ok := tbl.Symbol(-1); ok {
		t.Error("expected ok=false for negative index")
	}
}

func TestJoin_UnknownIndices(t *testing.T) {
	t.Parallel()
	tbl := vocab.FromSymbols([]string{"a", "b"})
	got := tbl.Join([]int{0, 5, 1}, " ")
	if got != "a <unk> b" {
		t.Errorf("got %q", got)
	}
}
