// Package vocab loads and serves the flat symbol tables used by the CTC
// heads: a pinyin-level table for the picker and a token-level table for the
// decoder. A table maps class indices (posterior columns) to output symbols.
//
// Tables are loaded once at model construction and are immutable afterwards,
// so they may be shared freely across concurrent sessions.
package vocab

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Table is an immutable index-to-symbol lookup table. The zero value is an
// empty table; use [Load] or [LoadFromReader] to construct one.
type Table struct {
	symbols []string
}

// Load reads a vocabulary file at path: one symbol per line, index order.
// Blank lines and lines starting with '#' are skipped. Leading and trailing
// whitespace is trimmed from each symbol.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: open %q: %w", path, err)
	}
	defer f.Close()

	t, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("vocab: read %q: %w", path, err)
	}
	return t, nil
}

// LoadFromReader reads a vocabulary from r. Useful in tests where tables are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Table, error) {
	var symbols []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		symbols = append(symbols, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("vocabulary is empty")
	}
	return &Table{symbols: symbols}, nil
}

// FromSymbols constructs a table directly from the given symbol slice. The
// slice is copied, so the caller may reuse it.
func FromSymbols(symbols []string) *Table {
	s := make([]string, len(symbols))
	copy(s, symbols)
	return &Table{symbols: s}
}

// Size returns the number of symbols (classes) in the table.
func (t *Table) Size() int {
	return len(t.symbols)
}

// Symbol returns the symbol at class index i. The second return value is
// false when i is out of range.
func (t *Table) Symbol(i int) (string, bool) {
	if i < 0 || i >= len(t.symbols) {
		return "", false
	}
	return t.symbols[i], true
}

// Join maps the given class indices through the table and concatenates the
// symbols with sep. Unknown indices are rendered as "<unk>".
func (t *Table) Join(indices []int, sep string) string {
	parts := make([]string, len(indices))
	for i, idx := range indices {
		s, ok := t.Symbol(idx)
		if !ok {
			s = "<unk>"
		}
		parts[i] = s
	}
	return strings.Join(parts, sep)
}
