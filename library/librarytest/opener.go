package librarytest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wippyai/layoutcheck/errors"
	"github.com/wippyai/layoutcheck/header"
	"github.com/wippyai/layoutcheck/library"
)

// Opener is an in-memory library.Opener. Libraries are symbol tables keyed
// by path. It counts opens and closes so tests can assert on them.
type Opener struct {
	libs  map[string]map[string][]byte
	mu    sync.RWMutex
	opens atomic.Int64
	open  atomic.Int64
	// Delay is slept on each Open, to widen races in concurrency tests.
	Delay time.Duration
}

var _ library.Opener = (*Opener)(nil)

// NewOpener creates an empty Opener.
func NewOpener() *Opener {
	return &Opener{libs: make(map[string]map[string][]byte)}
}

// Add registers a library at path exporting symbols.
func (o *Opener) Add(path string, symbols ...Symbol) {
	table := make(map[string][]byte, len(symbols))
	for _, s := range symbols {
		table[s.Name] = s.Data
	}
	o.mu.Lock()
	o.libs[path] = table
	o.mu.Unlock()
}

// AddHeader registers a library at path exporting h.
func (o *Opener) AddHeader(path string, h header.Header) {
	o.Add(path, Symbol{Name: header.Symbol, Data: header.Encode(h)})
}

// Extension implements library.Extensioner.
func (o *Opener) Extension() string {
	return ".test"
}

// Opens returns how many times Open succeeded.
func (o *Opener) Opens() int {
	return int(o.opens.Load())
}

// Live returns the number of opened libraries not yet closed.
func (o *Opener) Live() int {
	return int(o.open.Load())
}

// Open implements library.Opener.
func (o *Opener) Open(ctx context.Context, path string) (library.Library, error) {
	if o.Delay > 0 {
		select {
		case <-time.After(o.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	o.mu.RLock()
	table, ok := o.libs[path]
	o.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound(path, nil)
	}
	o.opens.Add(1)
	o.open.Add(1)
	return &memLibrary{owner: o, path: path, symbols: table}, nil
}

type memLibrary struct {
	owner   *Opener
	symbols map[string][]byte
	path    string
	closed  atomic.Bool
}

func (l *memLibrary) Path() string {
	return l.path
}

func (l *memLibrary) Symbol(_ context.Context, name string) ([]byte, error) {
	data, ok := l.symbols[name]
	if !ok {
		return nil, errors.SymbolMissing(l.path, name, nil)
	}
	return append([]byte(nil), data...), nil
}

func (l *memLibrary) Close(context.Context) error {
	if l.closed.CompareAndSwap(false, true) {
		l.owner.open.Add(-1)
	}
	return nil
}
