package route

import (
	"errors"
	"fmt"
	"slices"
)

var ErrDuplicateHost = errors.New("duplicate route host")

// Entry is one configured virtual host.
type Entry struct {
	Hostname string
	Backends []Backend
	Policy   string
}

// Resolution is the outcome of a table lookup. Fallback is set when the
// hostname was unknown or had no backends and the sentinel was substituted.
type Resolution struct {
	Hostname string
	Backends []Backend
	Policy   string
	Fallback bool
}

// Table is read-only after NewTable returns and safe for concurrent use
// without locking.
type Table struct {
	entries  map[string]Entry
	order    []string
	fallback Backend
}

func NewTable(entries []Entry, fallback Backend) (*Table, error) {
	t := &Table{
		entries:  make(map[string]Entry, len(entries)),
		order:    make([]string, 0, len(entries)),
		fallback: fallback,
	}

	for _, e := range entries {
		if _, exists := t.entries[e.Hostname]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateHost, e.Hostname)
		}

		t.entries[e.Hostname] = Entry{
			Hostname: e.Hostname,
			Backends: slices.Clone(e.Backends),
			Policy:   e.Policy,
		}
		t.order = append(t.order, e.Hostname)
	}

	return t, nil
}

// Resolve looks the hostname up by exact match. Unknown hostnames and
// entries without backends resolve to the fallback backend.
func (t *Table) Resolve(hostname string) Resolution {
	e, ok := t.entries[hostname]
	if !ok || len(e.Backends) == 0 {
		return Resolution{
			Hostname: hostname,
			Backends: []Backend{t.fallback},
			Fallback: true,
		}
	}

	return Resolution{
		Hostname: hostname,
		Backends: e.Backends,
		Policy:   e.Policy,
	}
}

// Fallback returns the sentinel backend.
func (t *Table) Fallback() Backend {
	return t.fallback
}

// Entries returns the configured entries in load order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.order))
	for _, h := range t.order {
		e := t.entries[h]
		out = append(out, Entry{
			Hostname: e.Hostname,
			Backends: slices.Clone(e.Backends),
			Policy:   e.Policy,
		})
	}
	return out
}

// Len returns the number of configured hostnames.
func (t *Table) Len() int {
	return len(t.entries)
}
