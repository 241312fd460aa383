// Package labels loads the AudioSet class table that maps class indices to
// machine ids and display names.
package labels

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tphakala/panns-go/internal/errors"
)

const minFields = 3

// Class is one row of the label table.
type Class struct {
	Index int
	ID    string // machine id, e.g. "/m/09x0r"
	Name  string // display name, e.g. "Speech"
}

// Table is an immutable, ordered class table. Indices are contiguous from 0.
// It is safe for concurrent reads.
type Table struct {
	classes   []Class
	byName    map[string]int
	byID      map[string]int
	synthetic bool
}

// New builds a table from classes in index order. Index fields are
// overwritten with the position. Duplicate ids or names are rejected.
func New(classes []Class) (*Table, error) {
	if len(classes) == 0 {
		return nil, dataLoadError(fmt.Errorf("label table has no rows"))
	}

	t := &Table{
		classes: make([]Class, len(classes)),
		byName:  make(map[string]int, len(classes)),
		byID:    make(map[string]int, len(classes)),
	}
	for i, c := range classes {
		c.Index = i
		if prev, dup := t.byID[c.ID]; dup {
			return nil, dataLoadError(fmt.Errorf("duplicate id %q at rows %d and %d", c.ID, prev, i))
		}
		if prev, dup := t.byName[c.Name]; dup {
			return nil, dataLoadError(fmt.Errorf("duplicate name %q at rows %d and %d", c.Name, prev, i))
		}
		t.byID[c.ID] = i
		t.byName[c.Name] = i
		t.classes[i] = c
	}
	return t, nil
}

// Parse reads a label CSV: a header row, then (ordinal, id, name, ...) rows.
// The row position defines the index; the ordinal column is not consulted.
func Parse(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	if _, err := cr.Read(); err != nil {
		if err == io.EOF {
			return nil, dataLoadError(fmt.Errorf("label CSV is empty"))
		}
		return nil, dataLoadError(fmt.Errorf("read label CSV header: %w", err))
	}

	var classes []Class
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, dataLoadError(fmt.Errorf("read label CSV: %w", err))
		}
		if len(rec) < minFields {
			line, _ := cr.FieldPos(0)
			return nil, dataLoadError(fmt.Errorf("label CSV line %d has %d fields, want at least %d", line, len(rec), minFields))
		}
		classes = append(classes, Class{
			ID:   strings.TrimSpace(rec[1]),
			Name: strings.TrimSpace(rec[2]),
		})
	}

	return New(classes)
}

// ParseFile reads a label CSV from path.
func ParseFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("open label CSV: %w", err)).
			Component("labels").
			Category(errors.CategoryDataLoad).
			FileContext(path, 0).
			Build()
	}
	defer f.Close()
	return Parse(f)
}

// Synthetic returns a placeholder table of n classes named label_0..label_<n-1>.
func Synthetic(n int) *Table {
	classes := make([]Class, n)
	for i := range classes {
		classes[i] = Class{
			Index: i,
			ID:    fmt.Sprintf("/synthetic/%d", i),
			Name:  fmt.Sprintf("label_%d", i),
		}
	}
	t, err := New(classes)
	if err != nil {
		// only n <= 0 can fail
		panic(fmt.Sprintf("labels: synthetic table of size %d: %v", n, err))
	}
	t.synthetic = true
	return t
}

// Len returns the number of classes.
func (t *Table) Len() int { return len(t.classes) }

// IsSynthetic reports whether the table is a placeholder.
func (t *Table) IsSynthetic() bool { return t.synthetic }

// Class returns the class at index ix.
func (t *Table) Class(ix int) (Class, bool) {
	if ix < 0 || ix >= len(t.classes) {
		return Class{}, false
	}
	return t.classes[ix], true
}

// Name returns the display name at index ix, or "" when out of range.
func (t *Table) Name(ix int) string {
	c, _ := t.Class(ix)
	return c.Name
}

// ID returns the machine id at index ix, or "" when out of range.
func (t *Table) ID(ix int) string {
	c, _ := t.Class(ix)
	return c.ID
}

// IndexOfName returns the index of the class with display name name.
func (t *Table) IndexOfName(name string) (int, bool) {
	ix, ok := t.byName[name]
	return ix, ok
}

// IndexOfID returns the index of the class with machine id id.
func (t *Table) IndexOfID(id string) (int, bool) {
	ix, ok := t.byID[id]
	return ix, ok
}

// Names returns a copy of the display names in index order.
func (t *Table) Names() []string {
	out := make([]string, len(t.classes))
	for i, c := range t.classes {
		out[i] = c.Name
	}
	return out
}

// IDs returns a copy of the machine ids in index order.
func (t *Table) IDs() []string {
	out := make([]string, len(t.classes))
	for i, c := range t.classes {
		out[i] = c.ID
	}
	return out
}

func dataLoadError(err error) error {
	return errors.New(err).
		Component("labels").
		Category(errors.CategoryDataLoad).
		Build()
}
