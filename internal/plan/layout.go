package plan

import (
	"fmt"
	"sort"

	"github.com/samcharles93/kforge/internal/status"
)

// Region is a named sub-buffer of a workspace or reserve buffer.
type Region struct {
	Name   string
	Offset int
	Size   int
}

// End is the first element past the region.
func (r Region) End() int { return r.Offset + r.Size }

// Layout partitions one buffer into named regions. Regions are packed in
// insertion order; two regions may overlap only when one was declared as an
// alias of the other (their lifetimes must not overlap).
type Layout struct {
	Buf     BufferID
	regions []Region
	index   map[string]int
	group   []int
	size    int
}

func NewLayout(buf BufferID) *Layout {
	return &Layout{Buf: buf, index: make(map[string]int)}
}

func (l *Layout) insert(r Region, group int) Region {
	if _, dup := l.index[r.Name]; dup {
		panic(fmt.Sprintf("plan: duplicate region %q", r.Name))
	}
	l.index[r.Name] = len(l.regions)
	l.regions = append(l.regions, r)
	if group < 0 {
		group = len(l.group)
	}
	l.group = append(l.group, group)
	l.size = max(l.size, r.End())
	return r
}

// Add appends a region of size elements after every existing region.
func (l *Layout) Add(name string, size int) Region {
	return l.insert(Region{Name: name, Offset: l.size, Size: size}, -1)
}

// Place adds a region at an explicit offset.
func (l *Layout) Place(name string, offset, size int) Region {
	return l.insert(Region{Name: name, Offset: offset, Size: size}, -1)
}

// Alias adds a region sharing the storage of an existing one.
func (l *Layout) Alias(name, of string) Region {
	i, ok := l.index[of]
	if !ok {
		panic(fmt.Sprintf("plan: alias of unknown region %q", of))
	}
	base := l.regions[i]
	return l.insert(Region{Name: name, Offset: base.Offset, Size: base.Size}, l.group[i])
}

// Size is the element count the backing buffer must hold.
func (l *Layout) Size() int { return l.size }

// Regions returns the regions in insertion order.
func (l *Layout) Regions() []Region { return append([]Region(nil), l.regions...) }

// Region looks a region up by name.
func (l *Layout) Region(name string) (Region, error) {
	i, ok := l.index[name]
	if !ok {
		return Region{}, fmt.Errorf("plan: no region %q in %s layout", name, l.Buf)
	}
	return l.regions[i], nil
}

// Operand returns a matrix operand for row r of a region with leading
// dimension ld, checking that rows x cols stays inside the region.
func (l *Layout) Operand(name string, row, col, rows, cols, ld int) (Operand, error) {
	reg, err := l.Region(name)
	if err != nil {
		return Operand{}, err
	}
	off := row*ld + col
	if rows > 0 && cols > 0 {
		end := off + (rows-1)*ld + cols
		if off < 0 || end > reg.Size || col+cols > ld {
			return Operand{}, status.BadParmf("region %q: %dx%d block at row %d col %d exceeds %d elements", name, rows, cols, row, col, reg.Size)
		}
	}
	return Operand{Buf: l.Buf, Offset: reg.Offset + off, LD: ld}, nil
}

// Validate rejects overlapping regions that are not aliases of each other.
func (l *Layout) Validate() error {
	order := make([]int, len(l.regions))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return l.regions[order[a]].Offset < l.regions[order[b]].Offset
	})
	for a := 0; a < len(order); a++ {
		ra := l.regions[order[a]]
		if ra.Offset < 0 || ra.Size < 0 {
			return status.BadParmf("region %q has offset %d size %d", ra.Name, ra.Offset, ra.Size)
		}
		for b := a + 1; b < len(order); b++ {
			rb := l.regions[order[b]]
			if rb.Offset >= ra.End() {
				break
			}
			if rb.Size == 0 || ra.Size == 0 {
				continue
			}
			if l.group[order[a]] != l.group[order[b]] {
				return status.BadParmf("regions %q [%d,%d) and %q [%d,%d) overlap", ra.Name, ra.Offset, ra.End(), rb.Name, rb.Offset, rb.End())
			}
		}
	}
	return nil
}
