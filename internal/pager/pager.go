// Package pager computes fixed-size page windows over an ordered list.
package pager

// Window is the slice of a list visible on one page.
// Start is inclusive, End exclusive; ordinals shown to users are Start+1..End.
type Window struct {
	Start   int
	End     int
	HasPrev bool
	HasNext bool
	Page    int
	Pages   int
}

// Empty reports whether the window holds no items.
func (w Window) Empty() bool {
	return w.End <= w.Start
}

// Direction is a single page step.
type Direction int

const (
	Prev Direction = -1
	Next Direction = 1
)

// Pages returns the number of pages needed for n items. An empty list has
// one (empty) page.
func Pages(n, size int) int {
	if size <= 0 || n <= 0 {
		return 1
	}
	return (n + size - 1) / size
}

// Clamp bounds page into [0, lastPage] for a list of n items.
func Clamp(page, n, size int) int {
	if page < 0 {
		return 0
	}
	if last := Pages(n, size) - 1; page > last {
		return last
	}
	return page
}

// Page returns the window for page over n items. The page is clamped first,
// so a stale cursor never produces an out-of-range slice.
func Page(n, page, size int) Window {
	if size <= 0 {
		size = 1
	}
	if n < 0 {
		n = 0
	}
	page = Clamp(page, n, size)
	start := page * size
	end := min(start+size, n)
	return Window{
		Start:   start,
		End:     end,
		HasPrev: page > 0,
		HasNext: end < n,
		Page:    page,
		Pages:   Pages(n, size),
	}
}

// Step moves one page in dir from page and clamps the result.
func Step(page int, dir Direction, n, size int) int {
	return Clamp(page+int(dir), n, size)
}
