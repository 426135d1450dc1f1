package pager

import "testing"

func TestPage(t *testing.T) {
	tests := []struct {
		name string
		n    int
		page int
		size int
		want Window
	}{
		{"first of three", 23, 0, 10, Window{Start: 0, End: 10, HasPrev: false, HasNext: true, Page: 0, Pages: 3}},
		{"middle", 23, 1, 10, Window{Start: 10, End: 20, HasPrev: true, HasNext: true, Page: 1, Pages: 3}},
		{"last partial", 23, 2, 10, Window{Start: 20, End: 23, HasPrev: true, HasNext: false, Page: 2, Pages: 3}},
		{"exact multiple last", 20, 1, 10, Window{Start: 10, End: 20, HasPrev: true, HasNext: false, Page: 1, Pages: 2}},
		{"single page", 4, 0, 10, Window{Start: 0, End: 4, HasPrev: false, HasNext: false, Page: 0, Pages: 1}},
		{"empty", 0, 0, 10, Window{Start: 0, End: 0, HasPrev: false, HasNext: false, Page: 0, Pages: 1}},
		{"page past end clamps", 23, 7, 10, Window{Start: 20, End: 23, HasPrev: true, HasNext: false, Page: 2, Pages: 3}},
		{"negative page clamps", 23, -1, 10, Window{Start: 0, End: 10, HasPrev: false, HasNext: true, Page: 0, Pages: 3}},
		{"zero size treated as one", 3, 1, 0, Window{Start: 1, End: 2, HasPrev: true, HasNext: true, Page: 1, Pages: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Page(tt.n, tt.page, tt.size)
			if got != tt.want {
				t.Errorf("Page(%d, %d, %d) = %+v, want %+v", tt.n, tt.page, tt.size, got, tt.want)
			}
		})
	}
}

func TestPage_sliceLength(t *testing.T) {
	for n := 0; n <= 45; n++ {
		for p := 0; p < Pages(n, 10); p++ {
			w := Page(n, p, 10)
			want := min(10, n-p*10)
			if n == 0 {
				want = 0
			}
			if got := w.End - w.Start; got != want {
				t.Fatalf("n=%d page=%d: len = %d, want %d", n, p, got, want)
			}
			if p == 0 && w.HasPrev {
				t.Fatalf("n=%d: first page has Prev", n)
			}
			if p == Pages(n, 10)-1 && w.HasNext {
				t.Fatalf("n=%d: last page has Next", n)
			}
		}
	}
}

func TestStep(t *testing.T) {
	tests := []struct {
		name string
		page int
		dir  Direction
		want int
	}{
		{"next", 0, Next, 1},
		{"prev", 2, Prev, 1},
		{"prev at start stays", 0, Prev, 0},
		{"next at end stays", 2, Next, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Step(tt.page, tt.dir, 23, 10); got != tt.want {
				t.Errorf("Step(%d, %d) = %d, want %d", tt.page, tt.dir, got, tt.want)
			}
		})
	}
}

func TestWindow_Empty(t *testing.T) {
	if !Page(0, 0, 10).Empty() {
		t.Error("window over empty list should be empty")
	}
	if Page(1, 0, 10).Empty() {
		t.Error("window over one item should not be empty")
	}
}
