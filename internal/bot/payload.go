package bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/batalabs/soundgrab/internal/pager"
)

// Action is the kind of button press encoded in a callback payload.
type Action int

const (
	ActionSearchPick Action = iota + 1 // search_<idx>
	ActionLikesPick                    // download_<idx>
	ActionLikesPrev                    // likes_prev_<page>
	ActionLikesNext                    // likes_next_<page>
)

var actionPrefixes = []struct {
	action Action
	prefix string
}{
	{ActionLikesPrev, "likes_prev_"},
	{ActionLikesNext, "likes_next_"},
	{ActionSearchPick, "search_"},
	{ActionLikesPick, "download_"},
}

// Payload is a decoded button payload. Arg is a track index for pick
// actions and the page the button was rendered on for pagination.
type Payload struct {
	Action Action
	Arg    int
}

// String encodes p as callback data.
func (p Payload) String() string {
	for _, ap := range actionPrefixes {
		if ap.action == p.Action {
			return ap.prefix + strconv.Itoa(p.Arg)
		}
	}
	return ""
}

// Direction returns the page step for a pagination payload.
func (p Payload) Direction() pager.Direction {
	if p.Action == ActionLikesPrev {
		return pager.Prev
	}
	return pager.Next
}

// IsPagination reports whether p moves the likes list.
func (p Payload) IsPagination() bool {
	return p.Action == ActionLikesPrev || p.Action == ActionLikesNext
}

// ParsePayload decodes callback data. Anything that is not a known prefix
// followed by a non-negative integer is ErrMalformedPayload.
func ParsePayload(data string) (Payload, error) {
	for _, ap := range actionPrefixes {
		rest, ok := strings.CutPrefix(data, ap.prefix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 || strings.HasPrefix(rest, "+") {
			return Payload{}, fmt.Errorf("%w: %q", ErrMalformedPayload, data)
		}
		return Payload{Action: ap.action, Arg: n}, nil
	}
	return Payload{}, fmt.Errorf("%w: %q", ErrMalformedPayload, data)
}
