package bot

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/batalabs/soundgrab/internal/domain"
	"github.com/batalabs/soundgrab/internal/pager"
)

// Button label limits, in runes.
const (
	searchLabelLen = 50
	likesLabelLen  = 30
)

// User-facing texts. All are plain and pass through Bold or EscapeMarkdown.
const (
	textGreeting       = "🔍 Hi! Use /search to find music or /likes to view likes."
	textSearchPrompt   = "🔎 Enter song name to search on SoundCloud:"
	textLikesPrompt    = "👤 Enter SoundCloud username to view likes:"
	textInvalidQuery   = "❌ Please enter a valid query."
	textInvalidUser    = "❌ Please enter a valid username."
	textSearching      = "⌛ Searching..."
	textNothingFound   = "❌ Nothing found."
	textResults        = "🎵 Results:"
	textSearchFailed   = "❌ Search failed. Please try again."
	textSearchTimeout  = "❌ Search timed out. Please try again."
	textUnreachable    = "❌ SoundCloud is unreachable right now. Please try again later."
	textLikesFailed    = "❌ Error getting likes. Please try again."
	textLikesTimeout   = "❌ Timed out getting likes. Please try again."
	textTryAgain       = "❌ Error: please try again."
	textSearchExpired  = "Session expired. Please use /search again."
	textLikesExpired   = "Session expired. Please use /likes again."
	textCancelled      = "Cancelled."
	textNothingPending = "Nothing to cancel."
	textNoHistory      = "No downloads yet. Use /search or /likes to find a track."
	textHistoryFailed  = "❌ Could not load your history."
	textUnexpected     = "❌ Something went wrong. Please try again."
)

// searchKeyboard renders one button per search result.
func searchKeyboard(tracks []domain.Track) Keyboard {
	kb := make(Keyboard, 0, len(tracks))
	for i, t := range tracks {
		kb = append(kb, []Button{{
			Text: fmt.Sprintf("%d. %s", i+1, Truncate(t.DisplayTitle(), searchLabelLen)),
			Data: Payload{Action: ActionSearchPick, Arg: i}.String(),
		}})
	}
	return kb
}

// likesView renders the header and keyboard for the current page of a
// likes result set.
func likesView(rs *domain.ResultSet) (string, Keyboard) {
	size := rs.PageSize
	if size <= 0 {
		size = domain.DefaultPageSize
	}
	w := pager.Page(rs.Len(), rs.Page, size)

	header := fmt.Sprintf("❤️ %s's likes (%d-%d of %d):", rs.Owner, w.Start+1, w.End, rs.Len())

	kb := make(Keyboard, 0, w.End-w.Start+1)
	for i := w.Start; i < w.End; i++ {
		kb = append(kb, []Button{{
			Text: fmt.Sprintf("%d. %s", i+1, Truncate(rs.Tracks[i].DisplayTitle(), likesLabelLen)),
			Data: Payload{Action: ActionLikesPick, Arg: i}.String(),
		}})
	}

	var nav []Button
	if w.HasPrev {
		nav = append(nav, Button{Text: "⬅️ Back", Data: Payload{Action: ActionLikesPrev, Arg: w.Page}.String()})
	}
	if w.HasNext {
		nav = append(nav, Button{Text: "Next ➡️", Data: Payload{Action: ActionLikesNext, Arg: w.Page}.String()})
	}
	if len(nav) > 0 {
		kb = append(kb, nav)
	}
	return Bold(header), kb
}

// historyText renders recent deliveries, newest first.
func historyText(ds []domain.Delivery) string {
	lines := []string{Bold("🕘 Your recent downloads:")}
	for i, d := range ds {
		mark := "✅"
		if !d.Outcome.Succeeded() {
			mark = "❌"
		}
		line := fmt.Sprintf("%d. %s %s", i+1, mark, Truncate(d.Title, likesLabelLen+10))
		if d.Bytes > 0 {
			line += " · " + humanize.Bytes(uint64(d.Bytes))
		}
		line += " · " + humanize.Time(d.CreatedAt)
		lines = append(lines, EscapeMarkdown(line))
	}
	return strings.Join(lines, "\n")
}

// helpText lists every command, including hidden ones.
func helpText() string {
	lines := []string{Bold("Commands:")}
	for _, c := range domain.CommandDefs {
		lines = append(lines, EscapeMarkdown(fmt.Sprintf("%s - %s", c.Name, c.Description)))
	}
	lines = append(lines, "", EscapeMarkdown("Tip: /search <query> and /likes <username> skip the prompt."))
	return strings.Join(lines, "\n")
}
