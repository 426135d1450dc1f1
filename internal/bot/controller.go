// Package bot implements the per-chat conversation: commands, prompts,
// result lists, pagination and track selection.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/batalabs/soundgrab/internal/domain"
	"github.com/batalabs/soundgrab/internal/metrics"
	"github.com/batalabs/soundgrab/internal/pager"
	"github.com/batalabs/soundgrab/internal/session"
	"github.com/batalabs/soundgrab/internal/source"
)

// Deliverer sends one track to a chat and reports how it went. It never
// fails; every failure is reported to the chat and folded into the outcome.
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, t domain.Track) domain.Outcome
}

// HistoryReader lists a chat's recent deliveries.
type HistoryReader interface {
	History(chatID int64, limit int) ([]domain.Delivery, error)
}

// Options are the listing limits.
type Options struct {
	SearchLimit  int
	LikesLimit   int
	PageSize     int
	HistoryLimit int
}

func (o *Options) fill() {
	if o.SearchLimit <= 0 {
		o.SearchLimit = 10
	}
	if o.LikesLimit <= 0 {
		o.LikesLimit = 50
	}
	if o.PageSize <= 0 {
		o.PageSize = domain.DefaultPageSize
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 10
	}
}

// Deps are the controller's collaborators. History and Metrics are optional.
type Deps struct {
	Messenger Messenger
	Source    source.Source
	Sessions  *session.Store
	Deliverer Deliverer
	History   HistoryReader
	Metrics   *metrics.Metrics
	Log       *zap.Logger
}

// Controller routes inbound events for all chats. Callers must not run two
// events for the same chat at once; session.Dispatcher provides that.
type Controller struct {
	msg      Messenger
	src      source.Source
	sessions *session.Store
	dl       Deliverer
	history  HistoryReader
	metrics  *metrics.Metrics
	log      *zap.Logger
	opts     Options
}

// NewController wires a Controller.
func NewController(d Deps, opts Options) *Controller {
	opts.fill()
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		msg:      d.Messenger,
		src:      d.Source,
		sessions: d.Sessions,
		dl:       d.Deliverer,
		history:  d.History,
		metrics:  d.Metrics,
		log:      log,
		opts:     opts,
	}
}

// HandleText handles a text message: a slash command, or input for the
// chat's pending prompt. Text in Idle mode is ignored. The returned error
// has already been reported to the chat.
func (c *Controller) HandleText(ctx context.Context, chatID int64, text string) (err error) {
	defer c.recoverPanic(ctx, chatID, "", &err)

	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "/") {
		return c.handleCommand(ctx, chatID, text)
	}

	sess, ok := c.sessions.Get(chatID)
	if !ok {
		return nil
	}
	switch sess.Mode {
	case domain.ModeAwaitingSearchQuery:
		c.sessions.SetMode(chatID, domain.ModeIdle)
		return c.runSearch(ctx, chatID, text)
	case domain.ModeAwaitingUsername:
		c.sessions.SetMode(chatID, domain.ModeIdle)
		return c.runLikes(ctx, chatID, text)
	default:
		c.log.Debug("ignoring text in idle chat", zap.Int64("chat_id", chatID))
		return nil
	}
}

// splitCommand returns the lower-cased command without any @botname suffix,
// and the remaining argument text.
func splitCommand(text string) (cmd, arg string) {
	cmd, arg, _ = strings.Cut(text, " ")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func (c *Controller) handleCommand(ctx context.Context, chatID int64, text string) error {
	cmd, arg := splitCommand(text)
	if domain.IsKnownCommand(cmd) {
		c.metrics.Command(cmd)
	}

	switch cmd {
	case "/start":
		c.sessions.SetMode(chatID, domain.ModeIdle)
		return c.send(ctx, chatID, Bold(textGreeting), nil)

	case "/help":
		return c.send(ctx, chatID, helpText(), nil)

	case "/search":
		if arg != "" {
			c.sessions.SetMode(chatID, domain.ModeIdle)
			return c.runSearch(ctx, chatID, arg)
		}
		c.sessions.SetMode(chatID, domain.ModeAwaitingSearchQuery)
		return c.send(ctx, chatID, Bold(textSearchPrompt), nil)

	case "/likes":
		if arg != "" {
			c.sessions.SetMode(chatID, domain.ModeIdle)
			return c.runLikes(ctx, chatID, arg)
		}
		c.sessions.SetMode(chatID, domain.ModeAwaitingUsername)
		return c.send(ctx, chatID, Bold(textLikesPrompt), nil)

	case "/cancel":
		cancelled := false
		c.sessions.Update(chatID, false, func(s *domain.ChatSession) {
			cancelled = s.Mode != domain.ModeIdle
			s.Mode = domain.ModeIdle
		})
		if cancelled {
			return c.send(ctx, chatID, EscapeMarkdown(textCancelled), nil)
		}
		return c.send(ctx, chatID, EscapeMarkdown(textNothingPending), nil)

	case "/history":
		return c.showHistory(ctx, chatID)

	default:
		return c.send(ctx, chatID, EscapeMarkdown(fmt.Sprintf("Unknown command %s. Use /help to see what I can do.", cmd)), nil)
	}
}

func (c *Controller) runSearch(ctx context.Context, chatID int64, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		c.send(ctx, chatID, Bold(textInvalidQuery), nil)
		return ErrInvalidInput
	}
	c.send(ctx, chatID, Bold(textSearching), nil)

	start := time.Now()
	tracks, err := c.src.Search(ctx, query, c.opts.SearchLimit)
	took := time.Since(start)
	if err != nil {
		c.metrics.Listing("search", listingResult(err), took)
		c.log.Warn("search failed", zap.Int64("chat_id", chatID), zap.String("query", query), zap.Error(err))
		text := textSearchFailed
		switch {
		case errors.Is(err, source.ErrTimeout):
			text = textSearchTimeout
		case source.IsUnavailable(err):
			text = textUnreachable
		}
		c.send(ctx, chatID, Bold(text), nil)
		return fmt.Errorf("%w: %w", ErrListingFailed, err)
	}
	if len(tracks) == 0 {
		c.metrics.Listing("search", "empty", took)
		c.send(ctx, chatID, Bold(textNothingFound), nil)
		return ErrNoResults
	}
	c.metrics.Listing("search", "ok", took)

	c.sessions.SetResults(chatID, &domain.ResultSet{
		Kind:     domain.KindSearch,
		Tracks:   tracks,
		PageSize: len(tracks),
	})
	return c.send(ctx, chatID, Bold(textResults), searchKeyboard(tracks))
}

func (c *Controller) runLikes(ctx context.Context, chatID int64, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		c.send(ctx, chatID, Bold(textInvalidUser), nil)
		return ErrInvalidInput
	}
	c.send(ctx, chatID, Bold(fmt.Sprintf("⌛ Getting likes for %s...", username)), nil)

	start := time.Now()
	tracks, err := c.src.Likes(ctx, username, c.opts.LikesLimit)
	took := time.Since(start)
	if err != nil {
		c.metrics.Listing("likes", listingResult(err), took)
		switch {
		case source.IsNotFound(err):
			c.send(ctx, chatID, Bold(fmt.Sprintf("❌ User %s not found on SoundCloud.", username)), nil)
			return fmt.Errorf("%w: %w", ErrNoResults, err)
		case errors.Is(err, source.ErrTimeout):
			c.send(ctx, chatID, Bold(textLikesTimeout), nil)
		case source.IsUnavailable(err):
			c.send(ctx, chatID, Bold(textUnreachable), nil)
		default:
			c.send(ctx, chatID, Bold(textLikesFailed), nil)
		}
		c.log.Warn("likes failed", zap.Int64("chat_id", chatID), zap.String("username", username), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrListingFailed, err)
	}
	if len(tracks) == 0 {
		c.metrics.Listing("likes", "empty", took)
		c.send(ctx, chatID, Bold(fmt.Sprintf("❌ %s has no public likes.", username)), nil)
		return ErrNoResults
	}
	c.metrics.Listing("likes", "ok", took)

	rs := &domain.ResultSet{
		Kind:     domain.KindLikes,
		Owner:    username,
		Tracks:   tracks,
		Page:     0,
		PageSize: c.opts.PageSize,
	}
	c.sessions.SetResults(chatID, rs)
	text, kb := likesView(rs)
	return c.send(ctx, chatID, text, kb)
}

func listingResult(err error) string {
	switch {
	case errors.Is(err, source.ErrTimeout):
		return "timeout"
	case source.IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}

func (c *Controller) showHistory(ctx context.Context, chatID int64) error {
	if c.history == nil {
		return c.send(ctx, chatID, EscapeMarkdown(textNoHistory), nil)
	}
	ds, err := c.history.History(chatID, c.opts.HistoryLimit)
	if err != nil {
		c.log.Error("load history", zap.Int64("chat_id", chatID), zap.Error(err))
		c.send(ctx, chatID, Bold(textHistoryFailed), nil)
		return fmt.Errorf("%w: history: %w", ErrUnexpected, err)
	}
	if len(ds) == 0 {
		return c.send(ctx, chatID, EscapeMarkdown(textNoHistory), nil)
	}
	return c.send(ctx, chatID, historyText(ds), nil)
}

// HandleCallback handles a button press. Buttons act on the chat's stored
// result set regardless of the pending prompt. The returned error has
// already been reported to the chat.
func (c *Controller) HandleCallback(ctx context.Context, cb Callback) (err error) {
	defer c.recoverPanic(ctx, cb.ChatID, cb.ID, &err)

	p, err := ParsePayload(cb.Data)
	if err != nil {
		c.metrics.CallbackRejected("malformed")
		c.answer(ctx, cb.ID, textTryAgain)
		return err
	}

	switch p.Action {
	case ActionSearchPick:
		return c.pick(ctx, cb, domain.KindSearch, p.Arg)
	case ActionLikesPick:
		return c.pick(ctx, cb, domain.KindLikes, p.Arg)
	default:
		return c.paginate(ctx, cb, p)
	}
}

func expiredText(kind domain.ResultKind) string {
	if kind == domain.KindLikes {
		return textLikesExpired
	}
	return textSearchExpired
}

// pick downloads the track at idx from the chat's result set of kind.
func (c *Controller) pick(ctx context.Context, cb Callback, kind domain.ResultKind, idx int) error {
	rs, ok := c.sessions.Results(cb.ChatID, kind)
	if !ok {
		c.metrics.CallbackRejected("session_expired")
		c.answer(ctx, cb.ID, expiredText(kind))
		return ErrSessionExpired
	}
	t, ok := rs.At(idx)
	if !ok {
		c.metrics.CallbackRejected("bad_index")
		c.answer(ctx, cb.ID, textTryAgain)
		return fmt.Errorf("%w: %d of %d", ErrInvalidIndex, idx, rs.Len())
	}

	// Acknowledge first: Telegram drops answers to old callbacks and a
	// download can take minutes.
	c.answer(ctx, cb.ID, "")
	outcome := c.dl.Deliver(ctx, cb.ChatID, t)
	c.log.Info("delivery finished",
		zap.Int64("chat_id", cb.ChatID),
		zap.Stringer("kind", kind),
		zap.String("outcome", string(outcome)),
	)
	return nil
}

// paginate moves the likes list one page from the page the button was
// rendered on and edits the list message in place.
func (c *Controller) paginate(ctx context.Context, cb Callback, p Payload) error {
	rs, ok := c.sessions.Results(cb.ChatID, domain.KindLikes)
	if !ok {
		c.metrics.CallbackRejected("session_expired")
		c.answer(ctx, cb.ID, textLikesExpired)
		return ErrSessionExpired
	}

	if rs.PageSize <= 0 {
		rs.PageSize = domain.DefaultPageSize
	}
	rs.Page = pager.Step(p.Arg, p.Direction(), rs.Len(), rs.PageSize)
	c.sessions.SetPage(cb.ChatID, rs.Page)

	text, kb := likesView(rs)
	if err := c.msg.EditText(ctx, cb.ChatID, cb.MessageID, text, kb); err != nil {
		// Telegram rejects edits that change nothing, e.g. a double tap on Next.
		c.log.Debug("edit likes page", zap.Int64("chat_id", cb.ChatID), zap.Error(err))
	}
	c.answer(ctx, cb.ID, "")
	return nil
}

func (c *Controller) send(ctx context.Context, chatID int64, text string, kb Keyboard) error {
	if _, err := c.msg.SendText(ctx, chatID, text, kb); err != nil {
		c.log.Warn("send message", zap.Int64("chat_id", chatID), zap.Error(err))
		return err
	}
	return nil
}

func (c *Controller) answer(ctx context.Context, callbackID, text string) {
	if callbackID == "" {
		return
	}
	if err := c.msg.AnswerCallback(ctx, callbackID, text); err != nil {
		c.log.Debug("answer callback", zap.String("callback_id", callbackID), zap.Error(err))
	}
}

// recoverPanic turns a panic in a handler into a generic chat message and
// ErrUnexpected so one chat's failure never reaches the update loop.
func (c *Controller) recoverPanic(ctx context.Context, chatID int64, callbackID string, err *error) {
	r := recover()
	if r == nil {
		return
	}
	c.log.Error("handler panicked",
		zap.Int64("chat_id", chatID),
		zap.String("panic", fmt.Sprint(r)),
		zap.ByteString("stack", debug.Stack()),
	)
	if callbackID != "" {
		c.answer(ctx, callbackID, textTryAgain)
	}
	c.send(ctx, chatID, Bold(textUnexpected), nil)
	*err = fmt.Errorf("%w: %v", ErrUnexpected, r)
}
