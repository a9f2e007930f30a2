// Package client keeps an in-memory mirror of the chart, applies mutations
// optimistically, and pushes them to the server after a short debounce.
//
// Each mutation marks the fields it touched as dirty. A push sends the whole
// current value of every dirty field, and a re-fetch only overwrites fields
// that are clean, so a fetch that lands between a mutation and its push
// cannot undo the mutation locally.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/starchart/internal/chart"
	"github.com/dukerupert/starchart/internal/model"
)

var (
	ErrIndexOutOfRange = errors.New("star index out of range")
	ErrInvalidTheme    = errors.New("invalid theme")
	ErrInvalidReward   = errors.New("invalid reward")
	ErrInvalidSticker  = errors.New("invalid sticker type")
)

type field uint8

// Points and annotations form one field: annotation keys are only valid
// against the point count they were written with.
const (
	fieldStars field = 1 << iota
	fieldReward
	fieldTheme
)

type Options struct {
	TotalStars     int
	AmazingBonus   int
	Debounce       time.Duration
	ReconcileDelay time.Duration
	PushTimeout    time.Duration
	Logger         *slog.Logger
}

func (o *Options) setDefaults() {
	if o.TotalStars <= 0 {
		o.TotalStars = model.DefaultTotalStars
	}
	if o.AmazingBonus <= 0 {
		o.AmazingBonus = model.DefaultAmazingBonus
	}
	if o.Debounce <= 0 {
		o.Debounce = 300 * time.Millisecond
	}
	if o.ReconcileDelay <= 0 {
		o.ReconcileDelay = 500 * time.Millisecond
	}
	if o.PushTimeout <= 0 {
		o.PushTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type Controller struct {
	api    *API
	opts   Options
	logger *slog.Logger

	// pushMu serializes pushes so two debounce firings never race.
	pushMu sync.Mutex

	mu          sync.Mutex
	state       model.ChartState
	celebrating bool
	hidden      bool
	dirty       field
	gen         uint64 // bumped on every mutation
	pushes      uint64 // bumped when a push resolves
	serverTime  int64
	debounce    *time.Timer
	reconcile   *time.Timer
	closed      bool
}

func NewController(api *API, opts Options) *Controller {
	opts.setDefaults()
	return &Controller{
		api:    api,
		opts:   opts,
		logger: opts.Logger,
		state:  model.DefaultChartState(),
	}
}

// Load fetches the chart and replaces the mirror.
func (c *Controller) Load(ctx context.Context) error {
	return c.Refresh(ctx)
}

// Refresh fetches the chart and overwrites every field that has no pending
// local change. A response that raced with a completed push is discarded;
// the reconcile fetch scheduled by that push supersedes it.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	seq := c.pushes
	c.mu.Unlock()

	remote, err := c.api.Sync(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pushes != seq {
		return nil
	}
	c.merge(remote)
	return nil
}

func (c *Controller) merge(remote *model.SyncState) {
	s := remote.ChartState
	if c.dirty&fieldStars == 0 {
		c.state.Points = s.Points
		c.state.StarComments = nonNil(s.StarComments)
		c.state.StickerTypes = nonNil(s.StickerTypes)
	}
	if c.dirty&fieldReward == 0 {
		c.state.RewardPreview = s.RewardPreview
	}
	if c.dirty&fieldTheme == 0 && s.CurrentTheme != "" {
		c.state.CurrentTheme = s.CurrentTheme
	}
	c.state.UpdatedAt = s.UpdatedAt
	c.serverTime = remote.ServerTime

	if chart.IsComplete(c.state, c.opts.TotalStars) {
		c.celebrating = true
	}
}

func nonNil[V any](m map[int]V) map[int]V {
	if m == nil {
		return map[int]V{}
	}
	return m
}

// OnHidden records that the front end went to the background.
func (c *Controller) OnHidden() {
	c.mu.Lock()
	c.hidden = true
	c.mu.Unlock()
}

// OnVisible re-fetches when the front end returns from the background.
// Calls while already visible do nothing.
func (c *Controller) OnVisible(ctx context.Context) error {
	c.mu.Lock()
	wasHidden := c.hidden
	c.hidden = false
	c.mu.Unlock()

	if !wasHidden {
		return nil
	}
	return c.Refresh(ctx)
}

// AddStar adds one star. It returns false when the chart is already full.
func (c *Controller) AddStar() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !chart.AddStar(&c.state, c.opts.TotalStars) {
		return false
	}
	if chart.IsComplete(c.state, c.opts.TotalStars) {
		c.celebrating = true
	}
	c.markDirty(fieldStars)
	return true
}

// RemoveStar removes the star at index and shifts later annotations down.
func (c *Controller) RemoveStar(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !chart.RemoveStar(&c.state, index) {
		return false
	}
	c.markDirty(fieldStars)
	return true
}

// Amazing adds the bonus and returns how many stars were actually added.
func (c *Controller) Amazing() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := chart.Award(&c.state, c.opts.AmazingBonus, c.opts.TotalStars)
	if added == 0 {
		return 0
	}
	if chart.IsComplete(c.state, c.opts.TotalStars) {
		c.celebrating = true
	}
	c.markDirty(fieldStars)
	return added
}

// Reset starts a new chart. The reward and theme are kept.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

func (c *Controller) reset() {
	chart.Reset(&c.state)
	c.celebrating = false
	c.markDirty(fieldStars)
}

// Claim redeems the reward. It only works while celebrating.
func (c *Controller) Claim() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.celebrating {
		return false
	}
	c.reset()
	return true
}

// SetComment sets the comment on a filled star. An empty text removes it.
func (c *Controller) SetComment(index int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= c.state.Points {
		return fmt.Errorf("comment %d: %w", index, ErrIndexOutOfRange)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		delete(c.state.StarComments, index)
	} else {
		c.state.StarComments[index] = text
	}
	c.markDirty(fieldStars)
	return nil
}

func (c *Controller) SetSticker(index, sticker int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= c.state.Points {
		return fmt.Errorf("sticker %d: %w", index, ErrIndexOutOfRange)
	}
	if sticker < 0 {
		return fmt.Errorf("sticker %d: %w", sticker, ErrInvalidSticker)
	}
	c.state.StickerTypes[index] = sticker
	c.markDirty(fieldStars)
	return nil
}

func (c *Controller) SetReward(reward model.RewardPreview) error {
	reward.Reward = strings.TrimSpace(reward.Reward)
	if reward.Reward == "" || reward.Stars < 1 {
		return ErrInvalidReward
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.RewardPreview = reward
	c.markDirty(fieldReward)
	return nil
}

func (c *Controller) SetTheme(theme model.Theme) error {
	if !theme.Valid() {
		return fmt.Errorf("%q: %w", theme, ErrInvalidTheme)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.CurrentTheme = theme
	c.markDirty(fieldTheme)
	return nil
}

// ToggleTheme flips between the default and christmas themes.
func (c *Controller) ToggleTheme() model.Theme {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.CurrentTheme == model.ThemeChristmas {
		c.state.CurrentTheme = model.ThemeDefault
	} else {
		c.state.CurrentTheme = model.ThemeChristmas
	}
	c.markDirty(fieldTheme)
	return c.state.CurrentTheme
}

// State returns a copy of the mirror.
func (c *Controller) State() model.ChartState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

func (c *Controller) Celebrating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.celebrating
}

// ServerTime returns the server clock from the last applied fetch, in epoch ms.
func (c *Controller) ServerTime() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverTime
}

// markDirty must be called with mu held.
func (c *Controller) markDirty(f field) {
	c.dirty |= f
	c.gen++
	if c.closed {
		return
	}
	if c.debounce == nil {
		c.debounce = time.AfterFunc(c.opts.Debounce, c.debouncedPush)
		return
	}
	c.debounce.Reset(c.opts.Debounce)
}

func (c *Controller) debouncedPush() {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.PushTimeout)
	defer cancel()
	c.push(ctx)
}

// Flush pushes pending changes now instead of waiting for the debounce.
func (c *Controller) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.mu.Unlock()
	return c.push(ctx)
}

func (c *Controller) push(ctx context.Context) error {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()

	c.mu.Lock()
	if c.dirty == 0 {
		c.mu.Unlock()
		return nil
	}
	req := c.buildRequest(c.dirty)
	gen := c.gen
	c.mu.Unlock()

	_, err := c.api.Save(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Fields touched during the request stay dirty; the re-armed debounce
	// sends them. A failed write is dropped rather than replayed and the
	// reconcile fetch brings the mirror back to the server's view.
	if c.gen == gen {
		c.dirty = 0
	}
	c.pushes++
	c.scheduleReconcile()

	if err != nil {
		c.logger.Error("failed to save chart", "error", err)
		return err
	}
	c.logger.Debug("chart saved", "points", c.state.Points)
	return nil
}

func (c *Controller) buildRequest(dirty field) model.SaveRequest {
	var req model.SaveRequest
	if dirty&fieldStars != 0 {
		p := c.state.Points
		req.Points = &p
		req.StarComments = nonNil(maps.Clone(c.state.StarComments))
		req.StickerTypes = nonNil(maps.Clone(c.state.StickerTypes))
	}
	if dirty&fieldReward != 0 {
		rp := c.state.RewardPreview
		req.RewardPreview = &rp
	}
	if dirty&fieldTheme != 0 {
		t := c.state.CurrentTheme
		req.CurrentTheme = &t
	}
	return req
}

// scheduleReconcile must be called with mu held.
func (c *Controller) scheduleReconcile() {
	if c.closed {
		return
	}
	if c.reconcile == nil {
		c.reconcile = time.AfterFunc(c.opts.ReconcileDelay, c.reconcileFetch)
		return
	}
	c.reconcile.Reset(c.opts.ReconcileDelay)
}

func (c *Controller) reconcileFetch() {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.PushTimeout)
	defer cancel()
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("reconcile fetch failed", "error", err)
	}
}

// Close stops the timers and pushes anything still pending.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.mu.Unlock()

	err := c.push(ctx)

	c.mu.Lock()
	if c.reconcile != nil {
		c.reconcile.Stop()
	}
	c.mu.Unlock()
	return err
}
