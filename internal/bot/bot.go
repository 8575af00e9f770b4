// Package bot ties a world session to the sorter: every spawn builds a fresh
// tag index and sort state, every disconnect tears it down.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Delinquent-Codex/mineflayer/internal/config"
	"github.com/Delinquent-Codex/mineflayer/internal/sorter"
	"github.com/Delinquent-Codex/mineflayer/internal/tags"
	"github.com/Delinquent-Codex/mineflayer/internal/world"
	"github.com/Delinquent-Codex/mineflayer/internal/worldclient"
)

// Session is the connected world as the bot sees it.
type Session interface {
	world.World
	AgentName() string
	ItemPalette() []string
	ItemTags() json.RawMessage
}

var _ Session = (*worldclient.Client)(nil)

type Bot struct {
	cfg      config.Config
	log      *zap.Logger
	fileTags tags.Definitions

	mu     sync.Mutex
	ctx    context.Context
	state  *sortState
	spawns int
}

// sortState is everything that lives for one session.
type sortState struct {
	index     *tags.Index
	cache     *sorter.Cache
	engine    *sorter.Engine
	scheduler *sorter.Scheduler
}

// New loads the tag file named in cfg, if any.
func New(cfg config.Config, log *zap.Logger) (*Bot, error) {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bot{cfg: cfg, log: log, ctx: context.Background()}
	if cfg.TagsFile != "" {
		defs, err := tags.LoadFile(cfg.TagsFile)
		if err != nil {
			return nil, fmt.Errorf("load tags: %w", err)
		}
		b.fileTags = defs
		log.Debug("tag definitions loaded", zap.String("file", cfg.TagsFile), zap.Int("tags", len(defs)))
	}
	return b, nil
}

// Run connects once and blocks until the session ends or ctx is canceled.
// There is no reconnect.
func (b *Bot) Run(ctx context.Context) error {
	c, err := worldclient.Dial(ctx, worldclient.Config{
		URL:       b.cfg.URL(),
		AgentName: b.cfg.Username,
		Version:   b.cfg.Version,
		Auth:      b.cfg.Auth,
		Token:     b.cfg.Token,
		Logger:    b.log,
	})
	if err != nil {
		return err
	}
	b.log.Debug("dialed", zap.String("url", b.cfg.URL()))

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	b.mu.Lock()
	b.ctx = runCtx
	b.mu.Unlock()

	g.Go(func() error {
		defer stop()
		return c.Run(runCtx, b)
	})
	g.Go(func() error {
		<-runCtx.Done()
		b.stopSorting()
		return nil
	})
	return g.Wait()
}

func (b *Bot) OnSpawn(c *worldclient.Client) { b.spawn(c) }

func (b *Bot) OnEnd(err error) {
	if err != nil {
		b.log.Info("disconnected from server", zap.Error(err))
	} else {
		b.log.Info("disconnected from server")
	}
	b.stopSorting()
}

func (b *Bot) OnKicked(reason string) {
	b.log.Info("kicked from server", zap.String("reason", reason))
}

func (b *Bot) OnError(err error) {
	b.log.Error("bot error", zap.Error(err))
}

func (b *Bot) spawn(s Session) {
	idx := b.buildIndex(s)
	scanner := sorter.NewScanner(b.cfg.SortRadius, b.cfg.ChestSearchRadius, idx)
	cache := sorter.NewCache(s, scanner, b.cfg.ScanInterval, b.log)
	engine := sorter.NewEngine(s, cache, idx, b.log)
	st := &sortState{
		index:     idx,
		cache:     cache,
		engine:    engine,
		scheduler: sorter.NewScheduler(engine, b.cfg.SortInterval, b.log),
	}

	b.mu.Lock()
	prev := b.state
	b.state = st
	b.spawns++
	ctx := b.ctx
	b.mu.Unlock()

	if prev != nil {
		prev.scheduler.Stop()
	}
	st.scheduler.Start(ctx)
	b.log.Info("connected",
		zap.String("username", s.AgentName()),
		zap.Int("tagged_items", idx.Len()))
}

// buildIndex merges the tag file with the session's item_tags catalog and
// resolves both against its item palette.
func (b *Bot) buildIndex(s Session) *tags.Index {
	all := []tags.Definitions{b.fileTags}
	catalog, err := tags.ParseCatalog(s.ItemTags())
	if err != nil {
		b.log.Warn("ignoring item tags catalog", zap.Error(err))
	} else if catalog != nil {
		all = append(all, catalog)
	}
	lookup := tags.Palette(s.ItemPalette())
	return tags.Build(tags.Merge(all...).Resolve(lookup), lookup)
}

func (b *Bot) stopSorting() {
	b.mu.Lock()
	st := b.state
	b.state = nil
	b.mu.Unlock()
	if st != nil {
		st.scheduler.Stop()
	}
}

func (b *Bot) current() *sortState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
