package app

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/maine/x_relay_bot/internal/config"
	"github.com/maine/x_relay_bot/internal/logger"
	"github.com/maine/x_relay_bot/internal/metrics"
	"github.com/maine/x_relay_bot/internal/post"
	"github.com/maine/x_relay_bot/internal/state"
)

// Clock определяет источник времени (удобно подменять в тестах).
type Clock func() time.Time

// Sleeper ждёт d или отмены контекста.
type Sleeper func(ctx context.Context, d time.Duration) error

// PostSource отдаёт свежие посты источника, от новых к старым.
type PostSource interface {
	FetchRecent(ctx context.Context, sourceID string, maxCount int) ([]post.RawPost, error)
}

// Publisher отправляет одобренный пост в канал. Одна попытка означает не больше
// одного сообщения; повторов внутри реализации быть не должно.
type Publisher interface {
	Publish(ctx context.Context, text string, imageURLs []string) error
}

// Normalizer приводит сырой текст к каноническому.
type Normalizer interface {
	Normalize(raw string) string
}

// Filter решает, пригоден ли текст к публикации.
type Filter interface {
	CheckWithRaw(canonical, raw string) post.Decision
}

// RateLimiter ограничивает частоту публикаций по источникам.
type RateLimiter interface {
	IsLimited(ctx context.Context, sourceID string, now time.Time, cooldown time.Duration) (bool, error)
	MarkPublished(ctx context.Context, sourceID string, now time.Time) error
}

// Metrics принимает события прогона.
type Metrics interface {
	Decision(source string, d post.Decision)
	Error(kind string)
	Published(source string)
	Purged(n int64)
}

// PipelineDeps перечисляет зависимости пайплайна.
type PipelineDeps struct {
	Sources      []string
	Source       PostSource
	Publisher    Publisher
	Normalizer   Normalizer
	Filter       Filter
	Fingerprints state.FingerprintStore
	RateLimiter  RateLimiter
	Metrics      Metrics
	Logger       logger.Logger
	Clock        Clock
	Sleep        Sleeper
	Rand         *rand.Rand
	Config       config.Pipeline
	DryRun       bool // оценивать посты, но ничего не публиковать и не записывать
}

// Pipeline инкапсулирует один прогон сбора и публикации.
type Pipeline struct {
	sources      []string
	source       PostSource
	publisher    Publisher
	normalizer   Normalizer
	filter       Filter
	fingerprints state.FingerprintStore
	limiter      RateLimiter
	metrics      Metrics
	log          logger.Logger
	clock        Clock
	sleep        Sleeper
	rng          *rand.Rand
	cfg          config.Pipeline
	dryRun       bool
}

// runState хранит изменяемое состояние одного вызова Run.
type runState struct {
	log      logger.Logger
	now      time.Time
	seen     map[string]struct{}
	attempts int
}

// NewPipeline создаёт новый экземпляр пайплайна.
func NewPipeline(deps PipelineDeps) *Pipeline {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	var m Metrics = nopMetrics{}
	if deps.Metrics != nil {
		m = deps.Metrics
	}

	return &Pipeline{
		sources:      append([]string(nil), deps.Sources...),
		source:       deps.Source,
		publisher:    deps.Publisher,
		normalizer:   deps.Normalizer,
		filter:       deps.Filter,
		fingerprints: deps.Fingerprints,
		limiter:      deps.RateLimiter,
		metrics:      m,
		log:          log,
		clock:        clock,
		sleep:        sleep,
		rng:          deps.Rand,
		cfg:          deps.Config,
		dryRun:       deps.DryRun,
	}
}

// Run выполняет один проход по всем источникам. Ошибки источников, публикации
// и хранилища не прерывают прогон: они попадают в отчёт, лог и метрики.
// Ошибка возвращается только при неполной конфигурации или отмене контекста.
func (p *Pipeline) Run(ctx context.Context) (post.Report, error) {
	if err := p.validateDeps(); err != nil {
		return post.Report{}, err
	}

	report := post.Report{
		RunID:     uuid.NewString(),
		StartedAt: p.clock(),
	}
	rs := &runState{
		log:  p.log.With(logger.String("run_id", report.RunID)),
		now:  report.StartedAt,
		seen: make(map[string]struct{}),
	}

	if !p.dryRun {
		report.Purged = p.purge(ctx, rs, report.StartedAt)
	}

	order := p.sourceOrder()
	rs.log.Info("run started",
		logger.Strings("sources", order),
		logger.Bool("dry_run", p.dryRun),
	)

	for _, sourceID := range order {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = p.clock()
			return report, err
		}
		report.Sources = append(report.Sources, p.runSource(ctx, rs, sourceID))
	}

	report.FinishedAt = p.clock()
	rs.log.Info("run finished",
		logger.Int("published", report.Published()),
		logger.Int("duplicates", report.Count(post.RejectedDuplicate)),
		logger.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, ctx.Err()
}

func (p *Pipeline) validateDeps() error {
	switch {
	case p.source == nil,
		p.normalizer == nil,
		p.filter == nil,
		p.fingerprints == nil,
		p.limiter == nil,
		p.publisher == nil && !p.dryRun:
		return ErrNotConfigured
	default:
		return nil
	}
}

func (p *Pipeline) purge(ctx context.Context, rs *runState, now time.Time) int64 {
	n, err := p.fingerprints.PurgeExpired(ctx, now, p.cfg.Retention)
	if err != nil {
		p.persistenceFailed(rs.log, &PersistenceError{Op: "purge expired fingerprints", Err: err})
		return n
	}
	if n > 0 {
		p.metrics.Purged(n)
		rs.log.Info("expired fingerprints purged", logger.Int64("count", n))
	}
	return n
}

// sourceOrder перемешивает источники, чтобы при ограниченном по времени
// запуске одни и те же аккаунты не оставались всегда последними.
func (p *Pipeline) sourceOrder() []string {
	order := append([]string(nil), p.sources...)
	if !p.cfg.ShuffleSources() {
		return order
	}
	swap := func(i, j int) { order[i], order[j] = order[j], order[i] }
	if p.rng != nil {
		p.rng.Shuffle(len(order), swap)
	} else {
		rand.Shuffle(len(order), swap)
	}
	return order
}

// runSource обрабатывает один источник. Паника внутри превращается в ошибку
// источника, остальные источники продолжают работу.
func (p *Pipeline) runSource(ctx context.Context, rs *runState, sourceID string) (res post.SourceResult) {
	res.SourceID = sourceID
	log := rs.log.With(logger.String("source", sourceID))

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic while processing source %s: %v", sourceID, r)
			log.Error("source processing panicked", logger.Error(res.Err))
		}
	}()

	now := p.clock()
	limited, err := p.limiter.IsLimited(ctx, sourceID, now, p.cfg.Cooldown)
	if err != nil {
		// без состояния считаем источник свободным: от повторов защищают отпечатки
		p.persistenceFailed(log, &PersistenceError{Op: "read rate state", Err: err})
	}
	if limited {
		res.RateLimited = true
		p.metrics.Decision(sourceID, post.RejectedRateLimited)
		log.Debug("source is rate limited", logger.Duration("cooldown", p.cfg.Cooldown))
		return res
	}

	posts, err := p.source.FetchRecent(ctx, sourceID, p.cfg.BatchSize)
	if err != nil {
		res.Err = &SourceFetchError{SourceID: sourceID, Err: err}
		p.metrics.Error(metrics.KindFetch)
		log.Error("fetch failed, skipping source", logger.Error(err))
		return res
	}
	if len(posts) > p.cfg.BatchSize {
		posts = posts[:p.cfg.BatchSize]
	}
	res.Fetched = len(posts)
	log.Debug("posts fetched", logger.Int("count", len(posts)))

	// порядок обработки совпадает с порядком выдачи (новые первыми)
	for _, raw := range posts {
		if ctx.Err() != nil {
			break
		}
		res.Outcomes = append(res.Outcomes, p.processPost(ctx, rs, log, sourceID, raw))
	}
	return res
}

func (p *Pipeline) processPost(ctx context.Context, rs *runState, log logger.Logger, sourceID string, raw post.RawPost) post.Outcome {
	canonical := p.normalizer.Normalize(raw.RawText)
	out := post.Outcome{
		SourceID:  sourceID,
		Canonical: canonical,
		Decision:  p.filter.CheckWithRaw(canonical, raw.RawText),
	}
	if out.Decision != post.Accepted {
		p.reject(log, out)
		return out
	}

	out.Fingerprint = post.Fingerprint(canonical)
	if _, ok := rs.seen[out.Fingerprint]; ok {
		out.Decision = post.RejectedDuplicate
		p.reject(log, out)
		return out
	}

	dup, err := p.alreadyPublished(ctx, rs, out.Fingerprint)
	if err != nil {
		// не зная, публиковали ли пост, лучше пропустить его, чем повторить
		out.Decision = post.SkippedLookupFailed
		out.Err = &PersistenceError{Op: "lookup fingerprint", Err: err}
		p.metrics.Decision(sourceID, out.Decision)
		p.persistenceFailed(log, out.Err)
		return out
	}
	if dup {
		out.Decision = post.RejectedDuplicate
		p.reject(log, out)
		return out
	}

	rs.seen[out.Fingerprint] = struct{}{}
	p.metrics.Decision(sourceID, post.Accepted)

	if p.dryRun {
		log.Info("post would be published", logger.String("fingerprint", out.Fingerprint), logger.String("text", canonical))
		return out
	}

	if rs.attempts > 0 {
		delay := p.publishDelay()
		log.Debug("waiting before next publication", logger.Duration("delay", delay))
		if err := p.sleep(ctx, delay); err != nil {
			out.Err = err
			return out
		}
	}
	rs.attempts++

	if err := p.publisher.Publish(ctx, canonical, raw.ImageURLs); err != nil {
		out.Err = &PublishError{SourceID: sourceID, Fingerprint: out.Fingerprint, Err: err}
		p.metrics.Error(metrics.KindPublish)
		log.Error("publish failed", logger.String("fingerprint", out.Fingerprint), logger.Error(err))
		return out
	}
	out.Published = true
	p.metrics.Published(sourceID)
	log.Info("post published",
		logger.String("fingerprint", out.Fingerprint),
		logger.Int("images", len(raw.ImageURLs)),
	)

	// Между публикацией и фиксацией возможен сбой процесса: тогда пост будет
	// рассмотрен повторно в следующем прогоне.
	committedAt := p.clock()
	if err := p.fingerprints.Record(ctx, out.Fingerprint, committedAt); err != nil {
		p.persistenceFailed(log, &PersistenceError{Op: "record fingerprint", Err: err})
	}
	if err := p.limiter.MarkPublished(ctx, sourceID, committedAt); err != nil {
		p.persistenceFailed(log, &PersistenceError{Op: "mark source published", Err: err})
	}
	return out
}

// alreadyPublished проверяет отпечаток по хранилищу. В dry run очистка не
// выполняется, поэтому устаревшие записи отсекаются по времени первого появления.
func (p *Pipeline) alreadyPublished(ctx context.Context, rs *runState, fingerprint string) (bool, error) {
	if !p.dryRun {
		return p.fingerprints.Contains(ctx, fingerprint)
	}
	firstSeen, ok, err := p.fingerprints.FirstSeen(ctx, fingerprint)
	if err != nil || !ok {
		return false, err
	}
	return !state.Expired(firstSeen, rs.now, p.cfg.Retention), nil
}

func (p *Pipeline) reject(log logger.Logger, out post.Outcome) {
	p.metrics.Decision(out.SourceID, out.Decision)
	log.Debug("post rejected",
		logger.String("decision", out.Decision.String()),
		logger.String("text", out.Canonical),
	)
}

func (p *Pipeline) persistenceFailed(log logger.Logger, err error) {
	p.metrics.Error(metrics.KindPersistence)
	log.Error("state persistence failed", logger.Error(err))
}

// publishDelay выбирает случайную паузу в [MinDelay, MaxDelay].
func (p *Pipeline) publishDelay() time.Duration {
	lo, hi := p.cfg.MinDelay, p.cfg.MaxDelay
	if hi <= lo {
		return lo
	}
	span := int64(hi-lo) + 1
	if p.rng != nil {
		return lo + time.Duration(p.rng.Int64N(span))
	}
	return lo + time.Duration(rand.Int64N(span))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type nopMetrics struct{}

func (nopMetrics) Decision(string, post.Decision) {}
func (nopMetrics) Error(string)                   {}
func (nopMetrics) Published(string)               {}
func (nopMetrics) Purged(int64)                   {}
