package agentloop

import (
	"context"

	"github.com/go-go-golems/marionette/pkg/events"
	"github.com/go-go-golems/marionette/pkg/helpers"
	"github.com/go-go-golems/marionette/pkg/inference/engine"
	"github.com/go-go-golems/marionette/pkg/inference/tools"
	"github.com/go-go-golems/marionette/pkg/turns"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// base holds what every loop variant shares. A loop instance owns its History Store and must
// not run concurrently with itself.
type base struct {
	eng        engine.Engine
	registry   *tools.Registry
	toolCfg    tools.ToolConfig
	dispatcher *tools.Dispatcher
	cfg        LoopConfig
	prompts    Prompts
	store      *turns.Store
	stepAgent  StepAgent
	runIDs     func() string
}

type Option func(*base)

func newBase(opts ...Option) base {
	b := base{
		cfg:     DefaultLoopConfig(),
		toolCfg: tools.DefaultToolConfig(),
		prompts: DefaultPrompts(),
		runIDs:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&b)
		}
	}
	if b.registry == nil {
		b.registry = tools.NewRegistry()
	}
	if b.dispatcher == nil {
		b.dispatcher = tools.NewDispatcher(b.registry, b.toolCfg)
	}
	if b.store == nil {
		b.store = turns.NewStore()
	}
	b.prompts = b.prompts.withDefaults()
	return b
}

func WithEngine(eng engine.Engine) Option {
	return func(b *base) { b.eng = eng }
}

func WithRegistry(reg *tools.Registry) Option {
	return func(b *base) { b.registry = reg }
}

func WithToolConfig(cfg tools.ToolConfig) Option {
	return func(b *base) { b.toolCfg = cfg }
}

// WithDispatcher replaces the dispatcher built from the registry and tool config.
func WithDispatcher(d *tools.Dispatcher) Option {
	return func(b *base) { b.dispatcher = d }
}

func WithLoopConfig(cfg LoopConfig) Option {
	return func(b *base) { b.cfg = cfg }
}

// WithPrompts overrides prompt templates; empty fields keep their defaults.
func WithPrompts(p Prompts) Option {
	return func(b *base) { b.prompts = p }
}

// WithStore makes the loop record its turns into store, so the caller can inspect them after
// Run returns. Run still resets it at the start of every task.
func WithStore(store *turns.Store) Option {
	return func(b *base) { b.store = store }
}

// WithRunIDGenerator replaces the uuid based run id generator.
func WithRunIDGenerator(fn func() string) Option {
	return func(b *base) { b.runIDs = fn }
}

func (b *base) check() error {
	if b.eng == nil {
		return errors.New("agent loop engine is nil")
	}
	return nil
}

// Store returns the History Store the loop records into.
func (b *base) Store() *turns.Store {
	return b.store
}

// begin resets the store and creates the session for a new top-level task.
func (b *base) begin(ctx context.Context, variant Variant, task string) *session {
	b.store.Reset()
	sess := newSession(b.runIDs(), variant, b.cfg.maxIterations())
	log.Debug().
		Str("run_id", sess.meta.RunID).
		Str("variant", string(variant)).
		Int("max_iterations", sess.maxIterations).
		Msg("agentloop: run started")
	events.PublishEventToContext(ctx, events.NewStartEvent(sess.meta, task))
	return sess
}

// generate calls the engine once. With streaming enabled fragments are published as partial
// events and only the complete text is returned.
func (b *base) generate(ctx context.Context, sess *session, messages []engine.Message) (string, error) {
	var text string
	var err error

	if b.cfg.Stream {
		var c <-chan helpers.Result[string]
		c, err = engine.Stream(ctx, b.eng, messages, b.cfg.Temperature)
		if err == nil {
			text, err = engine.Collect(ctx, c, func(fragment string) {
				events.PublishEventToContext(ctx, events.NewPartialEvent(sess.meta, fragment))
			})
		}
	} else {
		text, err = b.eng.Generate(ctx, messages, b.cfg.Temperature)
	}

	if err != nil {
		log.Warn().Err(err).Str("run_id", sess.meta.RunID).Int("iteration", sess.iteration).Msg("agentloop: generation failed")
		events.PublishEventToContext(ctx, events.NewErrorEvent(sess.meta, err))
		return "", err
	}

	log.Debug().Str("run_id", sess.meta.RunID).Int("iteration", sess.iteration).Int("length", len(text)).Msg("agentloop: generation completed")
	events.PublishEventToContext(ctx, events.NewGenerationEvent(sess.meta, text))
	return text, nil
}

// failGeneration terminates the session after a generation failure.
func (b *base) failGeneration(ctx context.Context, sess *session, phase string, err error) error {
	reason := StopGenerationFailed
	if ctx.Err() != nil {
		reason = StopCancelled
	}
	sess.abort(ctx, reason)
	return &GenerationError{Phase: phase, Iteration: sess.iteration, Err: err}
}

// result builds the value returned by Run.
func (b *base) result(ctx context.Context, sess *session, variant Variant, task string) *Result {
	r := &Result{
		RunID:       sess.meta.RunID,
		Variant:     variant,
		Task:        task,
		Outcome:     OutcomeNoAnswer,
		StopReason:  sess.stopReason,
		Iterations:  sess.iteration,
		Turns:       b.store.Turns(),
		Truncations: sess.truncations,
	}
	if sess.terminal {
		r.Outcome = OutcomeAnswer
		r.Answer = sess.answer
		events.PublishEventToContext(ctx, events.NewFinalEvent(sess.meta, sess.answer))
	}
	log.Debug().
		Str("run_id", r.RunID).
		Str("outcome", string(r.Outcome)).
		Str("stop_reason", string(r.StopReason)).
		Int("iterations", r.Iterations).
		Msg("agentloop: run finished")
	return r
}
