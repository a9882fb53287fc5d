package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/parley/pkg/turns"
)

// DefaultMaxPhases bounds the back-and-forth with the model for one round.
const DefaultMaxPhases = 10

// ErrPhaseCeiling is returned when a round has used up its phase budget.
var ErrPhaseCeiling = errors.New("phase ceiling exceeded")

// Executor performs the actual tool invocation for a record. It must be safe
// to call concurrently for independent records; timeouts and retries are its
// responsibility, not the pipeline's.
type Executor func(ctx context.Context, name string, args map[string]any) (any, error)

// Pipeline owns the tool call records for one conversational round. It
// applies dependency inference on registration, hands out runnable records
// in FIFO order among satisfied dependencies, and assembles the context
// blocks representing results.
//
// A Pipeline is created per user turn and discarded once the round's final
// answer is produced. Records are never shared across rounds.
type Pipeline struct {
	mu      sync.Mutex
	records []*Record
	index   map[string]*Record

	phase     int
	maxPhases int

	listener TransitionListener
}

type Option func(*Pipeline)

// WithMaxPhases overrides the phase ceiling.
func WithMaxPhases(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxPhases = n
		}
	}
}

// WithTransitionListener installs a listener called synchronously with every
// record transition.
func WithTransitionListener(l TransitionListener) Option {
	return func(p *Pipeline) { p.listener = l }
}

func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		index:     make(map[string]*Record),
		maxPhases: DefaultMaxPhases,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// AddRecord registers a pending record, inferring its dependency set from
// the serialized input against records already in the pipeline. Registration
// order matters: later records can depend on earlier ones, never the
// reverse.
func (p *Pipeline) AddRecord(id string, name string, args map[string]any, rawInput string) (*Record, error) {
	return p.addRecord(id, name, args, rawInput, nil, true)
}

// AddRecordWithDeps registers a pending record with an explicit dependency
// set, bypassing the substring heuristic. Unknown dependency ids are
// rejected.
func (p *Pipeline) AddRecordWithDeps(id string, name string, args map[string]any, rawInput string, deps []string) (*Record, error) {
	return p.addRecord(id, name, args, rawInput, deps, false)
}

func (p *Pipeline) addRecord(id, name string, args map[string]any, rawInput string, deps []string, infer bool) (*Record, error) {
	if id == "" {
		return nil, errors.New("record id is empty")
	}
	if rawInput == "" && len(args) > 0 {
		if b, err := json.Marshal(args); err == nil {
			rawInput = string(b)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.index[id]; exists {
		return nil, errors.Errorf("duplicate record id %s", id)
	}
	if infer {
		deps = inferDependencies(rawInput, p.records)
	} else {
		for _, d := range deps {
			if _, ok := p.index[d]; !ok {
				return nil, errors.Errorf("unknown dependency %s for record %s", d, id)
			}
		}
	}

	r := &Record{
		ID:           id,
		Name:         name,
		Arguments:    args,
		RawInput:     rawInput,
		Dependencies: deps,
		Status:       StatusPending,
	}
	p.records = append(p.records, r)
	p.index[id] = r

	log.Debug().Str("call_id", id).Str("tool", name).Strs("deps", deps).Msg("pipeline: registered tool call")
	return r, nil
}

// NextRunnable returns the first pending record whose dependencies are all
// completed, or nil. Selection is registration order among eligible records.
func (p *Pipeline) NextRunnable() *Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextRunnableLocked()
}

func (p *Pipeline) nextRunnableLocked() *Record {
	for _, r := range p.records {
		if r.Status != StatusPending {
			continue
		}
		if p.depsSatisfiedLocked(r) {
			return r
		}
	}
	return nil
}

func (p *Pipeline) depsSatisfiedLocked(r *Record) bool {
	for _, d := range r.Dependencies {
		dep, ok := p.index[d]
		if !ok || dep.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// RunNext executes the next runnable record through the executor, if any.
// Executor errors (and panics) are converted into the record's error state;
// they never abort the pipeline as a whole. Returns the updated record, or
// nil when nothing was runnable.
func (p *Pipeline) RunNext(ctx context.Context, exec Executor) (*Record, error) {
	p.mu.Lock()
	r := p.nextRunnableLocked()
	if r == nil {
		p.mu.Unlock()
		return nil, nil
	}
	if err := p.transitionLocked(r, StatusExecuting); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.mu.Unlock()

	p.runRecord(ctx, r, exec)
	return r, nil
}

// RunReady drains all currently runnable work: mutually independent records
// execute concurrently, and dependency chains unlock and run as their
// prerequisites complete, until NextRunnable yields nothing.
func (p *Pipeline) RunReady(ctx context.Context, exec Executor) ([]*Record, error) {
	var ran []*Record
	for {
		batch := p.claimRunnableBatch()
		if len(batch) == 0 {
			return ran, nil
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, r := range batch {
			r := r
			g.Go(func() error {
				p.runRecord(gctx, r, exec)
				// executor failures are absorbed into record state; only
				// context cancellation surfaces to the caller
				return gctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			return ran, err
		}
		ran = append(ran, batch...)
	}
}

// claimRunnableBatch atomically marks every currently runnable record as
// executing so concurrent callers never dispatch the same record twice.
func (p *Pipeline) claimRunnableBatch() []*Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	var batch []*Record
	for _, r := range p.records {
		if r.Status != StatusPending || !p.depsSatisfiedLocked(r) {
			continue
		}
		if err := p.transitionLocked(r, StatusExecuting); err != nil {
			log.Error().Err(err).Str("call_id", r.ID).Msg("pipeline: claim failed")
			continue
		}
		batch = append(batch, r)
	}
	return batch
}

func (p *Pipeline) runRecord(ctx context.Context, r *Record, exec Executor) {
	result, err := func() (result any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = errors.Errorf("tool executor panic: %v", rec)
			}
		}()
		return exec(ctx, r.Name, r.Arguments)
	}()

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		r.Err = err
		if terr := p.transitionLocked(r, StatusError); terr != nil {
			log.Error().Err(terr).Str("call_id", r.ID).Msg("pipeline: error transition failed")
		}
		log.Debug().Str("call_id", r.ID).Str("tool", r.Name).Dur("duration", r.ExecutionTime).Err(err).Msg("pipeline: tool call failed")
		return
	}
	r.Result = result
	if terr := p.transitionLocked(r, StatusCompleted); terr != nil {
		log.Error().Err(terr).Str("call_id", r.ID).Msg("pipeline: complete transition failed")
	}
	log.Debug().Str("call_id", r.ID).Str("tool", r.Name).Dur("duration", r.ExecutionTime).Msg("pipeline: tool call completed")
}

func (p *Pipeline) transitionLocked(r *Record, to Status) error {
	from := r.Status
	if err := r.transition(to); err != nil {
		return err
	}
	if p.listener != nil {
		p.listener(r, from, to)
	}
	return nil
}

// BeginExecution moves a record from pending to executing by id, for callers
// driving execution manually instead of through RunNext.
func (p *Pipeline) BeginExecution(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.index[id]
	if !ok {
		return errors.Errorf("unknown record %s", id)
	}
	return p.transitionLocked(r, StatusExecuting)
}

// Complete moves an executing record to completed with the given result.
func (p *Pipeline) Complete(id string, result any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.index[id]
	if !ok {
		return errors.Errorf("unknown record %s", id)
	}
	if err := p.transitionLocked(r, StatusCompleted); err != nil {
		return err
	}
	r.Result = result
	return nil
}

// Fail moves an executing record to the error state.
func (p *Pipeline) Fail(id string, cause error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.index[id]
	if !ok {
		return errors.Errorf("unknown record %s", id)
	}
	if err := p.transitionLocked(r, StatusError); err != nil {
		return err
	}
	r.Err = cause
	return nil
}

// Get returns the record with the given id, nil if absent.
func (p *Pipeline) Get(id string) *Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index[id]
}

// Records returns a snapshot of all records in registration order.
func (p *Pipeline) Records() []*Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Record, len(p.records))
	copy(out, p.records)
	return out
}

// Len returns the number of registered records.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

// IsComplete is true iff every record is terminal. A record in the error
// state counts as terminal and does not block completion; its dependents
// remain permanently pending and show up in Stalled.
func (p *Pipeline) IsComplete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.records {
		if !r.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Stalled returns pending records with at least one dependency in the error
// state. These can never run: the pipeline does not propagate a
// cancelled-due-to-failed-dependency terminal state. Callers that care
// should surface them rather than wait for completion.
func (p *Pipeline) Stalled() []*Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*Record
	for _, r := range p.records {
		if r.Status != StatusPending {
			continue
		}
		for _, d := range r.Dependencies {
			if dep, ok := p.index[d]; ok && dep.Status == StatusError {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// AdvancePhase increments the phase counter, returning ErrPhaseCeiling once
// the round has used up its budget of model exchanges.
func (p *Pipeline) AdvancePhase() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase++
	if p.phase > p.maxPhases {
		return p.phase, errors.Wrapf(ErrPhaseCeiling, "phase %d of %d", p.phase, p.maxPhases)
	}
	return p.phase, nil
}

// Phase returns the current phase number.
func (p *Pipeline) Phase() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// ContextBlocks produces one tool_use block per terminal record, tagged with
// the record id so the model can correlate results with its own requests.
// Error records yield an error payload instead of a result. The snapshot
// covers every terminal record regardless of folding state.
func (p *Pipeline) ContextBlocks() []turns.Block {
	p.mu.Lock()
	defer p.mu.Unlock()

	var blocks []turns.Block
	for _, r := range p.records {
		if b, ok := contextBlock(r); ok {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// TakeContextBlocks returns context blocks for terminal records that have not
// been handed out before, in registration order, and marks them folded. The
// pipeline outlives a single phase, so callers folding results into history
// once per phase use this instead of ContextBlocks to avoid repeating earlier
// phases' results.
func (p *Pipeline) TakeContextBlocks() []turns.Block {
	p.mu.Lock()
	defer p.mu.Unlock()

	var blocks []turns.Block
	for _, r := range p.records {
		if r.folded {
			continue
		}
		if b, ok := contextBlock(r); ok {
			r.folded = true
			blocks = append(blocks, b)
		}
	}
	return blocks
}

func contextBlock(r *Record) (turns.Block, bool) {
	switch r.Status {
	case StatusCompleted:
		return turns.NewToolUseBlock(r.ID, serializeResult(r.Result)), true
	case StatusError:
		return turns.NewToolErrorBlock(r.ID, r.Err.Error()), true
	default:
		return turns.Block{}, false
	}
}

func serializeResult(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}
