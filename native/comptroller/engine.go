package comptroller

import (
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"lendcore/core/events"
	"lendcore/crypto"
	nativecommon "lendcore/native/common"
	"lendcore/observability/metrics"
	"lendcore/storage"
)

var errNilEngine = errors.New("comptroller: engine not configured")

// Engine is the risk and incentive core. Every entry point, including views,
// runs under one lock against a private journal: it either commits all of its
// writes in a single storage batch or none of them, and its effects are
// emitted only after the batch lands.
type Engine struct {
	mu       sync.Mutex
	db       storage.Database
	self     crypto.Address
	resolver Resolver
	reward   RewardConfig
	emitter  events.Emitter
	pauses   nativecommon.PauseView
	logger   *slog.Logger
	metrics  *metrics.ComptrollerMetrics
	// height is read by effect sinks while mu is held, so it is not
	// guarded by mu.
	height atomic.Uint64
	digest [32]byte
}

// Option customises an Engine at construction.
type Option func(*Engine)

func WithEmitter(emitter events.Emitter) Option {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics overrides the process-wide prometheus collectors. Passing nil
// disables metrics.
func WithMetrics(m *metrics.ComptrollerMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRewardConfig names the incentive token paid out by claims and grants.
func WithRewardConfig(cfg RewardConfig) Option {
	return func(e *Engine) { e.reward = cfg }
}

// WithPauses installs host-level circuit breakers consulted alongside the
// stored pause flags. Switch names are "comptroller", "comptroller/<action>"
// and "comptroller/<action>/<market key>".
func WithPauses(p nativecommon.PauseView) Option {
	return func(e *Engine) { e.pauses = p }
}

// New constructs an engine over db. self is the comptroller's own address,
// which holds the reward-token treasury.
func New(db storage.Database, self crypto.Address, resolver Resolver, opts ...Option) *Engine {
	e := &Engine{
		db:       db,
		self:     self,
		resolver: resolver,
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
		metrics:  metrics.Comptroller(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// SetBlockHeight records the host block height used for reward accrual.
// Heights only move forward; a lower value is ignored.
func (e *Engine) SetBlockHeight(height uint64) {
	if e == nil {
		return
	}
	for {
		current := e.height.Load()
		if height < current {
			e.logger.Warn("ignoring block height regression", "current", current, "proposed", height)
			return
		}
		if e.height.CompareAndSwap(current, height) {
			e.metrics.SetBlockHeight(height)
			return
		}
	}
}

func (e *Engine) BlockHeight() uint64 {
	if e == nil {
		return 0
	}
	return e.height.Load()
}

// Address returns the comptroller's own identity.
func (e *Engine) Address() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.self
}

func (e *Engine) RewardConfig() RewardConfig {
	if e == nil {
		return RewardConfig{}
	}
	return e.reward
}

// LastCommitDigest returns the blake3 digest of the most recent call that
// wrote state.
func (e *Engine) LastCommitDigest() [32]byte {
	if e == nil {
		return [32]byte{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.digest
}

// Initialized reports whether global parameters exist.
func (e *Engine) Initialized() (bool, error) {
	var ok bool
	err := e.run("initialized", false, func(tx *txn) error {
		ok = tx.hasParams()
		return nil
	})
	return ok, err
}

// Initialize seeds the global parameters with admin as the sole authority.
// Every other parameter starts at zero and is set through admin operations.
func (e *Engine) Initialize(admin crypto.Address) error {
	return e.run("initialize", false, func(tx *txn) error {
		return tx.initialize(admin)
	})
}

func (tx *txn) initialize(admin crypto.Address) error {
	if tx.hasParams() {
		return ErrAlreadyInitialized
	}
	if admin.IsZero() {
		return fail(InvalidParameter, "admin required")
	}
	tx.putParams(Params{Admin: admin})
	tx.emit(ParameterChanged{Name: "admin", Current: admin.String()})
	return nil
}

func (e *Engine) execute(op string, fn func(tx *txn) error) error {
	return e.run(op, true, fn)
}

// run is the single call boundary. Fatal aborts raised anywhere below it are
// recovered here and turned into errors; the journal is dropped on any error.
// Reward-token transfers queued by the call run only after the commit.
func (e *Engine) run(op string, requireParams bool, fn func(tx *txn) error) (err error) {
	if e == nil || e.db == nil {
		return errNilEngine
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	tx := newTxn(e)
	defer func() {
		if r := recover(); r != nil {
			cerr, ok := r.(*Error)
			if !ok {
				panic(r)
			}
			err = cerr
			e.logger.Warn("comptroller call aborted",
				slog.String("operation", op),
				slog.String("code", cerr.Code.String()),
				slog.String("reason", cerr.Info),
				slog.Uint64("height", tx.height))
		}
		e.observe(op, err, time.Since(start))
	}()

	if requireParams && !tx.hasParams() {
		return ErrNotInitialized
	}
	if err := fn(tx); err != nil {
		return err
	}
	digest, writes, err := tx.commit()
	if err != nil {
		return &Error{Code: StorageFailure, Fatal: true, Info: err.Error()}
	}
	if writes > 0 {
		e.digest = digest
		e.metrics.ObserveCommit(writes)
		e.logger.Debug("comptroller commit",
			slog.String("operation", op),
			slog.Int("writes", writes),
			slog.String("digest", hex.EncodeToString(digest[:])))
	}
	for _, evt := range tx.effects {
		e.emitter.Emit(evt)
	}
	return e.settlePayouts(op, tx)
}

func (e *Engine) observe(op string, err error, elapsed time.Duration) {
	code := NoError.String()
	fatal := false
	if err != nil {
		var cerr *Error
		if errors.As(err, &cerr) {
			code = cerr.Code.String()
			fatal = cerr.Fatal
		} else {
			code = "internal"
		}
	}
	e.metrics.ObserveCall(op, code, fatal, elapsed)
}
