package driver

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	lru "github.com/hashicorp/golang-lru"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/bcverify/bytecode"
	"github.com/chazu/bcverify/verifier"
)

// ErrNoConvergence is returned when backward branches keep widening the
// saved state after the configured number of passes.
var ErrNoConvergence = errors.New("verification did not converge")

var log = commonlog.GetLogger("bcverify.driver")

// Options tunes a Verifier. Zero values select the defaults.
type Options struct {
	MaxPasses  int  // passes over one method before giving up
	Workers    int  // methods of a unit verified concurrently
	CacheSize  int  // accepted methods remembered by content hash; negative disables
	RejectUnit bool // stop a unit at its first rejected method
	Store      Store
}

// Store remembers accepted methods across runs. Lookups that fail are
// treated as misses.
type Store interface {
	Lookup(key [32]byte) (passes int, ok bool, err error)
	Record(key [32]byte, passes int) error
}

const (
	DefaultMaxPasses = 16
	DefaultCacheSize = 1024
)

func (o Options) withDefaults() Options {
	if o.MaxPasses <= 0 {
		o.MaxPasses = DefaultMaxPasses
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.CacheSize == 0 {
		o.CacheSize = DefaultCacheSize
	}
	return o
}

// Verifier drives frames over method bodies. It is safe for concurrent use.
type Verifier struct {
	opts  Options
	cache *lru.Cache // [32]byte -> passes
}

// New creates a Verifier.
func New(opts Options) (*Verifier, error) {
	v := &Verifier{opts: opts.withDefaults()}
	if v.opts.CacheSize > 0 {
		cache, err := lru.New(v.opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create method cache: %w", err)
		}
		v.cache = cache
	}
	return v, nil
}

// Options returns the effective options.
func (v *Verifier) Options() Options {
	return v.opts
}

// Result describes the verification of one method.
type Result struct {
	Method string
	Passes int   // passes run; 0 when served from the cache
	Cached bool  // accepted earlier with identical content
	Err    error // nil when accepted
}

// Accepted reports whether the method passed verification.
func (r Result) Accepted() bool {
	return r.Err == nil
}

// ---------------------------------------------------------------------------
// Single methods
// ---------------------------------------------------------------------------

// VerifyMethod verifies one method. The returned error is the rejection
// reason, wrapped with the method name; it is also recorded in the result.
func (v *Verifier) VerifyMethod(m *Method) (Result, error) {
	res := Result{Method: m.Name}

	var key [32]byte
	if v.cache != nil || v.opts.Store != nil {
		var err error
		if key, err = Hash(m); err != nil {
			res.Err = fmt.Errorf("%s: %w", m.Name, err)
			return res, res.Err
		}
		if v.lookup(key) {
			log.Debugf("method %s served from cache", m.Name)
			res.Cached = true
			return res, nil
		}
	}

	_, passes, err := v.run(m)
	res.Passes = passes
	if err != nil {
		res.Err = fmt.Errorf("%s: %w", m.Name, err)
		log.Info("method rejected", "method", m.Name, "passes", passes, "error", err)
		return res, res.Err
	}

	v.remember(key, passes)
	log.Debug("method accepted", "method", m.Name, "passes", passes)
	return res, nil
}

func (v *Verifier) lookup(key [32]byte) bool {
	if v.cache != nil {
		if _, ok := v.cache.Get(key); ok {
			return true
		}
	}
	if v.opts.Store == nil {
		return false
	}
	passes, ok, err := v.opts.Store.Lookup(key)
	if err != nil {
		log.Warningf("verdict store lookup: %s", err)
		return false
	}
	if ok && v.cache != nil {
		v.cache.Add(key, passes)
	}
	return ok
}

func (v *Verifier) remember(key [32]byte, passes int) {
	if v.cache != nil {
		v.cache.Add(key, passes)
	}
	if v.opts.Store != nil {
		if err := v.opts.Store.Record(key, passes); err != nil {
			log.Warningf("verdict store record: %s", err)
		}
	}
}

// Snapshot verifies a method and returns the state saved by its frame. The
// snapshot is returned even when the method is rejected, showing the state
// up to the failure.
func (v *Verifier) Snapshot(m *Method) (*verifier.Snapshot, error) {
	f, _, err := v.run(m)
	if f == nil {
		return nil, fmt.Errorf("%s: %w", m.Name, err)
	}
	if err != nil {
		return f.Snapshot(), fmt.Errorf("%s: %w", m.Name, err)
	}
	return f.Snapshot(), nil
}

// run performs the bounded fixed-point iteration over one method.
func (v *Verifier) run(m *Method) (*verifier.Frame, int, error) {
	code, err := bytecode.Instructions(m.Code)
	if err != nil {
		addr := 0
		if len(code) > 0 {
			addr = code[len(code)-1].Next
		}
		return nil, 0, structural(addr, "%v", err)
	}

	f := verifier.NewFrame(m.Signature, m.Handlers)
	for pass := 1; pass <= v.opts.MaxPasses; pass++ {
		if pass > 1 {
			f.Begin()
		}
		if err := runPass(f, m, code); err != nil {
			return f, pass, err
		}
		if !f.HasChanged() {
			return f, pass, nil
		}
		log.Debugf("method %s: pass %d widened a loop header", m.Name, pass)
	}
	return f, v.opts.MaxPasses, fmt.Errorf("%w after %d passes", ErrNoConvergence, v.opts.MaxPasses)
}

// ---------------------------------------------------------------------------
// Units
// ---------------------------------------------------------------------------

// Report collects the results of verifying a unit, in method order.
type Report struct {
	Unit    string
	Results []Result
}

// Rejected returns the results of methods that failed verification.
func (r *Report) Rejected() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err != nil && !errors.Is(res.Err, context.Canceled) {
			out = append(out, res)
		}
	}
	return out
}

// VerifyUnit verifies the methods of a unit concurrently, each on its own
// frame. With RejectUnit set the first rejection cancels the remaining
// methods and is returned; otherwise every method is verified and the
// error is nil unless ctx is done.
func (v *Verifier) VerifyUnit(ctx context.Context, u *Unit) (*Report, error) {
	report := &Report{Unit: u.Name, Results: make([]Result, len(u.Methods))}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.opts.Workers)
	for i, m := range u.Methods {
		i, m := i, m
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				report.Results[i] = Result{Method: m.Name, Err: err}
				return err
			}
			res, err := v.VerifyMethod(m)
			report.Results[i] = res
			if err != nil && v.opts.RejectUnit {
				return err
			}
			return nil
		})
	}
	err := g.Wait()

	log.Info("unit verified", "unit", u.Name, "methods", len(u.Methods), "rejected", len(report.Rejected()))
	if err != nil {
		return report, fmt.Errorf("%s: %w", u.Name, err)
	}
	return report, ctx.Err()
}
