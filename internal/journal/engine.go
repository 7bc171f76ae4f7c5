// Package journal records session lifecycle and tool outcomes as Mangle facts.
package journal

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"browserpilot-mcp-server/internal/config"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

//go:embed registry.mg
var builtinRules []byte

// Predicates emitted by the registry and dispatcher.
const (
	PredSessionLaunched = "session_launched"
	PredPageOpened      = "page_opened"
	PredSessionClosed   = "session_closed"
	PredToolCall        = "tool_call"
)

// ErrNotReady is returned by Query when no program was loaded.
var ErrNotReady = errors.New("journal not ready")

// Fact is one journal entry. Args[0] is always the session id.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// QueryResult binds query variables to fact values.
type QueryResult map[string]interface{}

// Engine keeps a bounded fact buffer and a Mangle store evaluated against
// the built-in rules plus an optional project rule file.
type Engine struct {
	cfg config.JournalConfig

	mu          sync.RWMutex
	programInfo *analysis.ProgramInfo
	store       factstore.FactStore
	facts       []Fact
	index       map[string][]int
}

// NewEngine builds an engine. A disabled engine accepts and drops every fact.
func NewEngine(cfg config.JournalConfig) (*Engine, error) {
	e := &Engine{
		cfg:   cfg,
		store: factstore.NewSimpleInMemoryStore(),
		facts: make([]Fact, 0, cfg.FactBufferLimit),
		index: make(map[string][]int),
	}
	if !cfg.Enable {
		return e, nil
	}

	var src bytes.Buffer
	if !cfg.DisableBuiltin {
		src.Write(builtinRules)
		src.WriteByte('\n')
	}
	if cfg.SchemaPath != "" {
		extra, err := os.ReadFile(cfg.SchemaPath)
		if err != nil {
			return nil, fmt.Errorf("read schema: %w", err)
		}
		src.Write(extra)
	}
	if src.Len() == 0 {
		return e, nil
	}
	if err := e.load(src.Bytes()); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) load(source []byte) error {
	unit, err := parse.Unit(bytes.NewReader(source))
	if err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return fmt.Errorf("analyze schema: %w", err)
	}
	e.mu.Lock()
	e.programInfo = info
	e.mu.Unlock()
	return nil
}

// Ready reports whether rules are loaded and queries can run.
func (e *Engine) Ready() bool {
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.programInfo != nil
}

// AddFacts appends facts to the ring buffer and the Mangle store, then
// re-evaluates the program so derived predicates stay current. When the
// buffer trims, the store is rebuilt from the retained facts so it stays
// bounded by FactBufferLimit too.
func (e *Engine) AddFacts(_ context.Context, facts []Fact) error {
	if e == nil || !e.cfg.Enable || len(facts) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.facts = append(e.facts, facts...)
	if limit := e.cfg.FactBufferLimit; limit > 0 && len(e.facts) > limit {
		e.facts = append(e.facts[:0:0], e.facts[len(e.facts)-limit:]...)
		e.rebuildIndex()
		e.store = factstore.NewSimpleInMemoryStore()
		for _, f := range e.facts {
			e.store.Add(e.factToAtom(f))
		}
	} else {
		base := len(e.facts) - len(facts)
		for i, f := range facts {
			e.index[f.Predicate] = append(e.index[f.Predicate], base+i)
			e.store.Add(e.factToAtom(f))
		}
	}

	if e.programInfo != nil {
		if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
			return fmt.Errorf("eval program: %w", err)
		}
	}
	return nil
}

// Query runs a single-atom Mangle query such as `session_page(S, P)` and
// returns the variable bindings of every matching fact, base or derived.
func (e *Engine) Query(_ context.Context, query string) ([]QueryResult, error) {
	if !e.Ready() {
		return nil, ErrNotReady
	}

	unit, err := parse.Unit(bytes.NewReader([]byte(query)))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(unit.Clauses) == 0 {
		return nil, errors.New("no query found")
	}
	atom := unit.Clauses[0].Head

	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]QueryResult, 0)
	err = e.store.GetFacts(atom, func(found ast.Atom) error {
		row := make(QueryResult)
		for i, arg := range atom.Args {
			if i >= len(found.Args) {
				break
			}
			if v, ok := arg.(ast.Variable); ok && v.Symbol != "_" {
				row[v.Symbol] = convertConstant(found.Args[i])
			}
		}
		results = append(results, row)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	return results, nil
}

// FactsByPredicate returns buffered base facts for one predicate, oldest first.
func (e *Engine) FactsByPredicate(predicate string) []Fact {
	if e == nil {
		return []Fact{}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	indices := e.index[predicate]
	out := make([]Fact, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < len(e.facts) {
			out = append(out, e.facts[idx])
		}
	}
	return out
}

// Facts returns a copy of the buffer.
func (e *Engine) Facts() []Fact {
	if e == nil {
		return []Fact{}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Fact, len(e.facts))
	copy(out, e.facts)
	return out
}

// SessionFacts returns up to limit of the newest facts for a session,
// optionally filtered by predicate, in chronological order.
func (e *Engine) SessionFacts(sessionID, predicate string, limit int) []Fact {
	if sessionID == "" || limit <= 0 {
		return []Fact{}
	}
	var source []Fact
	if predicate != "" {
		source = e.FactsByPredicate(predicate)
	} else {
		source = e.Facts()
	}

	out := make([]Fact, 0, min(limit, len(source)))
	for i := len(source) - 1; i >= 0 && len(out) < limit; i-- {
		f := source[i]
		if len(f.Args) == 0 || fmt.Sprintf("%v", f.Args[0]) != sessionID {
			continue
		}
		out = append(out, f)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// IsDerived reports whether predicate is the head of a loaded rule.
func (e *Engine) IsDerived(predicate string) bool {
	if !e.Ready() {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.derivedSymLocked(predicate)
	return ok
}

// DerivedSessionFacts evaluates a rule-derived predicate with its first
// argument bound to sessionID. Derived facts carry no timestamp.
func (e *Engine) DerivedSessionFacts(sessionID, predicate string, limit int) ([]Fact, error) {
	if !e.Ready() {
		return nil, ErrNotReady
	}
	if sessionID == "" || limit <= 0 {
		return []Fact{}, nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	sym, ok := e.derivedSymLocked(predicate)
	if !ok {
		return nil, fmt.Errorf("%s is not a derived predicate", predicate)
	}
	if sym.Arity == 0 {
		return []Fact{}, nil
	}
	args := make([]ast.BaseTerm, sym.Arity)
	args[0] = ast.String(sessionID)
	for i := 1; i < sym.Arity; i++ {
		args[i] = ast.Variable{Symbol: fmt.Sprintf("X%d", i)}
	}

	out := make([]Fact, 0)
	err := e.store.GetFacts(ast.Atom{Predicate: sym, Args: args}, func(found ast.Atom) error {
		if len(out) >= limit {
			return nil
		}
		vals := make([]interface{}, len(found.Args))
		for i, a := range found.Args {
			vals[i] = convertConstant(a)
		}
		out = append(out, Fact{Predicate: predicate, Args: vals})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", predicate, err)
	}
	return out, nil
}

func (e *Engine) derivedSymLocked(predicate string) (ast.PredicateSym, bool) {
	for sym := range e.programInfo.IdbPredicates {
		if sym.Symbol == predicate {
			return sym, true
		}
	}
	return ast.PredicateSym{}, false
}

func (e *Engine) rebuildIndex() {
	e.index = make(map[string][]int)
	for i, f := range e.facts {
		e.index[f.Predicate] = append(e.index[f.Predicate], i)
	}
}

func (e *Engine) factToAtom(f Fact) ast.Atom {
	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = toConstant(arg)
	}
	return ast.Atom{
		Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)},
		Args:      args,
	}
}

func toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func convertConstant(t ast.BaseTerm) interface{} {
	c, ok := t.(ast.Constant)
	if !ok {
		return fmt.Sprintf("%v", t)
	}
	switch c.Type {
	case ast.StringType:
		if s, err := c.StringValue(); err == nil {
			return s
		}
	case ast.NumberType:
		if n, err := c.NumberValue(); err == nil {
			return n
		}
	case ast.Float64Type:
		if f, err := c.Float64Value(); err == nil {
			return f
		}
	}
	return c.String()
}
