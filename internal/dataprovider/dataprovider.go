// Package dataprovider hands out rows from tabular data files under several
// distribution policies, including cross-VU exclusivity. One Provider
// instance is keyed by (absolute file path, config) by its caller; the
// provider itself only owns the policy logic once loaded.
package dataprovider

import (
	"context"
	"encoding/csv"
	"errors"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/loadforge/loadforge/internal/testplan"
)

// Outcome tags a dispense result instead of encoding control flow in error
// strings, per the source's "exceptions-for-control-flow" translation.
type Outcome int

const (
	OutcomeRow Outcome = iota
	OutcomeExhaustedVU
	OutcomeExhaustedTest
	OutcomeNoValue
)

// Result is what next/acquire_unique return.
type Result struct {
	Outcome Outcome
	Row     *testplan.DataRow
}

type cursorState struct {
	index int
}

// Provider is a single shared dispenser of rows for one data file config. All
// operations are serialised through mu, matching the "single mutex per
// instance" resource rule.
type Provider struct {
	mu sync.Mutex

	cfg  testplan.DataFileConfig
	rows []map[string]interface{}

	loaded  bool
	loadErr error

	// global/sequential-or-random cursor
	globalCursor int

	// per-VU cursors for scope=local
	localCursors map[int]*cursorState

	// unique-scope bookkeeping
	freePool []int           // indices available for dispense
	locked   map[int]int     // row index -> holding VU
	waiters  []chan struct{} // FIFO wake signals for blocked acquire_unique callers

	exhausted bool
	rng       *rand.Rand
}

// New builds a Provider bound to cfg. The file is not read until first use.
func New(cfg testplan.DataFileConfig) *Provider {
	if cfg.OnExhausted == "" {
		cfg.OnExhausted = testplan.ExhaustedCycle
	}
	if cfg.Order == "" {
		cfg.Order = testplan.OrderSequential
	}
	if cfg.Scope == "" {
		cfg.Scope = testplan.ScopeLocal
	}
	return &Provider{
		cfg:          cfg,
		localCursors: make(map[int]*cursorState),
		locked:       make(map[int]int),
		rng:          rand.New(rand.NewSource(1)),
	}
}

func (p *Provider) ensureLoaded() error {
	if p.loaded {
		return p.loadErr
	}
	p.loaded = true
	rows, err := loadFile(p.cfg)
	if err != nil {
		p.loadErr = err
		return err
	}
	rows = applyFilter(rows, p.cfg.Filter)
	if p.cfg.Shuffle || p.cfg.Order == testplan.OrderRandom {
		p.rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
	}
	p.rows = rows
	if p.cfg.Scope == testplan.ScopeUnique {
		p.freePool = make([]int, len(rows))
		for i := range rows {
			p.freePool[i] = i
		}
	}
	return nil
}

// Next dispenses the next row for vuID under the configured scope/order. For
// scope=unique with on_exhausted=cycle and an empty free pool, it blocks
// until a row is released or ctx is cancelled, rather than busy-waiting.
func (p *Provider) Next(ctx context.Context, vuID int) Result {
	p.mu.Lock()
	if err := p.ensureLoaded(); err != nil || len(p.rows) == 0 {
		p.mu.Unlock()
		return Result{Outcome: OutcomeExhaustedVU}
	}

	switch p.cfg.Scope {
	case testplan.ScopeUnique:
		return p.acquireUnique(ctx, vuID) // unlocks internally, including while blocked
	case testplan.ScopeGlobal:
		res := p.dispenseGlobalLocked()
		p.mu.Unlock()
		return res
	default: // local
		res := p.dispenseLocalLocked(vuID)
		p.mu.Unlock()
		return res
	}
}

// AcquireUnique is an explicit alias of Next for scope=unique callers that
// want to make the exclusivity intent visible at the call site.
func (p *Provider) AcquireUnique(ctx context.Context, vuID int) Result {
	return p.Next(ctx, vuID)
}

func (p *Provider) dispenseLocalLocked(vuID int) Result {
	cs, ok := p.localCursors[vuID]
	if !ok {
		cs = &cursorState{}
		p.localCursors[vuID] = cs
	}
	if cs.index >= len(p.rows) {
		switch p.cfg.OnExhausted {
		case testplan.ExhaustedCycle:
			cs.index = 0
			if p.cfg.Order == testplan.OrderRandom {
				p.rng.Shuffle(len(p.rows), func(i, j int) { p.rows[i], p.rows[j] = p.rows[j], p.rows[i] })
			}
		case testplan.ExhaustedStopVU:
			return Result{Outcome: OutcomeExhaustedVU}
		case testplan.ExhaustedStopTest:
			return Result{Outcome: OutcomeExhaustedTest}
		default:
			return Result{Outcome: OutcomeNoValue}
		}
	}
	row := p.toRow(p.rows[cs.index])
	cs.index++
	return Result{Outcome: OutcomeRow, Row: row}
}

func (p *Provider) dispenseGlobalLocked() Result {
	if p.globalCursor >= len(p.rows) {
		switch p.cfg.OnExhausted {
		case testplan.ExhaustedCycle:
			p.globalCursor = 0
		case testplan.ExhaustedStopVU:
			return Result{Outcome: OutcomeExhaustedVU}
		case testplan.ExhaustedStopTest:
			return Result{Outcome: OutcomeExhaustedTest}
		default:
			return Result{Outcome: OutcomeNoValue}
		}
	}
	row := p.toRow(p.rows[p.globalCursor])
	p.globalCursor++
	return Result{Outcome: OutcomeRow, Row: row}
}

// acquireUnique must be called with mu held, and always returns with mu
// released. stop_vu/stop_test/no_value report exhaustion immediately;
// cycle blocks the caller on a wake channel until Release frees a row or ctx
// is cancelled, then re-checks the pool (another blocked caller may have
// claimed it first).
func (p *Provider) acquireUnique(ctx context.Context, vuID int) Result {
	for {
		if len(p.freePool) > 0 {
			idx := p.freePool[len(p.freePool)-1]
			p.freePool = p.freePool[:len(p.freePool)-1]
			p.locked[idx] = vuID
			row := p.toRowAt(idx)
			p.mu.Unlock()
			return Result{Outcome: OutcomeRow, Row: row}
		}

		switch p.cfg.OnExhausted {
		case testplan.ExhaustedStopVU:
			p.mu.Unlock()
			return Result{Outcome: OutcomeExhaustedVU}
		case testplan.ExhaustedStopTest:
			p.mu.Unlock()
			return Result{Outcome: OutcomeExhaustedTest}
		case testplan.ExhaustedNoValue:
			p.mu.Unlock()
			return Result{Outcome: OutcomeNoValue}
		default: // cycle: wait for a release instead of busy-waiting.
			waiter := make(chan struct{}, 1)
			p.waiters = append(p.waiters, waiter)
			p.mu.Unlock()

			select {
			case <-waiter:
				p.mu.Lock()
			case <-ctx.Done():
				p.mu.Lock()
				for i, w := range p.waiters {
					if w == waiter {
						p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
						break
					}
				}
				p.mu.Unlock()
				return Result{Outcome: OutcomeNoValue}
			}
		}
	}
}

// Release returns a uniquely-held row to the free pool, waking the oldest
// blocked waiter (if any). Safe to call even if row was never held (no-op).
func (p *Provider) Release(vuID int, row *testplan.DataRow) {
	if row == nil {
		return
	}
	p.mu.Lock()
	idx := -1
	for i, holder := range p.locked {
		if holder == vuID && p.rowsEqual(i, row) {
			idx = i
			break
		}
	}
	if idx == -1 {
		p.mu.Unlock()
		return
	}
	delete(p.locked, idx)
	p.freePool = append(p.freePool, idx)
	var waiter chan struct{}
	if len(p.waiters) > 0 {
		waiter = p.waiters[0]
		p.waiters = p.waiters[1:]
	}
	p.mu.Unlock()

	if waiter != nil {
		select {
		case waiter <- struct{}{}:
		default:
		}
	}
}

// Reset clears all cursors and re-fills the free pool, re-shuffling if the
// configured order is random.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.globalCursor = 0
	p.localCursors = make(map[int]*cursorState)
	if p.cfg.Order == testplan.OrderRandom {
		p.rng.Shuffle(len(p.rows), func(i, j int) { p.rows[i], p.rows[j] = p.rows[j], p.rows[i] })
	}
	if p.cfg.Scope == testplan.ScopeUnique {
		p.freePool = make([]int, len(p.rows))
		for i := range p.rows {
			p.freePool[i] = i
		}
		p.locked = make(map[int]int)
	}
}

func (p *Provider) rowsEqual(idx int, row *testplan.DataRow) bool {
	raw := p.rows[idx]
	if len(raw) != len(row.Columns) {
		return false
	}
	for k, v := range raw {
		if row.Columns[k] != v {
			return false
		}
	}
	return true
}

func (p *Provider) toRow(raw map[string]interface{}) *testplan.DataRow {
	cols := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		name := k
		if renamed, ok := p.cfg.Rename[k]; ok {
			name = renamed
		}
		cols[name] = v
	}
	return &testplan.DataRow{Columns: cols, Variables: cols}
}

func (p *Provider) toRowAt(idx int) *testplan.DataRow {
	return p.toRow(p.rows[idx])
}

func loadFile(cfg testplan.DataFileConfig) ([]map[string]interface{}, error) {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	if cfg.Delimiter != "" {
		r.Comma = rune(cfg.Delimiter[0])
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	var header []string
	start := 0
	if cfg.HasHeader {
		header = records[0]
		start = 1
	} else {
		for i := range records[0] {
			header = append(header, "col"+strconv.Itoa(i))
		}
	}

	var rows []map[string]interface{}
	for _, rec := range records[start:] {
		row := make(map[string]interface{})
		for i, col := range header {
			if i >= len(rec) {
				continue
			}
			if len(cfg.Columns) > 0 && !contains(cfg.Columns, col) {
				continue
			}
			row[col] = coerce(rec[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func coerce(s string) interface{} {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

// applyFilter keeps rows matching a "col OP value" expression, OP in
// {=,!=,>,<,>=,<=}. An empty expression keeps all rows.
func applyFilter(rows []map[string]interface{}, expr string) []map[string]interface{} {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return rows
	}
	ops := []string{">=", "<=", "!=", "=", ">", "<"}
	var op, col, val string
	for _, candidate := range ops {
		if idx := strings.Index(expr, candidate); idx >= 0 {
			col = strings.TrimSpace(expr[:idx])
			val = strings.TrimSpace(expr[idx+len(candidate):])
			op = candidate
			break
		}
	}
	if op == "" {
		return rows
	}
	var out []map[string]interface{}
	for _, row := range rows {
		if matchFilter(row[col], op, val) {
			out = append(out, row)
		}
	}
	return out
}

func matchFilter(actual interface{}, op, val string) bool {
	actualStr := strconv.FormatFloat(0, 'f', -1, 64)
	switch a := actual.(type) {
	case string:
		actualStr = a
	case int64:
		actualStr = strconv.FormatInt(a, 10)
	case float64:
		actualStr = strconv.FormatFloat(a, 'f', -1, 64)
	case bool:
		actualStr = strconv.FormatBool(a)
	}

	af, aerr := strconv.ParseFloat(actualStr, 64)
	vf, verr := strconv.ParseFloat(val, 64)
	numeric := aerr == nil && verr == nil

	switch op {
	case "=":
		return actualStr == val
	case "!=":
		return actualStr != val
	case ">":
		return numeric && af > vf
	case "<":
		return numeric && af < vf
	case ">=":
		return numeric && af >= vf
	case "<=":
		return numeric && af <= vf
	default:
		return false
	}
}

// ErrEmptyFile is returned by callers that need to distinguish "no rows" as
// an error rather than immediate exhaustion; Provider itself treats an empty
// file as immediate exhaustion per spec.
var ErrEmptyFile = errors.New("dataprovider: empty data file")
