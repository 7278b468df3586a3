package policy

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

// EngineOptions control OPA engine construction and runtime behaviour.
type EngineOptions struct {
	// Entrypoint is the decision path (e.g. "commands/admin/allow"). When empty it is
	// derived from the package of the first module plus "/allow".
	Entrypoint string
	// Modules contains the Rego modules that should be loaded into the engine.
	Modules map[string]string
	// CacheMaxEntries bounds the decision cache size (LRU). Zero selects the
	// default size; negative disables caching entirely.
	CacheMaxEntries int
	Logger          *slog.Logger
}

// Engine evaluates ACL decisions using an embedded OPA instance.
type Engine struct {
	moduleOrder   []string
	parsedModules map[string]*ast.Module
	entrypoint    string
	cache         *decisionCache
	logger        *slog.Logger

	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
}

const (
	defaultRule          = "allow"
	defaultCacheCapacity = 1024
)

// NewEngine parses and compiles the modules. Compilation errors surface here rather than
// on the first request.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	if len(opts.Modules) == 0 {
		return nil, errors.New("policy engine requires at least one rego module")
	}

	maxEntries := opts.CacheMaxEntries
	switch {
	case maxEntries == 0:
		maxEntries = defaultCacheCapacity
	case maxEntries < 0:
		maxEntries = 0
	}

	var cache *decisionCache
	if maxEntries > 0 {
		cache = newDecisionCache(maxEntries)
	}

	moduleOrder := make([]string, 0, len(opts.Modules))
	for name := range opts.Modules {
		moduleOrder = append(moduleOrder, name)
	}
	sort.Strings(moduleOrder)

	parsedModules := make(map[string]*ast.Module, len(moduleOrder))
	for _, name := range moduleOrder {
		module, err := ast.ParseModuleWithOpts(name, opts.Modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		parsedModules[name] = module
	}

	entry := strings.Trim(strings.TrimSpace(opts.Entrypoint), "/")
	if entry == "" {
		pkg := strings.TrimPrefix(parsedModules[moduleOrder[0]].Package.Path.String(), "data.")
		entry = strings.ReplaceAll(pkg, ".", "/") + "/" + defaultRule
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := &Engine{
		moduleOrder:   moduleOrder,
		parsedModules: parsedModules,
		entrypoint:    entry,
		cache:         cache,
		logger:        logger,
	}

	if _, err := engine.preparedQuery(ctx); err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}
	return engine, nil
}

// Entrypoint returns the decision path evaluated by the engine.
func (e *Engine) Entrypoint() string {
	return e.entrypoint
}

// Evaluate runs the decision rule. An undefined rule denies.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	cacheKey, shouldCache := e.cacheKey(input)
	if shouldCache {
		if cached, ok := e.cache.Get(cacheKey); ok {
			return cached, nil
		}
	}

	prepared, err := e.preparedQuery(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("prepare query: %w", err)
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(input.document()))
	if err != nil {
		return Decision{}, fmt.Errorf("opa decision: %w", err)
	}

	var decision Decision
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		decision = Decision{Reason: "undefined decision"}
	} else {
		decision, err = parseDecision(results[0].Expressions[0].Value)
		if err != nil {
			return Decision{}, err
		}
	}

	e.logger.Debug("acl evaluated",
		slog.String("entrypoint", e.entrypoint),
		slog.String("command", input.Command),
		slog.Bool("allowed", decision.Allowed),
	)

	if shouldCache {
		e.cache.Add(cacheKey, decision)
	}
	return decision, nil
}

// FlushCache clears all cached decisions. Safe to call concurrently.
func (e *Engine) FlushCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

func (e *Engine) preparedQuery(ctx context.Context) (*rego.PreparedEvalQuery, error) {
	e.mu.RLock()
	if e.prepared != nil {
		defer e.mu.RUnlock()
		return e.prepared, nil
	}
	e.mu.RUnlock()

	opts := make([]func(*rego.Rego), 0, len(e.parsedModules)+1)
	opts = append(opts, rego.Query("data."+strings.ReplaceAll(e.entrypoint, "/", ".")))
	for _, name := range e.moduleOrder {
		opts = append(opts, rego.ParsedModule(e.parsedModules[name]))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prepared == nil {
		e.prepared = &prepared
	}
	return e.prepared, nil
}

func parseDecision(value any) (Decision, error) {
	switch typed := value.(type) {
	case bool:
		return Decision{Allowed: typed}, nil
	case map[string]any:
		allowed, ok := typed["allow"].(bool)
		if !ok {
			return Decision{}, fmt.Errorf("opa decision: allow must be bool, got %T", typed["allow"])
		}
		reason, _ := typed["reason"].(string)
		return Decision{Allowed: allowed, Reason: reason}, nil
	default:
		return Decision{}, fmt.Errorf("opa decision: unexpected result type %T", value)
	}
}

func (e *Engine) cacheKey(input Input) (string, bool) {
	if e.cache == nil || input.DisableCache {
		return "", false
	}

	h := sha256.New()
	writeCacheKeyField(h, e.entrypoint)
	writeCacheKeyField(h, input.Domain)
	writeCacheKeyField(h, input.User)
	writeCacheKeyField(h, input.Server)
	writeCacheKeyField(h, strconv.FormatBool(input.Authenticated))
	writeCacheKeyField(h, input.Command)
	writeCacheKeyField(h, strconv.Itoa(len(input.Args)))
	for _, arg := range input.Args {
		writeCacheKeyField(h, arg)
	}
	return hex.EncodeToString(h.Sum(nil)), true
}

// writeCacheKeyField writes a field to the hash followed by a null delimiter.
func writeCacheKeyField(h hash.Hash, value string) {
	h.Write([]byte(value))
	h.Write([]byte{0})
}

type decisionCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

type cacheItem struct {
	key   string
	value Decision
}

func newDecisionCache(capacity int) *decisionCache {
	return &decisionCache{
		max:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element, capacity),
	}
}

func (c *decisionCache) Get(key string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return Decision{}, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(cacheItem).value, true
}

func (c *decisionCache) Add(key string, value Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value = cacheItem{key: key, value: value}
		c.order.MoveToFront(elem)
		return
	}

	c.entries[key] = c.order.PushFront(cacheItem{key: key, value: value})
	if c.order.Len() <= c.max {
		return
	}

	if tail := c.order.Back(); tail != nil {
		c.order.Remove(tail)
		delete(c.entries, tail.Value.(cacheItem).key)
	}
}

func (c *decisionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *decisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element, c.max)
}
