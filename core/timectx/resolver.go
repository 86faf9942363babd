package timectx

import (
	"strings"

	"go.uber.org/zap"

	"example.com/telemetry-time/base/timesys"
)

// KeyFunc derives the stable lookup key for an identifier. The composition
// layer injects it; an empty result means the object cannot key an override.
type KeyFunc func(timesys.Identifier) string

// DefaultKey keys objects by the identifier's canonical string form.
func DefaultKey(id timesys.Identifier) string {
	return id.String()
}

// fingerprint normalizes an object path to a comparable string. Staleness is
// a path-string comparison, not an identity one, since path elements may be
// reconstructed between resolves with the same logical identifiers.
func fingerprint(keyFn KeyFunc, path []timesys.Identifier) string {
	keys := make([]string, len(path))
	for i, id := range path {
		keys[i] = keyFn(id)
	}
	return strings.Join(keys, "/")
}

// ContextForView resolves the time context a view should bind to. The path
// is the view's object chain, the view's own object first; its first element
// keys the lookup.
//
// An empty path fails with ErrInvalidPath. When the first element yields no
// key, or no independent context is registered under it, the global context
// is returned. A registered context is returned as is while its stored path
// fingerprint matches the supplied path, so resolving a stable path twice
// yields the same instance. On a mismatch the same key now names a different
// logical location: the stale context is silenced, a fresh following context
// replaces it under the new fingerprint, and later mutations tied to the
// replacement never reach the stale instance's listeners. A context created
// through the override protocol has no fingerprint until its first resolve
// adopts one, so establishing an override and then resolving the object does
// not discard it.
func (g *GlobalContext) ContextForView(path []timesys.Identifier) (TimeContext, error) {
	if len(path) == 0 {
		return nil, ErrInvalidPath
	}
	key := g.keyFn(path[0])
	if key == "" {
		return g, nil
	}
	g.indMu.Lock()
	e, ok := g.independents[key]
	if !ok {
		g.indMu.Unlock()
		return g, nil
	}
	fp := fingerprint(g.keyFn, path)
	if !e.hasPath {
		e.path = fp
		e.hasPath = true
		ic := e.ctx
		g.indMu.Unlock()
		return ic, nil
	}
	if e.path == fp {
		ic := e.ctx
		g.indMu.Unlock()
		return ic, nil
	}
	stale := e.ctx
	fresh := newIndependentContext(g, key)
	g.independents[key] = &indEntry{ctx: fresh, path: fp, hasPath: true}
	g.indMu.Unlock()
	stale.retire()
	g.log.Debug("replaced stale context",
		zap.String("object", key),
		zap.String("path", fp))
	return fresh, nil
}
