package expressions

import "sync"

// compileCache memoizes compiled expression programs by source text.
// Safe for concurrent use.
type compileCache[T any] struct {
	mu       sync.RWMutex
	compiled map[string]T
}

func newCompileCache[T any]() *compileCache[T] {
	return &compileCache[T]{compiled: make(map[string]T)}
}

// get returns the cached program for expression, compiling and storing it
// on first use. Compile errors are not cached.
func (c *compileCache[T]) get(expression string, compile func() (T, error)) (T, error) {
	c.mu.RLock()
	prg, ok := c.compiled[expression]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prg, ok := c.compiled[expression]; ok {
		return prg, nil
	}

	prg, err := compile()
	if err != nil {
		var zero T
		return zero, err
	}
	c.compiled[expression] = prg
	return prg, nil
}
