package util

import (
	"sync"
	"sync/atomic"
)

// Fault points fail a code path on demand in tests. Nothing fires until
// the scope is opened.

const (
	FAULTS_COUNT     int = 16
	FAULTS_SCOPE_JOB int = 0
)

type FaultAction struct {
	Args   []string
	Action func([]string) error
	// Times bounds how often Action fires. 0 is no bound.
	Times int64
	_hits atomic.Int64
}

type faultScope struct {
	_enable atomic.Bool
	_points sync.Map
}

var faultScopes [FAULTS_COUNT]faultScope

func scopeOf(scope int) *faultScope {
	if scope < 0 || scope >= FAULTS_COUNT {
		return nil
	}
	return &faultScopes[scope]
}

func Open(scope int) {
	if fs := scopeOf(scope); fs != nil {
		fs._enable.Store(true)
	}
}

// Close disables the scope and forgets its points.
func Close(scope int) {
	if fs := scopeOf(scope); fs != nil {
		fs._enable.Store(false)
		fs._points.Clear()
	}
}

// Register arms faultName in an open scope.
func Register(scope int, faultName string, args []string, action func([]string) error) {
	RegisterN(scope, faultName, 0, args, action)
}

// RegisterN arms faultName to fire at most times times.
func RegisterN(scope int, faultName string, times int64, args []string, action func([]string) error) {
	fs := scopeOf(scope)
	if fs == nil || !fs._enable.Load() {
		return
	}
	fs._points.Store(faultName, &FaultAction{Args: args, Action: action, Times: times})
}

func Check(scope int, faultName string) *FaultAction {
	fs := scopeOf(scope)
	if fs == nil || !fs._enable.Load() {
		return nil
	}
	val, ok := fs._points.Load(faultName)
	if !ok {
		return nil
	}
	return val.(*FaultAction)
}

// Inject runs the action armed at faultName, if any.
func Inject(scope int, faultName string) error {
	act := Check(scope, faultName)
	if act == nil || act.Action == nil {
		return nil
	}
	hits := act._hits.Add(1)
	if act.Times > 0 && hits > act.Times {
		return nil
	}
	return act.Action(act.Args)
}

// Hits counts the passes through faultName since it was armed.
func Hits(scope int, faultName string) int64 {
	if act := Check(scope, faultName); act != nil {
		return act._hits.Load()
	}
	return 0
}
