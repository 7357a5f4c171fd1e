// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package threadpool

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

// Pool is the bounded worker pool shared by the steps of a job.
type Pool struct {
	_pool *ants.Pool
}

func New(size int) (*Pool, error) {
	if size <= 0 {
		size = 64
	}
	p, err := ants.NewPool(size, ants.WithPanicHandler(func(v any) {
		util.Error("worker panic escaped the task boundary", zap.Any("panic", v))
	}))
	if err != nil {
		return nil, errors.Wrap(err, "create worker pool")
	}
	return &Pool{_pool: p}, nil
}

// Task is one unit submitted to the pool.
type Task struct {
	_name      string
	_done      chan struct{}
	_err       error
	_submitted bool
}

func (task *Task) Name() string {
	return task._name
}

// Submitted is false when the pool refused the task. fn never ran then.
func (task *Task) Submitted() bool {
	return task._submitted
}

// Wait blocks until the task returns and reports its error.
func (task *Task) Wait() error {
	<-task._done
	return task._err
}

// Invoke runs fn on a pool worker. A panic inside fn is turned into the
// task error.
func (p *Pool) Invoke(name string, fn func() error) *Task {
	task := &Task{_name: name, _done: make(chan struct{})}
	run := func() {
		defer close(task._done)
		defer func() {
			if r := recover(); r != nil {
				task._err = errors.NewAssertionErrorWithWrappedErrf(
					util.ConvertPanicError(r), "task %s panicked", name)
				util.Error("task panicked",
					zap.String("task", name),
					util.GoID(),
					zap.Error(task._err))
			}
		}()
		task._err = fn()
	}
	if err := p._pool.Submit(run); err != nil {
		task._err = errors.Wrapf(err, "submit task %s", name)
		close(task._done)
		return task
	}
	task._submitted = true
	return task
}

// Join waits for every task and returns the first error.
func Join(tasks ...*Task) error {
	var first error
	for _, task := range tasks {
		if task == nil {
			continue
		}
		if err := task.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Headroom is the number of idle workers.
func (p *Pool) Headroom() int {
	return p._pool.Free()
}

func (p *Pool) Running() int {
	return p._pool.Running()
}

func (p *Pool) Cap() int {
	return p._pool.Cap()
}

func (p *Pool) Release() {
	if err := p._pool.ReleaseTimeout(3 * time.Second); err != nil {
		util.Warn("release worker pool", zap.Error(err))
	}
}
