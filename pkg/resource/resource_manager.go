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

package resource

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

// ResourceManager is the process wide memory accountant. The counter is
// only ever moved with compare and swap so it never exceeds the limit.
type ResourceManager struct {
	_limit           int64
	_used            atomic.Int64
	_patienceTimeout time.Duration
	_patienceRetry   time.Duration

	_usedGauge  prometheus.Gauge
	_limitGauge prometheus.Gauge
	_failures   prometheus.Counter
}

// NewResourceManager registers its metrics on reg when reg is not nil.
func NewResourceManager(opts util.MemoryOptions, reg prometheus.Registerer) *ResourceManager {
	factory := promauto.With(reg)
	rm := &ResourceManager{
		_limit:           opts.TotalLimit,
		_patienceTimeout: opts.PatienceTimeout,
		_patienceRetry:   opts.PatienceRetry,
		_usedGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "columnstore_memory_used_bytes",
			Help: "Bytes currently acquired from the memory accountant",
		}),
		_limitGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "columnstore_memory_limit_bytes",
			Help: "Memory accountant limit",
		}),
		_failures: factory.NewCounter(prometheus.CounterOpts{
			Name: "columnstore_memory_acquire_failures_total",
			Help: "Memory acquisitions refused by the accountant",
		}),
	}
	if rm._patienceRetry <= 0 {
		rm._patienceRetry = 10 * time.Millisecond
	}
	rm._limitGauge.Set(float64(rm._limit))
	return rm
}

func (rm *ResourceManager) tryGet(n int64) bool {
	for {
		used := rm._used.Load()
		if used+n > rm._limit {
			return false
		}
		if rm._used.CompareAndSwap(used, used+n) {
			rm._usedGauge.Add(float64(n))
			return true
		}
	}
}

// GetMemory acquires n bytes. With patience it keeps retrying until the
// patience timeout in case concurrent users release memory.
func (rm *ResourceManager) GetMemory(n int64, patience bool) bool {
	util.AssertFunc(n >= 0)
	if rm.tryGet(n) {
		return true
	}
	if patience && rm._patienceTimeout > 0 {
		deadline := time.Now().Add(rm._patienceTimeout)
		for time.Now().Before(deadline) {
			time.Sleep(rm._patienceRetry)
			if rm.tryGet(n) {
				return true
			}
		}
	}
	rm._failures.Inc()
	util.Info("memory acquire refused",
		util.Bytes("request", n),
		util.Bytes("used", rm._used.Load()),
		util.Bytes("limit", rm._limit),
		zap.Bool("patience", patience))
	return false
}

func (rm *ResourceManager) ReturnMemory(n int64) {
	util.AssertFunc(n >= 0)
	left := rm._used.Add(-n)
	util.AssertFunc(left >= 0)
	rm._usedGauge.Sub(float64(n))
}

func (rm *ResourceManager) Used() int64 {
	return rm._used.Load()
}

func (rm *ResourceManager) Available() int64 {
	return rm._limit - rm._used.Load()
}

func (rm *ResourceManager) Limit() int64 {
	return rm._limit
}
