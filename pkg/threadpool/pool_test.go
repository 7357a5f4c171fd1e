package threadpool

import (
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
)

func TestInvokeJoin(t *testing.T) {
	p, err := New(4)
	require.NoError(t, err)
	defer p.Release()
	assert.Equal(t, 4, p.Cap())

	var cnt atomic.Int32
	tasks := make([]*Task, 0, 16)
	for i := 0; i < 16; i++ {
		tasks = append(tasks, p.Invoke("inc", func() error {
			cnt.Add(1)
			return nil
		}))
	}
	require.NoError(t, Join(tasks...))
	assert.Equal(t, int32(16), cnt.Load())
}

func TestInvokeErrors(t *testing.T) {
	p, err := New(2)
	require.NoError(t, err)
	defer p.Release()

	boom := errors.New("boom")
	t1 := p.Invoke("fail", func() error { return boom })
	t2 := p.Invoke("panic", func() error { panic("bad row") })
	assert.ErrorIs(t, Join(t1), boom)
	err = t2.Wait()
	require.Error(t, err)
	assert.Equal(t, common.ERR_ASSERTION, common.CodeOf(err))
	assert.Equal(t, "panic", t2.Name())
}
