package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPortPoolValidation(t *testing.T) {
	tests := []struct {
		name    string
		base    int
		wantErr bool
	}{
		{"по умолчанию", DefaultPortBase, false},
		{"ноль", 0, true},
		{"нечетный", 30001, true},
		{"за пределами", MaxPort, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPortPool(tt.base)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPortPoolAllocate(t *testing.T) {
	pool, err := NewPortPool(DefaultPortBase)
	require.NoError(t, err)

	p1, err := pool.Allocate()
	require.NoError(t, err)
	p2, err := pool.Allocate()
	require.NoError(t, err)

	assert.Equal(t, DefaultPortBase, p1)
	assert.Equal(t, DefaultPortBase+2, p2)
	assert.Equal(t, 2, pool.InUse())

	pool.Release(p1)
	assert.Equal(t, 1, pool.InUse())

	p3, err := pool.Allocate()
	require.NoError(t, err)
	assert.Equal(t, DefaultPortBase+4, p3, "пул продвигается дальше, а не возвращает освобожденный порт")
}

func TestPortPoolWrapAndExhaustion(t *testing.T) {
	base := MaxPort - 7 // пары 65528, 65530, 65532, 65534
	pool, err := NewPortPool(base)
	require.NoError(t, err)
	require.Equal(t, 4, pool.Capacity())

	var ports []int
	for i := 0; i < pool.Capacity(); i++ {
		p, err := pool.Allocate()
		require.NoError(t, err)
		assert.Equal(t, 0, p%2)
		assert.LessOrEqual(t, p+1, MaxPort)
		ports = append(ports, p)
	}
	assert.Equal(t, []int{65528, 65530, 65532, 65534}, ports)

	_, err = pool.Allocate()
	assert.Error(t, err, "все пары заняты")

	pool.Release(65530)
	p, err := pool.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 65530, p)
}
