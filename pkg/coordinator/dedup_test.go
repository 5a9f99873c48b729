package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedup(t *testing.T) {
	now := time.Unix(1000, 0)
	d := newDedup(10*time.Second, func() time.Time { return now })

	assert.False(t, d.check("a", []byte{1}))
	assert.True(t, d.check("a", []byte{1}))
	assert.False(t, d.check("b", []byte{1}), "adapters are tracked separately")

	d.markAll([]byte{2})
	assert.True(t, d.check("a", []byte{2}))
	assert.True(t, d.check("b", []byte{2}))
	assert.False(t, d.check("c", []byte{2}), "only adapters already known are marked")

	now = now.Add(11 * time.Second)
	assert.Equal(t, 2, d.len("a"))
	d.prune("a")
	assert.Equal(t, 0, d.len("a"))
	assert.False(t, d.check("a", []byte{1}))
}
