package wsgroup

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(s *Session) [][]byte {
	var got [][]byte
	for {
		select {
		case p, ok := <-s.Outbound():
			if !ok {
				return got
			}
			got = append(got, p)
		default:
			return got
		}
	}
}

func TestJoinPublishLeave(t *testing.T) {
	r := NewRegistry()
	s := NewSession(4)

	r.Join("sector:1", s)
	require.Equal(t, 1, r.Members("sector:1"))

	r.Publish("sector:1", []byte(`{"a":1}`))
	got := drain(s)
	require.Len(t, got, 1)
	assert.Equal(t, `{"a":1}`, string(got[0]))

	r.Leave("sector:1", s)
	assert.Equal(t, 0, r.Members("sector:1"))

	// Channel closed by Leave so the handler unblocks.
	_, ok := <-s.Outbound()
	assert.False(t, ok)
}

func TestGroupsAreIsolated(t *testing.T) {
	r := NewRegistry()
	s1 := NewSession(4)
	s2 := NewSession(4)
	r.Join("sector:1", s1)
	r.Join("sector:2", s2)

	r.Publish("sector:2", []byte("x"))

	assert.Empty(t, drain(s1))
	assert.Len(t, drain(s2), 1)
}

func TestJoinIsIdempotent(t *testing.T) {
	r := NewRegistry()
	s := NewSession(4)
	r.Join("sector:1", s)
	r.Join("sector:1", s)
	require.Equal(t, 1, r.Members("sector:1"))

	r.Publish("sector:1", []byte("x"))
	assert.Len(t, drain(s), 1)
}

func TestSlowSessionDropsOnlyItsOwnFrames(t *testing.T) {
	r := NewRegistry()
	slow := NewSession(1)
	fast := NewSession(8)
	r.Join("sector:1", slow)
	r.Join("sector:1", fast)

	for i := 0; i < 5; i++ {
		r.Publish("sector:1", []byte{byte(i)})
	}

	assert.Len(t, drain(slow), 1, "buffer of one keeps exactly one frame")
	assert.Len(t, drain(fast), 5)
}

func TestLeaveUnknownSessionIsNoop(t *testing.T) {
	r := NewRegistry()
	s := NewSession(4)
	r.Leave("sector:9", s) // never joined
	assert.Equal(t, 0, r.Members("sector:9"))
}

func TestPublishAfterLeaveDoesNotPanic(t *testing.T) {
	r := NewRegistry()
	s := NewSession(1)
	r.Join("sector:1", s)
	r.Leave("sector:1", s)

	assert.NotPanics(t, func() { r.Publish("sector:1", []byte("x")) })
}

func TestEmptyGroupsAreDeleted(t *testing.T) {
	r := NewRegistry()
	s := NewSession(1)
	r.Join("sector:1", s)
	r.Leave("sector:1", s)

	r.mu.RLock()
	_, ok := r.groups["sector:1"]
	r.mu.RUnlock()
	assert.False(t, ok)
}

type countingBridge struct {
	mu    sync.Mutex
	calls int
	group string
}

func (b *countingBridge) Forward(group string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	b.group = group
	return nil
}

func TestPublishForwardsOverBridge(t *testing.T) {
	r := NewRegistry()
	b := &countingBridge{}
	r.SetBridge(b)

	r.Publish("sector:3", []byte("x"))

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, "sector:3", b.group)
}

func TestDeliverLocalSkipsBridge(t *testing.T) {
	r := NewRegistry()
	b := &countingBridge{}
	r.SetBridge(b)
	s := NewSession(4)
	r.Join("sector:1", s)

	r.DeliverLocal("sector:1", []byte("x"))

	assert.Len(t, drain(s), 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, 0, b.calls, "bridge-delivered frames must not loop back")
}

func TestConcurrentJoinPublishLeave(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			group := fmt.Sprintf("sector:%d", i%4)
			s := NewSession(8)
			r.Join(group, s)
			r.Publish(group, []byte("x"))
			r.Leave(group, s)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		assert.Equal(t, 0, r.Members(fmt.Sprintf("sector:%d", i)))
	}
}
