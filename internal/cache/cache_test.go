package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coregate/gateway/internal/gwtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReq(temp float64) gwtypes.Request {
	return gwtypes.Request{
		LogicalModelID: "openai.gpt-3.5-turbo",
		Messages:       []gwtypes.Message{{Role: gwtypes.RoleUser, Content: "2+2"}},
		Parameters:     gwtypes.Parameters{Temperature: temp},
	}
}

func TestFingerprintIsCanonical(t *testing.T) {
	a := sampleReq(0.0)
	a.Parameters.Stop = []string{"b", "a"}
	b := sampleReq(0.0)
	b.Parameters.Stop = []string{"a", "b"}
	assert.Equal(t, Fingerprint("openai", a), Fingerprint("openai", b))
}

func TestFingerprintIsProviderScoped(t *testing.T) {
	req := sampleReq(0.0)
	assert.NotEqual(t, Fingerprint("openai", req), Fingerprint("anthropic", req))
}

func TestAdmitRejectsStreamingAndHighTemperature(t *testing.T) {
	_, ok := Admit(gwtypes.Request{Stream: true}, gwtypes.Response{})
	assert.False(t, ok)

	_, ok = Admit(gwtypes.Request{Parameters: gwtypes.Parameters{Temperature: 0.5}}, gwtypes.Response{})
	assert.False(t, ok)
}

func TestAdmitTTLLadder(t *testing.T) {
	ttl, ok := Admit(gwtypes.Request{Parameters: gwtypes.Parameters{Temperature: 0.05}}, gwtypes.Response{})
	require.True(t, ok)
	assert.Equal(t, 60*time.Minute, ttl)

	ttl, ok = Admit(gwtypes.Request{Parameters: gwtypes.Parameters{Temperature: 0.2}}, gwtypes.Response{})
	require.True(t, ok)
	assert.Equal(t, 30*time.Minute, ttl)
}

func TestAdmitRejectsToolCalls(t *testing.T) {
	resp := gwtypes.Response{Choices: []gwtypes.Choice{{Message: gwtypes.ChoiceMessage{ToolCalls: []gwtypes.ToolCall{{ID: "1"}}}}}}
	_, ok := Admit(gwtypes.Request{}, resp)
	assert.False(t, ok)
}

func TestGetMissOnExpiredEntry(t *testing.T) {
	c := New(10, time.Hour)
	c.Set("k", gwtypes.Response{ID: "r1"}, -time.Second)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestGetOrFillCoalescesConcurrentCalls(t *testing.T) {
	c := New(10, time.Hour)
	req := sampleReq(0.0)
	key := Fingerprint("openai", req)

	var upstreamCalls int64
	var wg sync.WaitGroup
	results := make([]gwtypes.Response, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, _, err := c.GetOrFill(key, req, func() (gwtypes.Response, error) {
				atomic.AddInt64(&upstreamCalls, 1)
				time.Sleep(10 * time.Millisecond)
				return gwtypes.Response{ID: "single-response"}, nil
			})
			require.NoError(t, err)
			results[i] = resp
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "single-response", r.ID)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&upstreamCalls))
}

func TestGetOrFillSecondCallHitsCache(t *testing.T) {
	c := New(10, time.Hour)
	req := sampleReq(0.0)
	key := Fingerprint("openai", req)
	calls := 0
	fill := func() (gwtypes.Response, error) {
		calls++
		return gwtypes.Response{ID: "r"}, nil
	}
	_, hit1, err := c.GetOrFill(key, req, fill)
	require.NoError(t, err)
	assert.False(t, hit1)
	_, hit2, err := c.GetOrFill(key, req, fill)
	require.NoError(t, err)
	assert.True(t, hit2)
	assert.Equal(t, 1, calls)
}
