package connection_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/voxgate/internal/connection"
	"github.com/MrWong99/voxgate/pkg/types"
)

// fakeHandle records enqueued bursts.
type fakeHandle struct {
	id string

	mu     sync.Mutex
	bursts [][]connection.Frame
	closed bool
	done   chan struct{}
}

func newFakeHandle(id string) *fakeHandle {
	return &fakeHandle{id: id, done: make(chan struct{})}
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Enqueue(_ context.Context, burst []connection.Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return connection.ErrClosed
	}
	h.bursts = append(h.bursts, burst)
	return nil
}

func (h *fakeHandle) Close(string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.done)
	}
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Bursts() [][]connection.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bursts
}

func TestConnect_ReplacesPrevious(t *testing.T) {
	t.Parallel()
	r := connection.NewRegistry(types.DefaultVoices, 0)
	a, b := newFakeHandle("a"), newFakeHandle("b")

	if prev := r.Connect("c1", a); prev != nil {
		t.Fatalf("first connect returned previous %v", prev)
	}
	prev := r.Connect("c1", b)
	if prev != a {
		t.Fatalf("second connect returned %v, want first handle", prev)
	}
	if h, _ := r.Handle("c1"); h != b {
		t.Error("registered handle should be the replacement")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRelease_OnlyCurrentHandle(t *testing.T) {
	t.Parallel()
	r := connection.NewRegistry(types.DefaultVoices, 0)
	a, b := newFakeHandle("a"), newFakeHandle("b")

	r.Connect("c1", a)
	r.Connect("c1", b)

	if r.Release("c1", a) {
		t.Error("releasing a replaced handle must not unregister the successor")
	}
	if !r.IsRegistered("c1") {
		t.Fatal("successor should still be registered")
	}
	if !r.Release("c1", b) {
		t.Error("releasing the current handle should succeed")
	}
	if r.IsRegistered("c1") {
		t.Error("client should be unregistered")
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	t.Parallel()
	r := connection.NewRegistry(types.DefaultVoices, 0)
	r.Connect("c1", newFakeHandle("a"))
	r.Disconnect("c1")
	r.Disconnect("c1")
	r.Disconnect("never")
	if r.IsRegistered("c1") {
		t.Error("c1 should be gone")
	}
}

func TestVoiceCache(t *testing.T) {
	t.Parallel()
	r := connection.NewRegistry(types.DefaultVoices, 0)

	if got := r.GetVoice("c1"); got != types.VoiceChelsie {
		t.Errorf("absent voice = %q, want default", got)
	}
	if r.SetVoice("c1", types.VoiceEthan) {
		t.Error("SetVoice on absent client should report false")
	}

	r.Connect("c1", newFakeHandle("a"))
	if got := r.GetVoice("c1"); got != types.VoiceChelsie {
		t.Errorf("initial voice = %q, want default", got)
	}
	r.SetVoice("c1", types.VoiceEthan)
	if got := r.GetVoice("c1"); got != types.VoiceEthan {
		t.Errorf("voice = %q, want Ethan", got)
	}
	r.SetVoice("c1", "Robot")
	if got := r.GetVoice("c1"); got != types.VoiceChelsie {
		t.Errorf("invalid voice = %q, want default", got)
	}

	// Reconnecting resets the cache.
	r.SetVoice("c1", types.VoiceEthan)
	r.Connect("c1", newFakeHandle("b"))
	if got := r.GetVoice("c1"); got != types.VoiceChelsie {
		t.Errorf("voice after reconnect = %q, want default", got)
	}
}

func TestSendOrdered(t *testing.T) {
	t.Parallel()
	r := connection.NewRegistry(types.DefaultVoices, 0)
	h := newFakeHandle("a")
	r.Connect("c1", h)

	start, _ := connection.JSON(map[string]string{"type": "ai_speak_start"})
	end, _ := connection.JSON(map[string]string{"type": "ai_speak_end"})
	if err := r.SendOrdered(context.Background(), "c1", start, connection.Binary([]byte{1, 2}), end); err != nil {
		t.Fatalf("SendOrdered: %v", err)
	}

	bursts := h.Bursts()
	if len(bursts) != 1 || len(bursts[0]) != 3 {
		t.Fatalf("bursts = %v", bursts)
	}
	if bursts[0][0].Binary || !bursts[0][1].Binary || bursts[0][2].Binary {
		t.Error("frame kinds out of order")
	}
	if string(bursts[0][0].Data) != `{"type":"ai_speak_start"}` {
		t.Errorf("first frame = %s", bursts[0][0].Data)
	}
}

func TestSendOrdered_Failures(t *testing.T) {
	t.Parallel()
	r := connection.NewRegistry(types.DefaultVoices, 0)

	err := r.SendOrdered(context.Background(), "ghost", connection.Binary(nil))
	if !errors.Is(err, connection.ErrNotConnected) {
		t.Errorf("absent: err = %v, want ErrNotConnected", err)
	}

	h := newFakeHandle("a")
	r.Connect("c1", h)
	h.Close("bye")
	err = r.SendOrdered(context.Background(), "c1", connection.Binary(nil))
	if !errors.Is(err, connection.ErrClosed) {
		t.Errorf("closed: err = %v, want ErrClosed", err)
	}
}

func TestJSON_Error(t *testing.T) {
	t.Parallel()
	if _, err := connection.JSON(make(chan int)); err == nil {
		t.Error("expected encode error for channel value")
	}
}
