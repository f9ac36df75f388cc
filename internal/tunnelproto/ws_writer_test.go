package tunnelproto

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWSWritePumpPrioritizesControlWrites(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})

	var mu sync.Mutex
	order := make([]string, 0, 3)

	pump := newWSWritePumpWithWriter(func(req wsWriteRequest) error {
		label := req.msg.Kind
		if label == "low-1" || label == "low-2" {
			if label == "low-1" {
				close(started)
				<-release
			}
		}
		mu.Lock()
		order = append(order, label)
		mu.Unlock()
		return nil
	}, func() {}, 4, 4)
	defer pump.Close()

	errCh := make(chan error, 3)
	go func() {
		errCh <- pump.WriteData(Message{Kind: "low-1"})
	}()

	<-started

	lowReq := wsWriteRequest{msg: Message{Kind: "low-2"}, done: make(chan error, 1)}
	highReq := wsWriteRequest{msg: Message{Kind: KindPing}, done: make(chan error, 1)}
	pump.low <- lowReq
	pump.high <- highReq

	go func() { errCh <- <-lowReq.done }()
	go func() { errCh <- <-highReq.done }()

	close(release)

	for i := 0; i < 3; i++ {
		require.NoError(t, <-errCh)
	}

	mu.Lock()
	got := append([]string(nil), order...)
	mu.Unlock()

	assert.Equal(t, []string{"low-1", KindPing, "low-2"}, got)
}

func TestWSWritePumpCloseRejectsNewWrites(t *testing.T) {
	t.Parallel()

	pump := newWSWritePumpWithWriter(func(req wsWriteRequest) error { return nil }, func() {}, 1, 1)
	pump.Close()

	err := pump.WriteJSON(Message{Kind: KindPing})
	assert.ErrorIs(t, err, ErrWSWritePumpClosed)
}
