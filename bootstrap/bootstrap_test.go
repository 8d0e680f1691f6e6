package bootstrap_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"centralnet/bootstrap"
	"centralnet/metrics"
	"centralnet/protocol"
)

// fakeCodec is a minimal in-memory protocol.Codec[string] for exercising
// the bootstrap dialog without a real transport.
type fakeCodec struct {
	headers    chan protocol.ToServerHeader[string]
	fromServer chan protocol.FromServerHeader[string]

	closeOnce sync.Once
	closedCh  chan struct{}
}

func newFakeCodec() *fakeCodec {
	return &fakeCodec{
		headers:    make(chan protocol.ToServerHeader[string], 4),
		fromServer: make(chan protocol.FromServerHeader[string], 4),
		closedCh:   make(chan struct{}),
	}
}

func (f *fakeCodec) SendHeader(h protocol.ToServerHeader[string]) error {
	select {
	case f.headers <- h:
		return nil
	case <-f.closedCh:
		return fmt.Errorf("codec closed")
	}
}

func (f *fakeCodec) SendPayload([]byte) error { return nil }

func (f *fakeCodec) RecvHeader(ctx context.Context) (protocol.FromServerHeader[string], error) {
	select {
	case h := <-f.fromServer:
		return h, nil
	case <-f.closedCh:
		return nil, fmt.Errorf("codec closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeCodec) RecvRaw(context.Context, uint64) ([]byte, error) { return nil, nil }

func (f *fakeCodec) Close() error {
	f.closeOnce.Do(func() { close(f.closedCh) })
	return nil
}

var _ = Describe("ConnectWithConfig", func() {
	deriveKey := func(seed, idx uint64) string { return fmt.Sprintf("key-%d-%d", seed, idx) }

	It("derives the key from the server's config and reuses the dialed connection", func() {
		codec := newFakeCodec()
		var dials int32
		dial := func(context.Context) (protocol.Codec[string], error) {
			atomic.AddInt32(&dials, 1)
			return codec, nil
		}

		want := protocol.NetworkConfig[string]{KnownNodes: []string{"a", "b"}, Seed: 7, NodeIndex: 2}
		go func() {
			h := <-codec.headers // GetConfig
			Expect(h).To(Equal(protocol.GetConfig{}))
			codec.fromServer <- protocol.ConfigMsg[string]{Config: want}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c, cfg, err := bootstrap.ConnectWithConfig[string, string](ctx, dial, deriveKey, metrics.Noop{})
		Expect(err).NotTo(HaveOccurred())
		defer c.Close()

		Expect(cfg).To(Equal(want))
		Expect(c.KnownNodes()).To(Equal(want.KnownNodes))
		Expect(atomic.LoadInt32(&dials)).To(Equal(int32(1)))
	})

	It("retries with backoff when the dial itself fails", func() {
		var attempts int32
		good := newFakeCodec()
		dial := func(context.Context) (protocol.Codec[string], error) {
			n := atomic.AddInt32(&attempts, 1)
			if n == 1 {
				return nil, fmt.Errorf("connection refused")
			}
			return good, nil
		}

		go func() {
			<-good.headers // GetConfig, on the second attempt
			good.fromServer <- protocol.ConfigMsg[string]{Config: protocol.NetworkConfig[string]{Seed: 1, NodeIndex: 1}}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 7*time.Second)
		defer cancel()
		c, _, err := bootstrap.ConnectWithConfig[string, string](ctx, dial, deriveKey, metrics.Noop{})
		Expect(err).NotTo(HaveOccurred())
		defer c.Close()
		Expect(atomic.LoadInt32(&attempts)).To(BeNumerically(">=", 2))
	})
})
