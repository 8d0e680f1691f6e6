package bootstrap_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"centralnet/bootstrap"
	"centralnet/metrics"
	"centralnet/protocol"
	"centralnet/signature/testkey"
)

// keyedCodec is fakeCodec's twin for K = testkey.Key, used to exercise the
// bootstrap dialog with the same identity type a real deployment would use
// instead of a bare string.
type keyedCodec struct {
	headers    chan protocol.ToServerHeader[testkey.Key]
	fromServer chan protocol.FromServerHeader[testkey.Key]

	closeOnce sync.Once
	closedCh  chan struct{}
}

func newKeyedCodec() *keyedCodec {
	return &keyedCodec{
		headers:    make(chan protocol.ToServerHeader[testkey.Key], 4),
		fromServer: make(chan protocol.FromServerHeader[testkey.Key], 4),
		closedCh:   make(chan struct{}),
	}
}

func (f *keyedCodec) SendHeader(h protocol.ToServerHeader[testkey.Key]) error {
	select {
	case f.headers <- h:
		return nil
	case <-f.closedCh:
		return fmt.Errorf("codec closed")
	}
}

func (f *keyedCodec) SendPayload([]byte) error { return nil }

func (f *keyedCodec) RecvHeader(ctx context.Context) (protocol.FromServerHeader[testkey.Key], error) {
	select {
	case h := <-f.fromServer:
		return h, nil
	case <-f.closedCh:
		return nil, fmt.Errorf("codec closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *keyedCodec) RecvRaw(context.Context, uint64) ([]byte, error) { return nil, nil }

func (f *keyedCodec) Close() error {
	f.closeOnce.Do(func() { close(f.closedCh) })
	return nil
}

var _ = Describe("ConnectWithConfig with a real key type", func() {
	It("derives a testkey.Key identity from the server's seed and node index", func() {
		codec := newKeyedCodec()
		dial := func(context.Context) (protocol.Codec[testkey.Key], error) { return codec, nil }

		want := protocol.NetworkConfig[testkey.Key]{Seed: 42, NodeIndex: 3}
		go func() {
			<-codec.headers // GetConfig
			codec.fromServer <- protocol.ConfigMsg[testkey.Key]{Config: want}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c, cfg, err := bootstrap.ConnectWithConfig[testkey.Key, string](ctx, dial, testkey.New, metrics.Noop{})
		Expect(err).NotTo(HaveOccurred())
		defer c.Close()

		Expect(cfg.Seed).To(Equal(want.Seed))
		h := <-codec.headers // Identify, sent by the worker right after bootstrap
		id, ok := h.(protocol.Identify[testkey.Key])
		Expect(ok).To(BeTrue())
		Expect(id.Key).To(Equal(testkey.New(want.Seed, want.NodeIndex)))
	})
})
