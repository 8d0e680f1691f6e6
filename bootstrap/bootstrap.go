// Package bootstrap implements the dialog a participant runs once, before
// joining the network proper, to fetch its run configuration from the
// coordinating server and derive its own identity from it (spec.md
// section 4.4).
package bootstrap

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"

	"centralnet/client"
	"centralnet/cmn/nlog"
	"centralnet/metrics"
	"centralnet/protocol"
)

// retryDelay mirrors the worker's own reconnect backoff (spec.md section
// 4.1): the bootstrap dialog retries on the same cadence.
const retryDelay = 5 * time.Second

// KeyDeriver derives a participant's identity deterministically from the
// seed and node index the server hands back. The derivation algorithm
// itself is out of scope (spec.md section 1); the dialog only guarantees
// it is called exactly once, with the values straight off the wire.
type KeyDeriver[K comparable] func(seed, nodeIndex uint64) K

// ConnectWithConfig dials dial, asks for the run configuration, and keeps
// retrying every retryDelay until it gets one back or ctx is canceled. On
// success it derives this participant's key and hands the already-open
// connection to client.Connect, so the worker's first connection attempt
// doesn't have to dial again.
func ConnectWithConfig[K comparable, M any](
	ctx context.Context,
	dial protocol.ConnFactory[K],
	deriveKey KeyDeriver[K],
	sink metrics.Sink,
) (*client.Client[K, M], protocol.NetworkConfig[K], error) {
	for {
		codec, cfg, err := attempt[K](ctx, dial)
		if err == nil {
			key := deriveKey(cfg.Seed, cfg.NodeIndex)
			c := client.Connect[K, M](ctx, client.Options[K]{
				OwnKey:      key,
				KnownNodes:  cfg.KnownNodes,
				ConnFactory: dial,
				InitialConn: codec,
				Metrics:     sink,
			})
			return c, cfg, nil
		}

		nlog.Warningf("centralnet: bootstrap attempt failed: %v", err)
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return nil, protocol.NetworkConfig[K]{}, ctx.Err()
		}
	}
}

// attempt makes exactly one dial-GetConfig-await-Config round trip. The
// returned codec is left open on success (handed to the worker); it is
// always closed before returning on failure.
func attempt[K comparable](ctx context.Context, dial protocol.ConnFactory[K]) (protocol.Codec[K], protocol.NetworkConfig[K], error) {
	var zeroCfg protocol.NetworkConfig[K]

	codec, err := dial(ctx)
	if err != nil {
		return nil, zeroCfg, pkgerrors.Wrap(err, "dial")
	}

	if err := codec.SendHeader(protocol.GetConfig{}); err != nil {
		codec.Close()
		return nil, zeroCfg, pkgerrors.Wrap(err, "send GetConfig")
	}

	header, err := codec.RecvHeader(ctx)
	if err != nil {
		codec.Close()
		return nil, zeroCfg, pkgerrors.Wrap(err, "recv config")
	}

	msg, ok := header.(protocol.ConfigMsg[K])
	if !ok {
		codec.Close()
		return nil, zeroCfg, fmt.Errorf("bootstrap: unexpected frame %#v, want ConfigMsg", header)
	}

	return codec, msg.Config, nil
}
