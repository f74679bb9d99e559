// Package network connects ports across processes.
//
// An Adapter in Export mode sends every value installed in a local port to
// its peers and answers their pull calls. An Adapter in Import mode feeds the
// values it receives into a local port through the normal publish path and
// turns pulls on that port into remote calls bounded by a timeout. A pull that
// fails or times out falls back to the last value the port holds.
//
// Values travel as JSON envelopes carrying the sender id, port name, data
// type name, a flag telling why the value was sent and a per-sender sequence
// number. Each port pair uses two subjects:
//
//	<prefix>.<port>.data   values, published
//	<prefix>.<port>.pull   pull calls, request/reply
//
// Transports:
//   - NATSTransport runs over a natsclient.Client
//   - LoopbackTransport delivers in-process and is used by tests and demos
//
// Basic usage:
//
//	exp, err := network.NewAdapter(speed, network.NewNATSTransport(client))
//	if err != nil {
//	    return err
//	}
//	if err := exp.Start(ctx); err != nil {
//	    return err
//	}
//	defer exp.Stop(context.Background())
//
// On the other side:
//
//	imp, _ := network.NewAdapter(remoteSpeed, tr,
//	    network.WithMode(network.Import),
//	    network.WithSubjectName("speed"),
//	    network.WithPullTimeout(200*time.Millisecond))
//
// Inbound values are published on a pool.Thread owned by the adapter's
// receive loop, so ports fed by an adapter see a single publishing goroutine
// per adapter. Stop the adapter before deleting its port.
package network
