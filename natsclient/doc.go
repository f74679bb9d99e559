// Package natsclient wraps the NATS Go client with a circuit breaker,
// connection status tracking and request/reply helpers used by the network
// port transport.
//
// # Circuit Breaker
//
// After a threshold of consecutive connection failures (default 5) the circuit
// opens and Connect fails fast with ErrCircuitOpen. After the current backoff
// the circuit moves back to disconnected and the next Connect may try again.
// The backoff doubles with each round of failures up to WithMaxBackoff.
//
// # Lifecycle
//
// Status moves through Disconnected, Connecting, Connected and Reconnecting.
// Callbacks registered with WithDisconnectCallback, WithReconnectCallback and
// OnHealthChange observe the transitions. With WithMetrics the
// status is also exported as the dataports_nats_connected gauge.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.FromConfig(cfg.NATS),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	sub, err := client.Reply(ctx, "ports.speed.pull", func(ctx context.Context, req []byte) ([]byte, error) {
//	    return encodeCurrent()
//	})
//
//	resp, err := client.Request(ctx, "ports.speed.pull", nil)
//
// A handler error returned from Reply travels back in the Dataports-Error
// header and surfaces from Request wrapping errors.ErrRemotePull.
//
// # Testing
//
// TestClient starts a NATS server with testcontainers. Integration tests are
// gated on the INTEGRATION_TESTS environment variable and share one container
// per package through TestMain.
package natsclient
