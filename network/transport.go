package network

import "context"

// Handler receives messages published on a subject
type Handler func(ctx context.Context, data []byte)

// RequestHandler answers a request. A returned error is reported to the
// requester as a remote failure.
type RequestHandler func(ctx context.Context, data []byte) ([]byte, error)

// Subscription is an active subscription or request server
type Subscription interface {
	Unsubscribe() error
}

// Transport is the message bus used by adapters. Messages published on one
// subject by one publisher arrive in publish order. Request blocks until a
// reply arrives or ctx is done.
type Transport interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, h Handler) (Subscription, error)
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
	Serve(ctx context.Context, subject string, h RequestHandler) (Subscription, error)
	Close(ctx context.Context) error
}
