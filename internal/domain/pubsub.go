package domain

import "context"

// Publisher fans events out to whoever is listening. Events passed in one call
// reach each listener in the order given. Publish never blocks on a listener.
type Publisher interface {
	Publish(ctx context.Context, events ...Event)
}
