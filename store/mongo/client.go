package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

const defaultOpTimeout = 5 * time.Second

// Options configures a store backed by one Mongo database, shared across
// the run/thread/workerjob/barrier/event collections.
type Options struct {
	Client   *mongo.Client
	Database string
	Timeout  time.Duration
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return defaultOpTimeout
	}
	return o.Timeout
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d)
}
