package health

import "context"

// Pinger checks the availability of one backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}
