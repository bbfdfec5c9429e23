package channel

import (
	"context"
)

// Channel is the external system that actually delivers text to a phone
// number. Implementations must surface failures as errors, never panic.
type Channel interface {
	Send(ctx context.Context, phone, text string) error
}
