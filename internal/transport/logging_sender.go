package transport

import (
	"context"

	"go.uber.org/zap"

	"github.com/meetfocus/focus/internal/logging"
)

// LoggingSender is a Sender that only logs the stanza and returns no
// reply: a dev/headless stand-in for a real signaling channel, the same
// role `cmd_teacher/v1/session/main.go`'s MockValidator plays for
// authentication when Auth0 isn't configured.
type LoggingSender struct{}

func (LoggingSender) Send(ctx context.Context, stanza Stanza) (*Stanza, error) {
	logging.Debug(ctx, "stanza send (no-op transport)",
		zap.String("kind", stanza.Kind),
		zap.String("from", stanza.From),
		zap.String("to", stanza.To),
		zap.String("type", string(stanza.Type)))
	return nil, nil
}
