package messaging

import (
	"context"

	"go.uber.org/zap"
)

// Session is a verified gateway session bound to one sender account.
type Session struct {
	*Client
	sender string
}

// Dial builds a client and verifies the session by fetching the current
// account. An expired session fails here with KindSessionInvalid.
func Dial(ctx context.Context, opts Options) (*Session, error) {
	c, err := New(opts)
	if err != nil {
		return nil, err
	}
	sender, err := c.Me(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.log.Info("messaging session ready", zap.String("sender", sender), zap.Bool("proxy", opts.Proxy != ""))
	return &Session{Client: c, sender: sender}, nil
}

func (s *Session) Sender() string { return s.sender }
