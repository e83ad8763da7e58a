package transport

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/IsmailofficialGithub/admin-stream/internal/observ"
)

// Dialer opens one authenticated channel to a namespace. Implementations
// own transport negotiation; the manager only sees the resulting Conn.
type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// negotiatingDialer establishes the long-poll transport first, then
// attempts a websocket upgrade. An upgrade failure while polling is live
// is expected (proxies, strippers) and never surfaces past a debug log.
type negotiatingDialer struct {
	host     string
	ns       string
	pollWait time.Duration
	logger   zerolog.Logger
}

// NewDialer builds the default dual-transport dialer for a namespace.
// baseURL may carry a REST path prefix; only scheme and host are used.
func NewDialer(baseURL, ns string, pollWait time.Duration, logger zerolog.Logger) (Dialer, error) {
	host, err := ChannelHost(baseURL)
	if err != nil {
		return nil, err
	}
	if pollWait <= 0 {
		pollWait = 25 * time.Second
	}
	return &negotiatingDialer{host: host, ns: ns, pollWait: pollWait, logger: logger}, nil
}

func (d *negotiatingDialer) Dial(ctx context.Context, token string) (Conn, error) {
	pc, err := dialPolling(ctx, d.host, d.ns, token, d.pollWait, d.logger)
	if err != nil {
		return nil, err
	}

	wc, werr := dialWebsocket(ctx, d.host, d.ns, token, d.logger)
	if werr != nil {
		upErr := &TransportError{Transport: KindWebsocket, Err: werr}
		d.logger.Debug().Err(upErr).Msg("websocket upgrade failed, staying on polling")
		observ.IncCounter("stream_upgrade_failures_total", map[string]string{"namespace": d.ns})
		return pc, nil
	}

	_ = pc.Close()
	return wc, nil
}
