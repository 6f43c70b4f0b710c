package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/sessioncore/internal/auth"
	pkghttp "github.com/BradenHooton/sessioncore/pkg/http"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	maxFrameBytes     = 4 << 10
	maxPingFailures   = 3
	closeGrace        = time.Second
	queryCSRFParam    = "csrf"
	statusRevokedText = "session revoked"
)

type GatewayConfig struct {
	AllowedOrigins   []string
	SendQueueSize    int
	WriteTimeout     time.Duration
	ReadIdleTimeout  time.Duration
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration
}

// DefaultGatewayConfig returns the timeouts used in production.
func DefaultGatewayConfig(allowedOrigins []string) GatewayConfig {
	return GatewayConfig{
		AllowedOrigins:   allowedOrigins,
		SendQueueSize:    defaultSendQueueSize,
		WriteTimeout:     5 * time.Second,
		ReadIdleTimeout:  2 * time.Minute,
		HeartbeatEvery:   25 * time.Second,
		HeartbeatTimeout: 5 * time.Second,
	}
}

// Gateway upgrades guarded requests to websocket channels and registers them
// in the Directory. Channels are server-push only; inbound data frames are
// read and discarded.
type Gateway struct {
	log            *slog.Logger
	dir            *Directory
	cfg            GatewayConfig
	originPatterns []string
}

func NewGateway(log *slog.Logger, dir *Directory, cfg GatewayConfig) *Gateway {
	def := DefaultGatewayConfig(cfg.AllowedOrigins)
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReadIdleTimeout <= 0 {
		cfg.ReadIdleTimeout = def.ReadIdleTimeout
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = def.HeartbeatEvery
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	return &Gateway{
		log:            log,
		dir:            dir,
		cfg:            cfg,
		originPatterns: originPatterns(cfg.AllowedOrigins),
	}
}

// HandshakeCSRF lets browsers, which cannot set headers on a websocket
// handshake, pass the CSRF token as a query parameter.
func HandshakeCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(auth.HeaderCSRFToken) == "" {
			if token := r.URL.Query().Get(queryCSRFParam); token != "" {
				r.Header.Set(auth.HeaderCSRFToken, token)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r)
	if id == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	handle, err := NewID(time.Now())
	if err != nil {
		g.log.Error("realtime.handle", slog.String("error", err.Error()))
		pkghttp.WriteInternalError(w)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Info("realtime.accept.fail", slog.String("error", err.Error()))
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	client := NewClient(handle, id.UserID, id.DeviceKey, g.cfg.SendQueueSize)
	g.dir.Register(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.dir.Deregister(client.UserID, client.Handle)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				g.drain(ctx, conn, client)
				shutdown(websocket.StatusPolicyViolation, statusRevokedText)
				return
			case ev := <-client.Send:
				if err := g.write(ctx, conn, ev); err != nil {
					g.log.Info("realtime.write.fail", slog.String("handle", handle), slog.String("error", err.Error()))
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client, shutdown)
	}()

	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		_, _, err := conn.Read(readCtx)
		readCancel()
		if err == nil {
			continue
		}

		switch {
		case websocket.CloseStatus(err) != -1:
			shutdown(websocket.StatusNormalClosure, "peer closed")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			shutdown(websocket.StatusNormalClosure, "idle")
		default:
			shutdown(websocket.StatusAbnormalClosure, "read failed")
		}
		break
	}

	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func (g *Gateway) write(ctx context.Context, conn *websocket.Conn, ev Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, g.cfg.WriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, ev)
}

// drain flushes events queued before the client was closed, such as the
// revocation notice itself.
func (g *Gateway) drain(ctx context.Context, conn *websocket.Conn, client *Client) {
	for {
		select {
		case ev := <-client.Send:
			if err := g.write(ctx, conn, ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			pingCtx, cancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= maxPingFailures {
				shutdown(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}

// originPatterns turns allowed origins into the host patterns websocket.Accept
// matches cross-origin requests against. Same-host requests are always accepted.
func originPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "" || origin == "*" {
			continue
		}
		host := origin
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			host = u.Host
		}
		seen[strings.ToLower(host)] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
