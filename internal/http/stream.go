package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"moneymanager/internal/core"
	"moneymanager/internal/identity"
	"moneymanager/internal/live"
	"moneymanager/internal/log"
)

const streamHeartbeat = 25 * time.Second

// serveStream writes every snapshot of watch as a server-sent event. It
// returns when the client goes away, the server shuts down, or the
// session is signed out or bound to another principal.
func serveStream[T any](s *Server, w http.ResponseWriter, r *http.Request, event string, watch func(context.Context, core.Principal, func(T)) *live.Subscription) {
	p := principal(r)
	logger := log.FromContext(r.Context())
	rc := http.NewResponseController(w)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.baseCtx, cancel)
	defer stop()

	unregister := s.resolver.Sessions().OnChange(identity.SessionID(ctx), func(np *core.Principal) {
		if np == nil || np.ID != p.ID {
			cancel()
		}
	})
	defer unregister()

	// only the newest snapshot matters to a slow client
	latest := make(chan T, 1)
	sub := watch(ctx, p, func(v T) {
		select {
		case latest <- v:
		default:
			select {
			case <-latest:
			default:
			}
			latest <- v
		}
	})
	defer sub.Unsubscribe()

	_ = rc.SetWriteDeadline(time.Time{})
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "retry: 3000\n\n")
	if err := rc.Flush(); err != nil {
		logger.WarnContext(ctx, "Stream cannot flush", "event", event, log.FieldError, err)
		return
	}

	logger.DebugContext(ctx, "Stream opened", "event", event)
	defer logger.DebugContext(ctx, "Stream closed", "event", event)

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	var seq int
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
		case v := <-latest:
			data, err := json.Marshal(v)
			if err != nil {
				logger.ErrorContext(ctx, "Stream snapshot encode failed", "event", event, log.FieldError, err)
				return
			}
			seq++
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, event, data)
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) handleStreamTransactions(w http.ResponseWriter, r *http.Request) {
	serveStream(s, w, r, "transactions", s.ledger.Subscribe)
}

func (s *Server) handleStreamFamily(w http.ResponseWriter, r *http.Request) {
	serveStream(s, w, r, "family", s.families.WatchFamily)
}

func (s *Server) handleStreamInvites(w http.ResponseWriter, r *http.Request) {
	serveStream(s, w, r, "invites", s.families.WatchInvites)
}
