package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sqrl_server/internal/utils/log"
)

type (
	// PollReply is the JSON a waiting browser sees, over plain GET or the
	// websocket push channel.
	PollReply struct {
		LoggedIn   bool   `json:"loggedIn"`
		RedirectTo string `json:"redirectTo,omitempty"`
	}
)

// HandlePollNut reports whether the conversation rooted at {nut} has
// completed login on some device. Read-only: it never advances protocol
// state.
func (s *HttpServer) HandlePollNut() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.pollBucket.TakeAvailable(1) == 0 {
			http.Error(w, "poll rate exceeded", http.StatusTooManyRequests)
			return
		}

		nutVal := mux.Vars(r)["nut"]
		reply, found, err := s.pollState(r.Context(), nutVal)
		if err != nil {
			log.Error("poll lookup failed", zap.String("nut", nutVal), zap.Error(err))
			http.Error(w, "poll lookup failed", http.StatusInternalServerError)
			return
		}
		if !found {
			http.Error(w, "unknown nut", http.StatusNotFound)
			return
		}

		writeJSON(w, http.StatusOK, reply)
	}
}

// HandleLoginNotify is the push variant: the browser opens a websocket
// instead of hot-looping the poll endpoint, and the server watches the
// registry on its behalf.
func (s *HttpServer) HandleLoginNotify() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		nutVal := mux.Vars(r)["nut"]

		_, found, err := s.pollState(r.Context(), nutVal)
		if err != nil || !found {
			http.Error(w, "unknown nut", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "failed to upgrade", http.StatusInternalServerError)
			return
		}

		go s.watchLogin(nutVal, conn)
	}
}

func (s *HttpServer) watchLogin(nutVal string, conn *websocket.Conn) {
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	deadline := time.Now().Add(s.cfg.Sqrl.NutTTL)
	for range ticker.C {
		if time.Now().After(deadline) {
			return
		}

		reply, found, err := s.pollState(context.Background(), nutVal)
		if err != nil {
			log.Error("login watch failed", zap.String("nut", nutVal), zap.Error(err))
			return
		}
		if !found {
			// evicted while we watched
			return
		}
		if reply.LoggedIn {
			if err := conn.WriteJSON(reply); err != nil {
				log.Debug("login notify socket closed", zap.Error(err))
			}
			return
		}
	}
}

// pollState resolves a nut into the poll reply. A logged-in origin is
// cross-checked against the identity store before the browser is told to
// proceed.
func (s *HttpServer) pollState(ctx context.Context, nutVal string) (*PollReply, bool, error) {
	rec, err := s.registry.Lookup(ctx, nutVal)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, nil
	}

	if !rec.LoggedIn || rec.IdentityKey == "" {
		return &PollReply{}, true, nil
	}

	identity, err := s.store.GetByIdentityKey(ctx, rec.IdentityKey)
	if err != nil {
		return nil, false, err
	}
	if identity == nil {
		// identity removed since login; do not redirect
		return &PollReply{}, true, nil
	}

	return &PollReply{
		LoggedIn:   true,
		RedirectTo: s.cfg.Sqrl.SuccessURL,
	}, true, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("write json failed", zap.Error(err))
	}
}
