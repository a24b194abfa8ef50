package bridge

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/resilience"
	"github.com/MrWong99/voxbridge/pkg/memory"
	"github.com/MrWong99/voxbridge/pkg/provider/realtime"
)

// WSHandlerConfig wires the websocket entry point.
type WSHandlerConfig struct {
	// NewLink creates one upstream link per session. Required.
	NewLink realtime.Factory

	// Registry tracks live bridges. Required.
	Registry *Registry

	// Bridge is the template for every session; SessionID and Options are
	// filled in per connection.
	Bridge Config

	// Store receives completed turns. Nil disables persistence.
	Store memory.TurnStore

	// StoreTimeout bounds each CreateMessage call. Zero leaves only the
	// router's per-sink timeout.
	StoreTimeout time.Duration

	// StoreBreaker, when set, guards Store across all sessions.
	StoreBreaker *resilience.CircuitBreaker

	// Avatar receives completed assistant responses for clients that connect
	// with ?avatar_session=<id>. Nil disables the hand-off.
	Avatar Speaker

	// AvatarBreaker, when set, guards Avatar across all sessions.
	AvatarBreaker *resilience.CircuitBreaker

	// AllowedOrigins are host patterns accepted for cross-origin websocket
	// upgrades. Empty allows same-origin only.
	AllowedOrigins []string
}

// WSHandler upgrades GET /ws/session/{sessionID} to a websocket and runs one
// bridge for its lifetime.
//
// Query parameters:
//
//	mode            "text" or "audio"; overrides the configured modalities
//	avatar_session  renderer session that receives assistant responses
type WSHandler struct {
	cfg WSHandlerConfig
}

// NewWSHandler validates cfg and returns the handler.
func NewWSHandler(cfg WSHandlerConfig) (*WSHandler, error) {
	if cfg.NewLink == nil {
		return nil, fmt.Errorf("bridge: ws handler: NewLink is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("bridge: ws handler: Registry is required")
	}
	return &WSHandler{cfg: cfg}, nil
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	if _, err := uuid.Parse(sessionID); err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	opts, err := sessionOptions(h.cfg.Bridge.Options, r.URL.Query().Get("mode"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, busy := h.cfg.Registry.Get(sessionID); busy {
		http.Error(w, ErrSessionActive.Error(), http.StatusConflict)
		return
	}

	log := observe.Logger(r.Context(), "session_id", sessionID)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.AllowedOrigins,
	})
	if err != nil {
		// Accept has already written the HTTP error.
		log.Warn("bridge: websocket upgrade failed", "err", err)
		return
	}
	client := NewWSChannel(conn)

	cfg := h.cfg.Bridge
	cfg.SessionID = sessionID
	cfg.Options = opts
	b := New(h.cfg.NewLink(), client, cfg)

	// A concurrent connection may have won the race since the check above.
	if err := h.cfg.Registry.Add(b); err != nil {
		_ = client.WriteJSON(r.Context(), errorMessage(err.Error()))
		_ = b.Close(context.Background())
		return
	}
	defer h.cfg.Registry.Remove(b)

	if err := h.registerSinks(b, r.URL.Query().Get("avatar_session")); err != nil {
		log.Error("bridge: register sinks", "err", err)
		_ = b.Close(context.Background())
		return
	}

	if err := b.Run(r.Context()); err != nil {
		log.Warn("bridge: session ended with error", "err", err)
	}
}

func (h *WSHandler) registerSinks(b *Bridge, avatarSession string) error {
	if h.cfg.Store != nil {
		persist := WithTimeout(PersistTurns(h.cfg.Store), h.cfg.StoreTimeout)
		if h.cfg.StoreBreaker != nil {
			persist = resilience.Protect(h.cfg.StoreBreaker, persist)
		}
		if err := b.Router().Register("persistence", persist, KindTranscript, KindResponse); err != nil {
			return err
		}
	}
	if h.cfg.Avatar != nil && avatarSession != "" {
		speak := SpeakResponses(h.cfg.Avatar, avatarSession)
		if h.cfg.AvatarBreaker != nil {
			speak = resilience.Protect(h.cfg.AvatarBreaker, speak)
		}
		if err := b.Router().Register("avatar", speak, KindResponse); err != nil {
			return err
		}
	}
	return nil
}

// sessionOptions applies the requested mode to the configured defaults.
func sessionOptions(base realtime.SessionOptions, mode string) (realtime.SessionOptions, error) {
	opts := base
	switch mode {
	case "":
	case "text":
		opts.Modalities = []realtime.Modality{realtime.ModalityText}
	case "audio":
		opts.Modalities = []realtime.Modality{realtime.ModalityText, realtime.ModalityAudio}
	default:
		return realtime.SessionOptions{}, fmt.Errorf("unknown mode %q", mode)
	}
	return opts, nil
}
