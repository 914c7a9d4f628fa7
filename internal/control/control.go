// Package control exposes a localhost side-channel for adjusting a live
// capture session. Tooling connects over WebSocket to read or change the
// emulated network conditions while a recording is in progress.
package control

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vincentbai/browsetrace-session/internal/netcond"
)

// Conditioner is the slice of a capture session the control channel
// drives. Implemented by recorder.Session.
type Conditioner interface {
	NetworkConditions() (netcond.Conditions, string)
	SetNetworkConditions(netcond.Conditions) error
}

// Message is the wire frame in both directions. Type selects the
// operation; the remaining fields are populated per operation.
type Message struct {
	Type       string              `json:"type"`
	Conditions *netcond.Conditions `json:"conditions,omitempty"`
	Preset     string              `json:"preset,omitempty"`
	Presets    []PresetInfo        `json:"presets,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// PresetInfo is one named throttling profile in a getPresets response.
type PresetInfo struct {
	Name       string             `json:"name"`
	Conditions netcond.Conditions `json:"conditions"`
}

type Server struct {
	cond     Conditioner
	address  string
	server   *http.Server
	upgrader websocket.Upgrader
}

func NewServer(cond Conditioner, address string) *Server {
	return &Server{
		cond:    cond,
		address: address,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Loopback only; origin checks add nothing here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) handleControl(w http.ResponseWriter, request *http.Request) {
	conn, err := s.upgrader.Upgrade(w, request, nil)
	if err != nil {
		log.Printf("Control upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Control connection error: %v", err)
			}
			return
		}
		if err := conn.WriteJSON(s.dispatch(msg)); err != nil {
			log.Printf("Control write failed: %v", err)
			return
		}
	}
}

func (s *Server) dispatch(msg Message) Message {
	switch msg.Type {
	case "getNetworkConditions":
		c, preset := s.cond.NetworkConditions()
		return Message{Type: "networkConditions", Conditions: &c, Preset: preset}

	case "setNetworkConditions":
		c, err := resolveConditions(msg)
		if err != nil {
			return errorMessage(err)
		}
		if err := s.cond.SetNetworkConditions(c); err != nil {
			return errorMessage(err)
		}
		applied, preset := s.cond.NetworkConditions()
		return Message{Type: "networkConditions", Conditions: &applied, Preset: preset}

	case "getPresets":
		var infos []PresetInfo
		for _, p := range netcond.Presets() {
			infos = append(infos, PresetInfo{Name: p.Name, Conditions: p.Conditions})
		}
		return Message{Type: "presets", Presets: infos}

	default:
		return errorMessage(fmt.Errorf("unknown message type %q", msg.Type))
	}
}

// resolveConditions accepts either a preset name or explicit conditions;
// the preset wins when both are present.
func resolveConditions(msg Message) (netcond.Conditions, error) {
	if msg.Preset != "" {
		c, ok := netcond.ByName(msg.Preset)
		if !ok {
			return netcond.Conditions{}, fmt.Errorf("unknown preset %q", msg.Preset)
		}
		return c, nil
	}
	if msg.Conditions == nil {
		return netcond.Conditions{}, fmt.Errorf("setNetworkConditions requires a preset or conditions")
	}
	return *msg.Conditions, nil
}

func errorMessage(err error) Message {
	return Message{Type: "error", Error: err.Error()}
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/control", s.handleControl)
	return mux
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start begins serving in the background. Stop it with Shutdown.
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:        s.address,
		Handler:     s.setupRoutes(),
		ReadTimeout: 5 * time.Second,
		// No WriteTimeout: it would sever long-lived WebSocket conns.
	}

	go func() {
		log.Printf("Control channel listening on %s", s.address)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Control server failed: %v", err)
		}
	}()
}

// Shutdown drains the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("control server shutdown: %w", err)
	}
	return nil
}
