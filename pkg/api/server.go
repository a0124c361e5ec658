// Package api provides a Moonraker-style status API over the move core.
// Frontends query printer objects over REST or JSON-RPC and subscribe to
// status updates over a websocket. The server never mutates core state
// directly; the script endpoint routes through the command dispatcher like
// any other command source.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"gcode-host/pkg/log"
)

// StatusSource is the read-side interface the host wires into the server.
type StatusSource interface {
	// GetObjectsList returns the names of queryable status objects.
	GetObjectsList() []string

	// GetObjectStatus returns the status of one object. attrs nil means
	// all attributes; unknown objects return nil.
	GetObjectStatus(name string, attrs []string) map[string]any

	// ExecuteGCode runs a command script and returns its response text.
	ExecuteGCode(script string) (string, error)

	// State returns the host lifecycle state ("uninitialized", "ready",
	// "shutdown").
	State() string
}

// Config holds server configuration.
type Config struct {
	// Addr is the HTTP address to listen on (e.g. ":7125").
	Addr string

	// Source supplies object status and executes scripts.
	Source StatusSource

	// Logger is optional; a per-component logger is created when nil.
	Logger *log.Logger
}

// Server is the status API server.
type Server struct {
	source StatusSource
	logger *log.Logger

	httpServer *http.Server
	addr       string

	wsUpgrader websocket.Upgrader
	wsClients  map[int64]*wsClient
	wsClientMu sync.RWMutex
	nextWSID   int64

	// clientID -> object -> attributes
	subscriptions map[int64]map[string][]string
	subMu         sync.RWMutex

	running   atomic.Bool
	startTime time.Time
}

// New creates a new status API server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.GetLogger("api")
	}
	s := &Server{
		source:        cfg.Source,
		logger:        logger,
		addr:          cfg.Addr,
		wsClients:     make(map[int64]*wsClient),
		subscriptions: make(map[int64]map[string][]string),
		startTime:     time.Now(),
	}
	s.wsUpgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// Handler returns the HTTP handler, usable directly in tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/jsonrpc", s.handleJSONRPC)
	mux.HandleFunc("/websocket", s.handleWebSocket)
	mux.HandleFunc("/server/info", s.handleServerInfo)
	mux.HandleFunc("/printer/objects/list", s.handleObjectsList)
	mux.HandleFunc("/printer/objects/query", s.handleObjectsQuery)
	mux.HandleFunc("/printer/gcode/script", s.handleGCodeScript)
	return mux
}

// Start starts the API server and blocks until it stops.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	s.running.Store(true)
	s.logger.Info("status API server starting on %s", s.addr)

	go s.statusBroadcastLoop()

	return s.httpServer.ListenAndServe()
}

// Stop stops the API server and closes all websocket clients.
func (s *Server) Stop() error {
	s.running.Store(false)

	s.wsClientMu.Lock()
	for _, client := range s.wsClients {
		client.close()
	}
	s.wsClients = make(map[int64]*wsClient)
	s.wsClientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// JSON-RPC 2.0 structures

type jsonRPCRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
	ID      any            `json:"id,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
	ID      any           `json:"id,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONRPCError(w, nil, -32700, "Parse error")
		return
	}

	result, err := s.dispatchMethod(req.Method, req.Params, nil)
	if err != nil {
		s.writeJSONRPCError(w, req.ID, -32000, err.Error())
		return
	}
	s.writeJSONRPCResult(w, req.ID, result)
}

func (s *Server) dispatchMethod(method string, params map[string]any, client *wsClient) (any, error) {
	switch method {
	case "server.info":
		return s.methodServerInfo()
	case "printer.objects.list":
		return s.methodObjectsList()
	case "printer.objects.query":
		return s.methodObjectsQuery(params)
	case "printer.objects.subscribe":
		return s.methodObjectsSubscribe(params, client)
	case "printer.gcode.script":
		return s.methodGCodeScript(params)
	default:
		return nil, fmt.Errorf("method not found: %s", method)
	}
}

func (s *Server) methodServerInfo() (any, error) {
	hostname, _ := os.Hostname()
	state := s.source.State()

	s.wsClientMu.RLock()
	wsCount := len(s.wsClients)
	s.wsClientMu.RUnlock()

	return map[string]any{
		"host_connected":  state == "ready",
		"host_state":      state,
		"websocket_count": wsCount,
		"hostname":        hostname,
	}, nil
}

func (s *Server) methodObjectsList() (any, error) {
	return map[string]any{"objects": s.source.GetObjectsList()}, nil
}

func (s *Server) methodObjectsQuery(params map[string]any) (any, error) {
	objects, err := objectsParam(params)
	if err != nil {
		return nil, err
	}

	result := make(map[string]any)
	for objName, attrs := range objects {
		if status := s.source.GetObjectStatus(objName, attrs); status != nil {
			result[objName] = status
		}
	}

	eventtime := float64(time.Since(s.startTime).Milliseconds()) / 1000.0
	return map[string]any{
		"eventtime": eventtime,
		"status":    result,
	}, nil
}

func (s *Server) methodObjectsSubscribe(params map[string]any, client *wsClient) (any, error) {
	if client == nil {
		return nil, fmt.Errorf("subscription requires a websocket connection")
	}
	objects, err := objectsParam(params)
	if err != nil {
		return nil, err
	}

	s.subMu.Lock()
	s.subscriptions[client.id] = objects
	s.subMu.Unlock()

	return s.methodObjectsQuery(params)
}

func (s *Server) methodGCodeScript(params map[string]any) (any, error) {
	script, ok := params["script"].(string)
	if !ok {
		return nil, fmt.Errorf("missing 'script' parameter")
	}
	out, err := s.source.ExecuteGCode(script)
	if err != nil {
		return nil, err
	}
	return map[string]any{"response": out}, nil
}

// objectsParam extracts the object -> attribute-list map common to query
// and subscribe requests. A null attribute list means all attributes.
func objectsParam(params map[string]any) (map[string][]string, error) {
	raw, ok := params["objects"]
	if !ok {
		return nil, fmt.Errorf("missing 'objects' parameter")
	}
	objMap, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("'objects' must be an object")
	}
	out := make(map[string][]string, len(objMap))
	for name, attrsVal := range objMap {
		var attrs []string
		if attrList, ok := attrsVal.([]any); ok {
			for _, attr := range attrList {
				if attrStr, ok := attr.(string); ok {
					attrs = append(attrs, attrStr)
				}
			}
		}
		out[name] = attrs
	}
	return out, nil
}

// REST endpoint handlers

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	result, err := s.methodServerInfo()
	if err != nil {
		s.writeJSONError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"result": result})
}

func (s *Server) handleObjectsList(w http.ResponseWriter, r *http.Request) {
	result, err := s.methodObjectsList()
	if err != nil {
		s.writeJSONError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"result": result})
}

func (s *Server) handleObjectsQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		s.writeJSONError(w, err)
		return
	}
	result, err := s.methodObjectsQuery(params)
	if err != nil {
		s.writeJSONError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"result": result})
}

func (s *Server) handleGCodeScript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		s.writeJSONError(w, err)
		return
	}
	result, err := s.methodGCodeScript(params)
	if err != nil {
		s.writeJSONError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"result": result})
}

// JSON response helpers

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeJSONError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    -32000,
			"message": err.Error(),
		},
	})
}

func (s *Server) writeJSONRPCResult(w http.ResponseWriter, id any, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jsonRPCResponse{JSONRPC: "2.0", Result: result, ID: id})
}

func (s *Server) writeJSONRPCError(w http.ResponseWriter, id any, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jsonRPCResponse{
		JSONRPC: "2.0",
		Error:   &jsonRPCError{Code: code, Message: message},
		ID:      id,
	})
}

// statusBroadcastLoop pushes subscribed object status to websocket clients
// once per second.
func (s *Server) statusBroadcastLoop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for s.running.Load() {
		<-ticker.C

		s.subMu.RLock()
		subs := make(map[int64]map[string][]string, len(s.subscriptions))
		for id, objs := range s.subscriptions {
			subs[id] = objs
		}
		s.subMu.RUnlock()

		if len(subs) == 0 {
			continue
		}

		eventtime := float64(time.Since(s.startTime).Milliseconds()) / 1000.0
		for clientID, objs := range subs {
			status := make(map[string]any, len(objs))
			for name, attrs := range objs {
				if st := s.source.GetObjectStatus(name, attrs); st != nil {
					status[name] = st
				}
			}
			if len(status) == 0 {
				continue
			}

			s.wsClientMu.RLock()
			client := s.wsClients[clientID]
			s.wsClientMu.RUnlock()
			if client == nil {
				continue
			}
			client.send(map[string]any{
				"jsonrpc": "2.0",
				"method":  "notify_status_update",
				"params":  []any{status, eventtime},
			})
		}
	}
}
