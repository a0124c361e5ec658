package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gcode-host/pkg/gcode"
	"gcode-host/pkg/toolhead"
)

func newTestServer(t *testing.T) (*Server, *gcode.Dispatcher, *httptest.Server) {
	t.Helper()
	move := gcode.NewMove(nil, nil)
	th := toolhead.New(nil)
	move.HandleReady(th)
	dispatcher := gcode.NewDispatcher(move, nil)
	adapter := NewHostAdapter(dispatcher, th)
	srv := New(Config{Addr: ":0", Source: adapter})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, dispatcher, ts
}

func getJSON(t *testing.T, url string) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func postJSON(t *testing.T, url string, body any) (int, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, out
}

func TestServerInfo(t *testing.T) {
	_, _, ts := newTestServer(t)

	out := getJSON(t, ts.URL+"/server/info")
	result, ok := out["result"].(map[string]any)
	if !ok {
		t.Fatalf("missing result: %v", out)
	}
	if result["host_state"] != "ready" {
		t.Errorf("host_state = %v, want ready", result["host_state"])
	}
	if result["host_connected"] != true {
		t.Errorf("host_connected = %v, want true", result["host_connected"])
	}
}

func TestObjectsList(t *testing.T) {
	_, _, ts := newTestServer(t)

	out := getJSON(t, ts.URL+"/printer/objects/list")
	result := out["result"].(map[string]any)
	objects, ok := result["objects"].([]any)
	if !ok {
		t.Fatalf("missing objects: %v", result)
	}
	found := false
	for _, o := range objects {
		if o == "gcode_move" {
			found = true
		}
	}
	if !found {
		t.Errorf("objects %v missing gcode_move", objects)
	}
}

func TestObjectsQuery(t *testing.T) {
	_, dispatcher, ts := newTestServer(t)

	if _, err := dispatcher.ExecuteLine("G1 X10 Y5 F1200"); err != nil {
		t.Fatalf("G1: %v", err)
	}

	code, out := postJSON(t, ts.URL+"/printer/objects/query", map[string]any{
		"objects": map[string]any{"gcode_move": nil},
	})
	if code != http.StatusOK {
		t.Fatalf("status = %d, body %v", code, out)
	}
	result := out["result"].(map[string]any)
	status := result["status"].(map[string]any)
	gm, ok := status["gcode_move"].(map[string]any)
	if !ok {
		t.Fatalf("missing gcode_move status: %v", status)
	}
	pos := gm["gcode_position"].([]any)
	if pos[0].(float64) != 10 || pos[1].(float64) != 5 {
		t.Errorf("gcode_position = %v, want [10 5 0 0]", pos)
	}
}

func TestObjectsQueryAttributeFilter(t *testing.T) {
	_, _, ts := newTestServer(t)

	_, out := postJSON(t, ts.URL+"/printer/objects/query", map[string]any{
		"objects": map[string]any{"gcode_move": []string{"speed_factor"}},
	})
	result := out["result"].(map[string]any)
	status := result["status"].(map[string]any)
	gm := status["gcode_move"].(map[string]any)
	if len(gm) != 1 {
		t.Errorf("filtered status has %d keys, want 1: %v", len(gm), gm)
	}
	if gm["speed_factor"].(float64) != 1.0 {
		t.Errorf("speed_factor = %v, want 1", gm["speed_factor"])
	}
}

func TestGCodeScriptEndpoint(t *testing.T) {
	_, dispatcher, ts := newTestServer(t)

	code, out := postJSON(t, ts.URL+"/printer/gcode/script", map[string]any{
		"script": "G1 X25 F3000\nM114",
	})
	if code != http.StatusOK {
		t.Fatalf("status = %d, body %v", code, out)
	}
	result := out["result"].(map[string]any)
	response := result["response"].(string)
	if !strings.Contains(response, "X:25.000") {
		t.Errorf("response = %q, want M114 output with X:25.000", response)
	}

	pos := dispatcher.Move().GCodePosition()
	if pos[gcode.AxisX] != 25 {
		t.Errorf("X after script = %v, want 25", pos[gcode.AxisX])
	}
}

func TestGCodeScriptError(t *testing.T) {
	_, _, ts := newTestServer(t)

	code, out := postJSON(t, ts.URL+"/printer/gcode/script", map[string]any{
		"script": "G1 X=bogus",
	})
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %v", code, out)
	}
	if _, ok := out["error"]; !ok {
		t.Errorf("missing error in body: %v", out)
	}
}

func TestJSONRPCEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t)

	code, out := postJSON(t, ts.URL+"/jsonrpc", map[string]any{
		"jsonrpc": "2.0",
		"method":  "printer.objects.list",
		"id":      7,
	})
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if out["id"].(float64) != 7 {
		t.Errorf("id = %v, want 7", out["id"])
	}
	if _, ok := out["result"].(map[string]any); !ok {
		t.Errorf("missing result: %v", out)
	}
}

func TestJSONRPCUnknownMethod(t *testing.T) {
	_, _, ts := newTestServer(t)

	_, out := postJSON(t, ts.URL+"/jsonrpc", map[string]any{
		"jsonrpc": "2.0",
		"method":  "printer.emergency_stop",
		"id":      1,
	})
	errObj, ok := out["error"].(map[string]any)
	if !ok {
		t.Fatalf("missing error: %v", out)
	}
	if !strings.Contains(errObj["message"].(string), "method not found") {
		t.Errorf("message = %v", errObj["message"])
	}
}
