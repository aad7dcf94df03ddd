package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ideatorio/internal/app"
	"ideatorio/internal/infra/generator"
	"ideatorio/internal/infra/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := app.NewRegistry(memory.NewSessionStore(), nil, app.RegistryConfig{
		PINAttempts: 1,
		IdleTimeout: time.Hour,
		PIN:         func() string { return "482913" },
	}, nil)
	t.Cleanup(func() { registry.Shutdown(context.Background()) })

	service := app.NewService(registry, nil)
	content := app.NewContentService(generator.NewStatic(), memory.NewContentCache(time.Minute), nil)
	router := NewRouter(NewRESTHandler(service, content, nil), NewWSHandler(service, nil), "*", nil)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, service
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

type frame struct {
	Event string          `json:"event"`
	Ref   string          `json:"ref"`
	Data  json.RawMessage `json:"data"`
}

type ackData struct {
	Status   string          `json:"status"`
	Error    string          `json:"error"`
	Code     string          `json:"code"`
	Score    int             `json:"score"`
	Feedback map[string]bool `json:"feedback"`
	State    struct {
		Generation uint64 `json:"generation"`
	} `json:"state"`
	Questions []struct {
		ID      string           `json:"id"`
		Options []map[string]any `json:"options"`
	} `json:"questions"`
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event, ref string, data any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"event": event, "ref": ref, "data": data}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// readUntil skips frames until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		var f frame
		_ = conn.SetReadDeadline(deadline)
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read json: %v", err)
		}
		if match(f) {
			return f
		}
	}
}

func readAck(t *testing.T, conn *websocket.Conn, ref string) ackData {
	t.Helper()
	f := readUntil(t, conn, func(f frame) bool { return f.Event == "ack" && f.Ref == ref })
	var a ackData
	if err := json.Unmarshal(f.Data, &a); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return a
}

func readEvent(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	return readUntil(t, conn, func(f frame) bool { return f.Event == event }).Data
}

func TestWebSocketRankingFlow(t *testing.T) {
	server, _ := newTestServer(t)

	var created struct {
		Session struct {
			PIN string `json:"pin"`
		} `json:"session"`
	}
	if code := postJSON(t, server.URL+"/sessions/create-session", map[string]any{"type": "ranking", "hostId": "teacher-1"}, &created); code != http.StatusCreated {
		t.Fatalf("create session: status %d", code)
	}
	pin := created.Session.PIN
	if pin != "482913" {
		t.Fatalf("expected pin 482913, got %q", pin)
	}

	var joined struct {
		Participant struct {
			ID string `json:"id"`
		} `json:"participant"`
	}
	if code := postJSON(t, server.URL+"/sessions/join-session", map[string]any{"pin": 482913, "name": "Ana"}, &joined); code != http.StatusCreated {
		t.Fatalf("join session: status %d", code)
	}
	if joined.Participant.ID != "p1" {
		t.Fatalf("expected participant p1, got %q", joined.Participant.ID)
	}

	host := dial(t, server)
	send(t, host, "join-room", "1", map[string]any{"pin": pin, "hostId": "teacher-1"})
	if a := readAck(t, host, "1"); a.Status != "success" {
		t.Fatalf("host join: %+v", a)
	}

	student := dial(t, server)
	send(t, student, "join-room", "1", map[string]any{"pin": pin, "participantId": "p1"})
	if a := readAck(t, student, "1"); a.Status != "success" {
		t.Fatalf("student join: %+v", a)
	}

	send(t, host, "initialize-ideas", "2", map[string]any{
		"pin":       pin,
		"questions": []map[string]any{{"text": "Recycling"}, {"text": "Public transport"}},
	})
	if a := readAck(t, host, "2"); a.Status != "success" || a.State.Generation != 1 {
		t.Fatalf("initialize ideas: %+v", a)
	}

	var update struct {
		Type       string `json:"type"`
		Generation uint64 `json:"generation"`
		Content    struct {
			Items []struct {
				ID   string `json:"id"`
				Text string `json:"text"`
			} `json:"items"`
		} `json:"content"`
	}
	if err := json.Unmarshal(readEvent(t, student, "slide-update"), &update); err != nil {
		t.Fatalf("decode slide-update: %v", err)
	}
	if update.Type != "ranking" || update.Generation != 1 || len(update.Content.Items) != 2 {
		t.Fatalf("unexpected slide-update %+v", update)
	}

	send(t, student, "request-slide-content", "r1", nil)
	if a := readAck(t, student, "r1"); a.Status != "success" {
		t.Fatalf("request slide content: %+v", a)
	}

	send(t, student, "cast-vote", "2", map[string]any{"ideaId": update.Content.Items[1].ID})
	if a := readAck(t, student, "2"); a.Status != "success" {
		t.Fatalf("cast vote: %+v", a)
	}

	var counts []struct {
		ID    string `json:"id"`
		Votes int    `json:"votes"`
	}
	if err := json.Unmarshal(readEvent(t, host, "vote-update"), &counts); err != nil {
		t.Fatalf("decode vote-update: %v", err)
	}
	if len(counts) != 2 || counts[0].ID != update.Content.Items[1].ID || counts[0].Votes != 1 {
		t.Fatalf("unexpected vote counts %+v", counts)
	}

	send(t, student, "cast-vote", "3", map[string]any{"ideaId": "i1", "generation": 0})
	if a := readAck(t, student, "3"); a.Status != "error" || a.Code != "stale_dynamic" {
		t.Fatalf("expected stale dynamic, got %+v", a)
	}

	send(t, student, "change-dynamic", "4", map[string]any{"dynamicType": "wordcloud"})
	if a := readAck(t, student, "4"); a.Status != "error" || a.Code != "forbidden" {
		t.Fatalf("expected forbidden, got %+v", a)
	}
}

func TestWebSocketQuizRedactionAndScoring(t *testing.T) {
	server, service := newTestServer(t)
	ctx := context.Background()

	info, err := service.CreateSession(ctx, "teacher-1", 0)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	ana, err := service.JoinSession(ctx, info.PIN, "Ana")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	host := dial(t, server)
	send(t, host, "join-room", "1", info.PIN)
	readAck(t, host, "1")

	send(t, host, "update-dynamic-data", "2", map[string]any{
		"pin": info.PIN,
		"data": map[string]any{
			"type": "CloseQuestion",
			"questions": []map[string]any{{
				"id":   "q1",
				"text": "2 + 2?",
				"options": []map[string]any{
					{"id": "o1", "text": "4", "isCorrect": true},
					{"id": "o2", "text": "5"},
				},
			}},
		},
	})
	if a := readAck(t, host, "2"); a.Status != "success" {
		t.Fatalf("update dynamic data: %+v", a)
	}

	student := dial(t, server)
	send(t, student, "join-room", "1", map[string]any{"pin": info.PIN, "participantId": ana.ID})
	readAck(t, student, "1")

	send(t, student, "request-questions", "2", map[string]any{"type": "close-question"})
	a := readAck(t, student, "2")
	if a.Status != "success" || len(a.Questions) != 1 {
		t.Fatalf("request questions: %+v", a)
	}
	for _, opt := range a.Questions[0].Options {
		if _, ok := opt["isCorrect"]; ok {
			t.Fatalf("expected correctness stripped for students, got %+v", opt)
		}
	}

	send(t, student, "submit-answers", "3", map[string]any{"answers": map[string]any{"q1": "o1"}})
	a = readAck(t, student, "3")
	if a.Status != "success" || a.Score != 1 || !a.Feedback["q1"] {
		t.Fatalf("submit answers: %+v", a)
	}

	var agg struct {
		Scores []struct {
			ParticipantID string `json:"participantId"`
			Score         int    `json:"score"`
		} `json:"scores"`
	}
	if err := json.Unmarshal(readEvent(t, host, "answers-update"), &agg); err != nil {
		t.Fatalf("decode answers-update: %v", err)
	}
	if len(agg.Scores) != 1 || agg.Scores[0].ParticipantID != ana.ID || agg.Scores[0].Score != 1 {
		t.Fatalf("unexpected scores %+v", agg.Scores)
	}

	send(t, host, "end-session", "3", nil)
	if a := readAck(t, host, "3"); a.Status != "success" {
		t.Fatalf("end session: %+v", a)
	}
	readEvent(t, student, "session-ended")
}

func TestWebSocketUnknownEvent(t *testing.T) {
	server, _ := newTestServer(t)
	conn := dial(t, server)

	send(t, conn, "shout", "", map[string]any{})
	var body struct {
		Event string `json:"event"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(readEvent(t, conn, "error"), &body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if body.Event != "shout" || body.Code != "validation" {
		t.Fatalf("unexpected error body %+v", body)
	}

	send(t, conn, "cast-vote", "1", map[string]any{"pin": "000000", "ideaId": "i1"})
	if a := readAck(t, conn, "1"); a.Status != "error" || a.Code != "validation" {
		t.Fatalf("expected validation error for unbound vote, got %+v", a)
	}
}

func TestRESTErrorsAndContent(t *testing.T) {
	server, _ := newTestServer(t)

	var errBody errorBody
	if code := postJSON(t, server.URL+"/sessions/join-session", map[string]any{"pin": "999999", "name": "Ana"}, &errBody); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if errBody.Code != "not_found" {
		t.Fatalf("expected not_found code, got %+v", errBody)
	}

	if code := postJSON(t, server.URL+"/sessions/create-session", map[string]any{"type": "slideshow"}, &errBody); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d", code)
	}

	if code := postJSON(t, server.URL+"/sessions/create-session", map[string]any{"type": "wordcloud", "host_user_id": 42}, nil); code != http.StatusCreated {
		t.Fatalf("create session: status %d", code)
	}
	if code := postJSON(t, server.URL+"/sessions/create-session", map[string]any{"type": "wordcloud", "hostId": "teacher-2"}, &errBody); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when pins are exhausted, got %d", code)
	}

	resp, err := http.Get(server.URL + "/sessions/482913/state")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	var state struct {
		SessionType string `json:"sessionType"`
		Type        string `json:"type"`
	}
	err = json.NewDecoder(resp.Body).Decode(&state)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.SessionType != "wordcloud" || state.Type != "none" {
		t.Fatalf("unexpected state %+v", state)
	}

	if code := postJSON(t, server.URL+"/sessions/end-session", map[string]any{"pin": "482913"}, nil); code != http.StatusNoContent {
		t.Fatalf("end session: status %d", code)
	}
	if code := postJSON(t, server.URL+"/sessions/end-session", map[string]any{"pin": "482913"}, nil); code != http.StatusNoContent {
		t.Fatalf("second end session: status %d", code)
	}

	var generated struct {
		Questions []struct {
			ID      string           `json:"id"`
			Options []map[string]any `json:"options"`
		} `json:"questions"`
	}
	if code := postJSON(t, server.URL+"/generate-closed-questions", map[string]any{"subtopic": "fractions"}, &generated); code != http.StatusOK {
		t.Fatalf("generate closed questions: status %d", code)
	}
	if len(generated.Questions) == 0 {
		t.Fatalf("expected generated questions")
	}

	if code := postJSON(t, server.URL+"/generate-ideas", map[string]any{"topic": "  "}, &errBody); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank topic, got %d", code)
	}
}

func TestWebSocketLateAnswerIsStale(t *testing.T) {
	server, service := newTestServer(t)
	ctx := context.Background()

	info, err := service.CreateSession(ctx, "teacher-1", 0)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	ana, err := service.JoinSession(ctx, info.PIN, "Ana")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	quiz := func(correct string) map[string]any {
		return map[string]any{
			"pin": info.PIN,
			"data": map[string]any{
				"type": "close-question",
				"questions": []map[string]any{{
					"id":   "q1",
					"text": "Pick one",
					"options": []map[string]any{
						{"id": "o1", "text": "A", "isCorrect": correct == "o1"},
						{"id": "o2", "text": "B", "isCorrect": correct == "o2"},
					},
				}},
			},
		}
	}

	host := dial(t, server)
	send(t, host, "join-room", "1", info.PIN)
	readAck(t, host, "1")
	send(t, host, "update-dynamic-data", "2", quiz("o1"))
	if a := readAck(t, host, "2"); a.Status != "success" || a.State.Generation != 1 {
		t.Fatalf("first quiz: %+v", a)
	}

	student := dial(t, server)
	send(t, student, "join-room", "1", map[string]any{"pin": info.PIN, "participantId": ana.ID})
	readAck(t, student, "1")

	send(t, host, "update-dynamic-data", "3", quiz("o2"))
	if a := readAck(t, host, "3"); a.Status != "success" || a.State.Generation != 2 {
		t.Fatalf("second quiz: %+v", a)
	}

	send(t, student, "submit-answers", "2", map[string]any{"answers": map[string]any{"q1": "o1"}})
	if a := readAck(t, student, "2"); a.Status != "error" || a.Code != "stale_dynamic" {
		t.Fatalf("expected stale dynamic for an answer to the replaced quiz, got %+v", a)
	}

	send(t, student, "request-questions", "3", nil)
	if a := readAck(t, student, "3"); a.Status != "success" || len(a.Questions) != 1 {
		t.Fatalf("request questions: %+v", a)
	}
	send(t, student, "submit-answers", "4", map[string]any{"answers": map[string]any{"q1": "o2"}})
	if a := readAck(t, student, "4"); a.Status != "success" || a.Score != 1 {
		t.Fatalf("expected answer to the current quiz to score, got %+v", a)
	}
}

func TestWebSocketHostLeaveSessionKeepsHostBound(t *testing.T) {
	server, service := newTestServer(t)
	ctx := context.Background()

	info, err := service.CreateSession(ctx, "teacher-1", 0)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	ana, err := service.JoinSession(ctx, info.PIN, "Ana")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	host := dial(t, server)
	send(t, host, "join-room", "1", info.PIN)
	readAck(t, host, "1")

	send(t, host, "leave-session", "2", map[string]any{"participantId": ana.ID})
	if a := readAck(t, host, "2"); a.Status != "success" {
		t.Fatalf("leave session: %+v", a)
	}
	if _, _, err := service.JoinRoom(ctx, info.PIN, "ana-conn", ana.ID, ""); err == nil {
		t.Fatalf("expected removed participant to be rejected")
	}

	send(t, host, "change-dynamic", "3", map[string]any{"dynamicType": "ranking"})
	if a := readAck(t, host, "3"); a.Status != "success" || a.State.Generation != 1 {
		t.Fatalf("expected host to keep control after removing a student, got %+v", a)
	}
}
