package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"million-dialogue/internal/app"
	"million-dialogue/internal/auth"
	"million-dialogue/internal/dependencies/mocks"
	"million-dialogue/internal/domain"
	"million-dialogue/internal/gateway"
	"million-dialogue/internal/infra/memory"
	"million-dialogue/internal/testutil"
)

type testServer struct {
	*httptest.Server
	clock *mocks.ManualClock
	rnd   *mocks.MockRandom
	auth  *auth.JWTAuthenticator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clk := mocks.NewManualClock(time.Date(2024, 11, 22, 12, 0, 0, 0, time.UTC))
	rnd := mocks.NewMockRandom()
	engine := app.NewEngine(clk, rnd, nil, 500*time.Millisecond, 3*time.Second, testutil.NopLogger())
	registry := app.NewRegistry(memory.NewRoomStore(), engine, app.RegistryOptions{
		Defaults:   domain.RoomSettings{QuestionCount: 1, TimeLimitSec: 10, QuestionSetID: "test"},
		MaxPlayers: 10,
	})
	bank := memory.NewQuestionSetCache(memory.NewStaticQuestionSetLoader(map[string]domain.QuestionSet{
		"test": testutil.QuestionSet("test", 1),
	}), time.Minute)
	service := app.NewRoomService(registry, bank)
	authenticator := auth.NewJWTAuthenticator("test-secret", "million-dialogue")
	dispatcher := gateway.NewDispatcher(service, authenticator, testutil.NopLogger())
	ws := NewWSHandler(dispatcher, authenticator, WSOptions{EventBuffer: 32, ReplyBuffer: 8}, testutil.NopLogger())

	server := httptest.NewServer(NewRouter(service, ws, testutil.NopLogger()))
	t.Cleanup(server.Close)
	return &testServer{Server: server, clock: clk, rnd: rnd, auth: authenticator}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := s.auth.Issue(domain.Identity{UserID: userID, DisplayName: strings.ToUpper(userID[:1]) + userID[1:]}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (s *testServer) dial(t *testing.T, header http.Header, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + s.URL[len("http"):] + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlationId"`
	Success       bool            `json:"success"`
	Event         string          `json:"event"`
	Seq           uint64          `json:"seq"`
	Data          json.RawMessage `json:"data"`
	Error         *struct {
		Code string `json:"code"`
		Kind string `json:"kind"`
	} `json:"error"`
}

func send(t *testing.T, conn *websocket.Conn, action, correlationID string, payload any) {
	t.Helper()
	msg := map[string]any{"action": action, "correlationId": correlationID, "payload": payload}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", action, err)
	}
}

func readNext(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	var f frame
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read json: %v", err)
	}
	return f
}

// readUntil skips frames until match returns true.
func readUntil(t *testing.T, conn *websocket.Conn, what string, match func(frame) bool) frame {
	t.Helper()
	for i := 0; i < 20; i++ {
		if f := readNext(t, conn); match(f) {
			return f
		}
	}
	t.Fatalf("did not receive %s", what)
	return frame{}
}

func ack(correlationID string) func(frame) bool {
	return func(f frame) bool { return f.Type == "ack" && f.CorrelationID == correlationID }
}

func event(name string) func(frame) bool {
	return func(f frame) bool { return f.Type == "event" && f.Event == name }
}

func TestWebSocketRejectsInvalidToken(t *testing.T) {
	s := newTestServer(t)

	u := "ws" + s.URL[len("http"):] + "/ws?token=forged"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestWebSocketRequiresAuthentication(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t, nil, "")

	send(t, conn, gateway.ActionListRooms, "c1", nil)
	f := readNext(t, conn)
	if f.Success || f.Error == nil || f.Error.Code != "Unauthenticated" {
		t.Fatalf("expected Unauthenticated, got %+v", f)
	}

	send(t, conn, gateway.ActionAuthenticate, "c2", map[string]any{"token": s.token(t, "carol")})
	if f := readNext(t, conn); !f.Success || f.CorrelationID != "c2" {
		t.Fatalf("authenticate failed: %+v", f)
	}
	send(t, conn, gateway.ActionListRooms, "c3", nil)
	if f := readNext(t, conn); !f.Success || string(f.Data) != "[]" {
		t.Fatalf("expected empty room list, got %+v", f)
	}
}

func TestWebSocketRoundFlow(t *testing.T) {
	s := newTestServer(t)
	s.rnd.QueueString("ROOM01")

	alice := s.dial(t, http.Header{"Authorization": []string{"Bearer " + s.token(t, "alice")}}, "")
	bob := s.dial(t, nil, "?token="+s.token(t, "bob"))

	send(t, alice, gateway.ActionCreateRoom, "a1", map[string]any{"title": "Friday"})
	created := readUntil(t, alice, "create ack", ack("a1"))
	if !created.Success {
		t.Fatalf("create failed: %+v", created.Error)
	}
	var summary domain.RoomSummary
	if err := json.Unmarshal(created.Data, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.ID != "ROOM01" || summary.HostUserID != "alice" {
		t.Fatalf("unexpected summary %+v", summary)
	}

	send(t, bob, gateway.ActionJoinRoom, "b1", map[string]any{"roomId": "room01"})
	if f := readUntil(t, bob, "join ack", ack("b1")); !f.Success {
		t.Fatalf("join failed: %+v", f.Error)
	}

	send(t, alice, gateway.ActionStartRound, "a2", map[string]any{"roomId": "ROOM01"})
	if f := readUntil(t, alice, "start ack", ack("a2")); !f.Success {
		t.Fatalf("start failed: %+v", f.Error)
	}

	sent := readUntil(t, bob, "question.sent", event(string(domain.EventQuestionSent)))
	var question domain.QuestionSentPayload
	if err := json.Unmarshal(sent.Data, &question); err != nil {
		t.Fatalf("decode question: %v", err)
	}
	if question.Question.ID != "q1" || len(question.Question.Options) != 4 {
		t.Fatalf("unexpected question %+v", question)
	}
	if strings.Contains(string(sent.Data), "correct") {
		t.Fatalf("question.sent leaked the answer: %s", sent.Data)
	}

	send(t, bob, gateway.ActionSubmitAnswer, "b2", map[string]any{"roomId": "ROOM01", "questionId": "q1", "chosenIndex": 1, "timeTaken": 0})
	if f := readUntil(t, bob, "answer ack", ack("b2")); !f.Success {
		t.Fatalf("answer failed: %+v", f.Error)
	}
	send(t, bob, gateway.ActionSubmitAnswer, "b3", map[string]any{"roomId": "ROOM01", "questionId": "q1", "chosenIndex": 2, "timeTaken": 0})
	if f := readUntil(t, bob, "second answer ack", ack("b3")); f.Success || f.Error.Code != "AlreadyAnswered" {
		t.Fatalf("expected AlreadyAnswered, got %+v", f)
	}

	s.clock.Advance(time.Minute)

	finished := readUntil(t, bob, "round.finished", event(string(domain.EventRoundFinished)))
	var payload domain.RoundFinishedPayload
	if err := json.Unmarshal(finished.Data, &payload); err != nil {
		t.Fatalf("decode round.finished: %v", err)
	}
	if payload.Degraded || len(payload.Leaderboard) != 2 {
		t.Fatalf("unexpected round.finished %+v", payload)
	}
	if top := payload.Leaderboard[0]; top.UserID != "bob" || top.TotalPoints != 1000 || top.Rank != 1 {
		t.Fatalf("expected bob leading with 1000 points, got %+v", top)
	}
}

func TestWebSocketDisconnectLeavesRoom(t *testing.T) {
	s := newTestServer(t)
	s.rnd.QueueString("ROOM01")

	alice := s.dial(t, nil, "?token="+s.token(t, "alice"))
	bob := s.dial(t, nil, "?token="+s.token(t, "bob"))

	send(t, alice, gateway.ActionCreateRoom, "a1", map[string]any{"title": "Friday"})
	readUntil(t, alice, "create ack", ack("a1"))
	send(t, bob, gateway.ActionJoinRoom, "b1", map[string]any{"roomId": "ROOM01"})
	readUntil(t, bob, "join ack", ack("b1"))

	_ = bob.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	bob.Close()

	left := readUntil(t, alice, "room.left", event(string(domain.EventRoomLeft)))
	var payload domain.RoomLeftPayload
	if err := json.Unmarshal(left.Data, &payload); err != nil {
		t.Fatalf("decode room.left: %v", err)
	}
	if payload.UserID != "bob" || payload.ParticipantCount != 1 {
		t.Fatalf("unexpected room.left %+v", payload)
	}
}
