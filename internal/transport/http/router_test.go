package http

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"million-dialogue/internal/domain"
)

func TestRouterDirectory(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("unexpected healthz %d %q", resp.StatusCode, body)
	}

	s.rnd.QueueString("ROOM01")
	conn := s.dial(t, nil, "?token="+s.token(t, "alice"))
	send(t, conn, "create-room", "a1", map[string]any{"title": "Listed"})
	readUntil(t, conn, "create ack", ack("a1"))

	resp, err = http.Get(s.URL + "/rooms")
	if err != nil {
		t.Fatalf("list rooms: %v", err)
	}
	var rooms []domain.RoomSummary
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		t.Fatalf("decode rooms: %v", err)
	}
	resp.Body.Close()
	if len(rooms) != 1 || rooms[0].ID != "ROOM01" || rooms[0].Title != "Listed" {
		t.Fatalf("unexpected rooms %+v", rooms)
	}

	resp, err = http.Get(s.URL + "/rooms/room01")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	var summary domain.RoomSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode room: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || summary.ParticipantCount != 1 {
		t.Fatalf("unexpected room %d %+v", resp.StatusCode, summary)
	}

	resp, err = http.Get(s.URL + "/rooms/NOPE00")
	if err != nil {
		t.Fatalf("get missing room: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, s.URL+"/rooms", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post rooms: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}
