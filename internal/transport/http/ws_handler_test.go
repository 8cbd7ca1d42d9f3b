package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"live-quiz-engine/internal/domain"

	"github.com/gorilla/websocket"
)

func TestWebSocketAnswerFlow(t *testing.T) {
	router, engine := newTestRouter(t, "")
	startSession(t, engine)
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dial(t, server.URL+"/ws?sessionId=quiz-1&participantId=u1&name=Alice")
	defer conn.Close()

	// Expect the snapshot first.
	snapMsg := readNext(t, conn, string(domain.EventSnapshot))
	var snap domain.Snapshot
	if err := json.Unmarshal(snapMsg.Payload, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.State != domain.StateActive || snap.Question == nil || snap.Question.Question.ID != "q1" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(snap.Question.Question.Key.Options) != 0 {
		t.Fatalf("snapshot leaked the answer key")
	}
	if len(snap.Reconnect) == 0 {
		t.Fatalf("expected reconnect schedule in snapshot")
	}

	// Send an answer.
	answer := map[string]any{
		"type": "answer",
		"payload": map[string]any{
			"questionId": "q1",
			"answer":     choiceAnswer("o2"),
		},
	}
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}

	// Expect answer-result and leaderboard-delta in either order.
	answerSeen := false
	deltaSeen := false
	for i := 0; i < 2; i++ {
		msg := readNext(t, conn, "")
		switch domain.EventType(msg.Type) {
		case domain.EventAnswerResult:
			answerSeen = true
			var receipt domain.Receipt
			if err := json.Unmarshal(msg.Payload, &receipt); err != nil || !receipt.Correct {
				t.Fatalf("unexpected receipt %s (%v)", msg.Payload, err)
			}
		case domain.EventLeaderboardDelta:
			deltaSeen = true
			if msg.Seq <= snapMsg.Seq {
				t.Fatalf("delta seq %d not after snapshot", msg.Seq)
			}
		}
	}
	if !answerSeen || !deltaSeen {
		t.Fatalf("expected answer-result and leaderboard-delta, got answer=%v delta=%v", answerSeen, deltaSeen)
	}

	// A second answer is rejected on this socket only.
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write duplicate: %v", err)
	}
	msg := readNext(t, conn, string(domain.EventError))
	var failure domain.ErrorPayload
	if err := json.Unmarshal(msg.Payload, &failure); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if failure.Reason != domain.ReasonDuplicateSubmission {
		t.Fatalf("expected duplicate reason, got %+v", failure)
	}
}

func TestWebSocketReceivesSessionEnd(t *testing.T) {
	router, engine := newTestRouter(t, "")
	startSession(t, engine, "u1")
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dial(t, server.URL+"/ws?sessionId=quiz-1&participantId=u1")
	defer conn.Close()
	readNext(t, conn, string(domain.EventSnapshot))

	if err := engine.End(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("end: %v", err)
	}
	msg := readNext(t, conn, string(domain.EventSessionEnded))
	var ended domain.SessionEnded
	if err := json.Unmarshal(msg.Payload, &ended); err != nil {
		t.Fatalf("decode session end: %v", err)
	}
	if len(ended.Leaderboard.Entries) != 1 {
		t.Fatalf("expected final standings, got %+v", ended.Leaderboard)
	}
}

func TestWebSocketRejectsUnknownParticipant(t *testing.T) {
	router, engine := newTestRouter(t, "")
	startSession(t, engine)
	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?sessionId=quiz-1&participantId=ghost"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %+v", resp)
	}
}

type wireEvent struct {
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

func dial(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(httpURL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readNext(t *testing.T, conn *websocket.Conn, expect string) wireEvent {
	t.Helper()
	var msg wireEvent
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg
}
