package http

import (
	"encoding/json"
	"log"
	"net/http"

	"lms-attempt-service/internal/app"
	"lms-attempt-service/internal/attempt"
	"lms-attempt-service/internal/domain"
	"github.com/gorilla/websocket"
)

// WSHandler attaches clients to live attempt sessions over websockets.
type WSHandler struct {
	attempts *app.AttemptService
	upgrader websocket.Upgrader
}

func NewWSHandler(attempts *app.AttemptService) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
}

type flagPayload struct {
	QuestionID string `json:"questionId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// questionView is quiz content with the correct-answer flags stripped;
// grading happens server-side only.
type questionView struct {
	ID      string       `json:"id"`
	Prompt  string       `json:"prompt"`
	Options []optionView `json:"options"`
	Multi   bool         `json:"multi"`
	Points  int          `json:"points"`
}

type optionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type statePayload struct {
	QuizID    string               `json:"quizId"`
	Title     string               `json:"title"`
	Questions []questionView       `json:"questions"`
	Remaining int                  `json:"remaining"`
	Answers   map[string][]string  `json:"answers"`
	Flagged   []string             `json:"flaggedQuestions"`
	Status    domain.AttemptStatus `json:"status"`
}

type submittedPayload struct {
	Auto  bool         `json:"auto"`
	Score domain.Score `json:"score"`
}

type countdownPayload struct {
	Remaining int `json:"remaining"`
}

// ServeWS upgrades the request and wires the connection into an
// attempt session: countdown events flow out, answer/flag/submit
// commands flow in. Closing the connection detaches the session and
// stops its timers.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	userID := r.URL.Query().Get("userId")
	if quizID == "" || userID == "" {
		http.Error(w, "missing quizId or userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	session, err := h.attempts.Open(r.Context(), quizID, userID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer h.attempts.Close(quizID, userID)

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		events := session.Events()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				msg, final := h.eventMessage(session, ev)
				select {
				case send <- msg:
				case <-closeSignals:
					return
				}
				if final {
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "state", Payload: stateView(session)}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
				continue
			}
			if err := session.SelectAnswer(payload.QuestionID, payload.OptionID); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[any]{Type: "state", Payload: stateView(session)}
		case "flag":
			var payload flagPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid flag payload"}}
				continue
			}
			if err := session.ToggleFlag(payload.QuestionID); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[any]{Type: "state", Payload: stateView(session)}
		case "submit":
			did, err := session.Submit(r.Context())
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			if did {
				send <- outboundMessage[any]{Type: "submitted", Payload: submittedPayload{Auto: false, Score: session.Score()}}
			}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

func (h *WSHandler) eventMessage(session *app.AttemptSession, ev attempt.Event) (outboundMessage[any], bool) {
	switch ev.Type {
	case attempt.EventWarning:
		return outboundMessage[any]{Type: "warning", Payload: countdownPayload{Remaining: ev.Remaining}}, false
	case attempt.EventSubmitted:
		if ev.Err != nil {
			return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: ev.Err.Error()}}, true
		}
		return outboundMessage[any]{Type: "submitted", Payload: submittedPayload{Auto: ev.Auto, Score: session.Score()}}, true
	default:
		return outboundMessage[any]{Type: "tick", Payload: countdownPayload{Remaining: ev.Remaining}}, false
	}
}

func stateView(session *app.AttemptSession) statePayload {
	quiz := session.Quiz()
	state := session.State()

	questions := make([]questionView, 0, len(quiz.Questions))
	for _, q := range quiz.Questions {
		options := make([]optionView, 0, len(q.Options))
		for _, opt := range q.Options {
			options = append(options, optionView{ID: opt.ID, Text: opt.Text})
		}
		points := q.Points
		if points == 0 {
			points = 1
		}
		questions = append(questions, questionView{
			ID:      q.ID,
			Prompt:  q.Prompt,
			Options: options,
			Multi:   q.Multi,
			Points:  points,
		})
	}
	return statePayload{
		QuizID:    quiz.ID,
		Title:     quiz.Title,
		Questions: questions,
		Remaining: session.Remaining(),
		Answers:   state.Answers,
		Flagged:   state.Flagged,
		Status:    state.Status,
	}
}
