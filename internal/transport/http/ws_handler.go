package http

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"sdm-elearning-service/internal/app"
)

// WSHandler exposes a learning session over a websocket: one connection per
// user, full session snapshots pushed after every change, commands inbound.
type WSHandler struct {
	service  *app.LearningService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.LearningService) *WSHandler {
	return &WSHandler{
		service: service,
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

type loginPayload struct {
	Name       string `json:"name"`
	ExternalID string `json:"externalId"`
}

type modulePayload struct {
	ModuleID string `json:"moduleId"`
}

type submitQuizPayload struct {
	ModuleID string            `json:"moduleId"`
	Answers  map[string]string `json:"answers"`
}

type togglePayload struct {
	ModuleID string `json:"moduleId"`
	IsActive bool   `json:"isActive"`
}

type adminModePayload struct {
	Enabled bool `json:"enabled"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request, boots the user's session, and bridges it to
// the socket: a writer goroutine serializes all outbound traffic while a pump
// forwards session snapshots.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	session, err := h.service.StartSession(r.Context(), userID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer session.Close()

	updates, cancel := session.Subscribe()
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

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
		defer close(updatesDone)
		for {
			select {
			case view, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "session", Payload: view}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(r, session, send, inbound)
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) dispatch(r *http.Request, session *app.Session, send chan<- outboundMessage[any], inbound inboundMessage) {
	fail := func(message string) {
		send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: message}}
	}

	switch inbound.Type {
	case "login":
		var payload loginPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail("invalid login payload")
			return
		}
		if err := session.Login(r.Context(), payload.Name, payload.ExternalID); err != nil {
			fail(err.Error())
		}
	case "openModule":
		var payload modulePayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail("invalid openModule payload")
			return
		}
		module, err := session.OpenModule(payload.ModuleID)
		if err != nil {
			fail(err.Error())
			return
		}
		send <- outboundMessage[any]{Type: "module", Payload: module}
	case "submitQuiz":
		var payload submitQuizPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail("invalid submitQuiz payload")
			return
		}
		answers, err := indexAnswers(payload.Answers)
		if err != nil {
			fail("invalid submitQuiz payload")
			return
		}
		result, err := session.SubmitQuiz(r.Context(), payload.ModuleID, answers)
		if err != nil {
			fail(err.Error())
			return
		}
		send <- outboundMessage[any]{Type: "quizResult", Payload: result}
	case "toggleModule":
		var payload togglePayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail("invalid toggleModule payload")
			return
		}
		if err := session.SetModuleActive(r.Context(), payload.ModuleID, payload.IsActive); err != nil {
			fail(err.Error())
		}
	case "adminMode":
		var payload adminModePayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail("invalid adminMode payload")
			return
		}
		if err := session.SetAdminMode(payload.Enabled); err != nil {
			fail(err.Error())
		}
	default:
		fail("unsupported message type")
	}
}

// indexAnswers converts the wire form (JSON object keys are strings) into the
// scorer's index-keyed map.
func indexAnswers(raw map[string]string) (map[int]string, error) {
	answers := make(map[int]string, len(raw))
	for key, value := range raw {
		idx, err := strconv.Atoi(key)
		if err != nil {
			return nil, err
		}
		answers[idx] = value
	}
	return answers, nil
}
