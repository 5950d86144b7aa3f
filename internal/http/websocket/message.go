package websocket

import (
	"fmt"

	"github.com/google/uuid"
)

type socketMessageType int

const (
	Update socketMessageType = iota
	Command
	Response
	ErrorResponse
	Welcome
)

// SocketMessage is the unit of communication over the activity socket.
// The Id field can be used when replying to a message so the receiving
// client knows which message the reply is for; Origin and Target likewise
// route replies to the websocket of the matching client.
type SocketMessage struct {
	Title  string                 `json:"title"`
	Body   map[string]interface{} `json:"arguments"`
	Id     int                    `json:"id"`
	Type   socketMessageType      `json:"type"`
	Origin *uuid.UUID             `json:"-"`
	Target *uuid.UUID             `json:"-"`
}

// ValidateArguments checks the message body contains each required key with
// a value of the required primitive type.
func (message *SocketMessage) ValidateArguments(required map[string]string) error {
	const errFmt = "failed to validate key '%v' with type '%v' - %#v"

	for key, expectedType := range required {
		value, ok := message.Body[key]
		if !ok {
			return fmt.Errorf("failed to validate key '%v' - key is missing", key)
		}

		switch expectedType {
		case "number", "int":
			if _, ok := value.(float64); !ok {
				return fmt.Errorf(errFmt, key, expectedType, value)
			}
		case "string":
			if fmt.Sprintf("%v", value) == "" {
				return fmt.Errorf(errFmt, key, expectedType, value)
			}
		default:
			return fmt.Errorf(errFmt, key, expectedType, "unknown type")
		}
	}

	return nil
}

// FormReply returns a NEW message targeted back at the origin of this
// message, carrying the same id so the client can correlate the reply.
func (message *SocketMessage) FormReply(replyTitle string, replyBody map[string]interface{}, replyType socketMessageType) *SocketMessage {
	if replyBody != nil {
		replyBody["command"] = message.Body
	}

	return &SocketMessage{
		Title:  replyTitle,
		Body:   replyBody,
		Type:   replyType,
		Id:     message.Id,
		Target: message.Origin,
	}
}
