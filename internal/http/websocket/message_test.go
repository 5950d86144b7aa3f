package websocket_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/hbomb79/Iris/internal/http/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_SocketMessage_ValidateArguments(t *testing.T) {
	tests := []struct {
		summary  string
		body     map[string]interface{}
		required map[string]string
		wantErr  bool
	}{
		{"string argument present", map[string]interface{}{"task_id": "abc"}, map[string]string{"task_id": "string"}, false},
		{"missing key", map[string]interface{}{}, map[string]string{"task_id": "string"}, true},
		{"empty string rejected", map[string]interface{}{"task_id": ""}, map[string]string{"task_id": "string"}, true},
		{"number argument present", map[string]interface{}{"limit": float64(5)}, map[string]string{"limit": "number"}, false},
		{"string where number expected", map[string]interface{}{"limit": "five"}, map[string]string{"limit": "number"}, true},
		{"unknown required type", map[string]interface{}{"flag": true}, map[string]string{"flag": "bool"}, true},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			message := &websocket.SocketMessage{Title: "DOWNLOAD_STATUS", Body: test.body, Type: websocket.Command}
			err := message.ValidateArguments(test.required)
			if test.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func Test_SocketMessage_FormReply(t *testing.T) {
	origin := uuid.New()
	command := &websocket.SocketMessage{
		Title:  "DOWNLOAD_STATUS",
		Body:   map[string]interface{}{"task_id": "abc"},
		Id:     42,
		Type:   websocket.Command,
		Origin: &origin,
	}

	reply := command.FormReply("COMMAND_SUCCESS", map[string]interface{}{"download": "payload"}, websocket.Response)

	require.NotNil(t, reply)
	assert.Equal(t, "COMMAND_SUCCESS", reply.Title)
	assert.Equal(t, 42, reply.Id, "a reply carries the id of the message it answers")
	assert.Equal(t, &origin, reply.Target, "a reply is targeted back at the origin client")
	assert.Equal(t, websocket.Response, reply.Type)
	assert.Equal(t, command.Body, reply.Body["command"], "the originating command is echoed in the reply body")
}
