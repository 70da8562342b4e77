package types_test

import (
	"encoding/json"
	"testing"

	types "github.com/chatbridge/chatbridge/types"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

func TestPartValidate(t *testing.T) {
	name := "a.png"
	mime := "image/png"

	tests := []struct {
		name    string
		part    types.Part
		wantErr bool
	}{
		{
			name:    "text part with text",
			part:    types.NewTextPart("hello"),
			wantErr: false,
		},
		{
			name:    "text part without text",
			part:    types.Part{Kind: types.PartKindText},
			wantErr: true,
		},
		{
			name:    "file part with bytes",
			part:    types.NewFilePartBytes(&name, &mime, "aGVsbG8="),
			wantErr: false,
		},
		{
			name:    "file part with uri",
			part:    types.NewFilePartURI(&name, &mime, "http://localhost:3000/attachments/t1/a.png"),
			wantErr: false,
		},
		{
			name: "file part with both bytes and uri",
			part: types.Part{
				Kind: types.PartKindFile,
				File: &types.FileContent{
					Bytes: strPtr("aGVsbG8="),
					URI:   strPtr("http://example.com/a.png"),
				},
			},
			wantErr: true,
		},
		{
			name: "file part with neither bytes nor uri",
			part: types.Part{
				Kind: types.PartKindFile,
				File: &types.FileContent{Name: &name},
			},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			part:    types.Part{Kind: "video"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.part.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewUserMessage(t *testing.T) {
	msg := types.NewUserMessage("task-1", []types.Part{types.NewTextPart("hi")})

	assert.Equal(t, "message", msg.Kind)
	assert.Equal(t, types.RoleUser, msg.Role)
	assert.NotEmpty(t, msg.MessageID)
	require.NotNil(t, msg.TaskID)
	assert.Equal(t, "task-1", *msg.TaskID)
	require.Len(t, msg.Parts, 1)
	assert.Equal(t, types.PartKindText, msg.Parts[0].Kind)
}

func TestPartJSONShape(t *testing.T) {
	data, err := json.Marshal(types.NewTextPart("hello"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"text","text":"hello"}`, string(data))

	name := "receipt.pdf"
	data, err = json.Marshal(types.NewFilePartBytes(&name, nil, "aGVsbG8="))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"file","file":{"name":"receipt.pdf","bytes":"aGVsbG8="}}`, string(data))
}

func TestNewTaskNotificationEvent(t *testing.T) {
	update := &types.TaskStatusUpdateEvent{
		Kind:   "status-update",
		TaskID: "task-9",
		Status: types.TaskStatus{State: types.TaskStateCompleted},
		Final:  true,
	}

	event := types.NewTaskNotificationEvent(update)

	assert.Equal(t, types.EventTaskNotification, event.Type())
	assert.Equal(t, "chatbridge/webhook", event.Source())

	var decoded types.TaskStatusUpdateEvent
	require.NoError(t, json.Unmarshal(event.Data(), &decoded))
	assert.Equal(t, "task-9", decoded.TaskID)
	assert.Equal(t, types.TaskStateCompleted, decoded.Status.State)
}

func strPtr(s string) *string { return &s }
