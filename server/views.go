package server

import (
	"github.com/chatbridge/chatbridge/types"
)

// PartView is the browser-facing rendering of one message part. File bytes
// are never echoed back; inline files surface as name and type only.
type PartView struct {
	Kind     string         `json:"kind"`
	Text     string         `json:"text,omitempty"`
	FileName string         `json:"file_name,omitempty"`
	MimeType string         `json:"mime_type,omitempty"`
	URI      string         `json:"uri,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// MessageView is one conversation entry as shown to the browser.
type MessageView struct {
	Role  types.Role `json:"role"`
	Parts []PartView `json:"parts"`
}

// TaskView is the full conversation page payload.
type TaskView struct {
	TaskID   string        `json:"task_id"`
	State    string        `json:"state"`
	Found    bool          `json:"found"`
	Messages []MessageView `json:"messages"`
}

// NewTaskView converts fetched history into the browser payload. A nil
// state means the task was not yet visible; the page still renders with an
// empty conversation.
func NewTaskView(taskID string, state *types.TaskState, history []types.Message) TaskView {
	view := TaskView{
		TaskID:   taskID,
		State:    string(types.TaskStateUnknown),
		Found:    state != nil,
		Messages: make([]MessageView, 0, len(history)),
	}
	if state != nil {
		view.State = string(*state)
	}

	for _, message := range history {
		view.Messages = append(view.Messages, newMessageView(message))
	}
	return view
}

func newMessageView(message types.Message) MessageView {
	view := MessageView{
		Role:  message.Role,
		Parts: make([]PartView, 0, len(message.Parts)),
	}

	for _, part := range message.Parts {
		pv := PartView{Kind: string(part.Kind)}
		switch part.Kind {
		case types.PartKindText:
			if part.Text != nil {
				pv.Text = *part.Text
			}
		case types.PartKindFile:
			if part.File != nil {
				if part.File.Name != nil {
					pv.FileName = *part.File.Name
				}
				if part.File.MimeType != nil {
					pv.MimeType = *part.File.MimeType
				}
				if part.File.URI != nil {
					pv.URI = *part.File.URI
				}
			}
		case types.PartKindData:
			pv.Data = part.Data
		}
		view.Parts = append(view.Parts, pv)
	}
	return view
}
