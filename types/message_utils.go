package types

import (
	"fmt"

	"github.com/google/uuid"
)

// NewUserMessage creates a user message for the given task with the provided
// parts and a freshly generated message id.
func NewUserMessage(taskID string, parts []Part) Message {
	return Message{
		Kind:      "message",
		MessageID: uuid.New().String(),
		Role:      RoleUser,
		Parts:     parts,
		TaskID:    &taskID,
	}
}

// NewTextPart creates a text part.
func NewTextPart(text string) Part {
	return Part{
		Kind: PartKindText,
		Text: &text,
	}
}

// NewFilePartBytes creates a file part carrying an inline base64 payload.
func NewFilePartBytes(name, mimeType *string, base64Data string) Part {
	return Part{
		Kind: PartKindFile,
		File: &FileContent{
			Name:     name,
			MimeType: mimeType,
			Bytes:    &base64Data,
		},
	}
}

// NewFilePartURI creates a file part referencing externally stored content.
func NewFilePartURI(name, mimeType *string, uri string) Part {
	return Part{
		Kind: PartKindFile,
		File: &FileContent{
			Name:     name,
			MimeType: mimeType,
			URI:      &uri,
		},
	}
}

// Validate checks the structural invariants of a part. A file part must carry
// bytes or a URI, never both and never neither.
func (p Part) Validate() error {
	switch p.Kind {
	case PartKindText:
		if p.Text == nil {
			return fmt.Errorf("text part has no text")
		}
	case PartKindFile:
		if p.File == nil {
			return fmt.Errorf("file part has no file content")
		}
		hasBytes := p.File.Bytes != nil && *p.File.Bytes != ""
		hasURI := p.File.URI != nil && *p.File.URI != ""
		if hasBytes == hasURI {
			return fmt.Errorf("file part must carry bytes or a uri, not both or neither")
		}
	case PartKindData:
		if p.Data == nil {
			return fmt.Errorf("data part has no data")
		}
	default:
		return fmt.Errorf("unknown part kind %q", p.Kind)
	}
	return nil
}
