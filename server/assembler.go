package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"

	"github.com/chatbridge/chatbridge/types"
	"go.uber.org/zap"
)

// Validation errors surfaced to the caller before any agent call is made.
var (
	ErrMissingTaskID = errors.New("missing task_id")
	ErrEmptyMessage  = errors.New("message cannot be empty")
)

// Form field names understood by the assembler.
const (
	fieldTaskID  = "task_id"
	fieldMessage = "message"
)

// FormField is one named field from a multipart submission, either a short
// text value or a binary blob with optional filename and content type.
type FormField struct {
	Name        string
	Value       string
	Filename    string
	ContentType string
	Data        []byte
	IsFile      bool
}

// MessageAssembler builds a user message from ordered form fields. When an
// attachment store is configured, uploads above the inline threshold are
// stored out of band and referenced by URI instead of traveling as base64.
type MessageAssembler struct {
	logger         *zap.Logger
	attachments    AttachmentStore
	inlineMaxBytes int64
}

// NewMessageAssembler creates a message assembler. The attachment store may
// be nil, in which case every upload is carried inline.
func NewMessageAssembler(logger *zap.Logger, attachments AttachmentStore, inlineMaxBytes int64) *MessageAssembler {
	return &MessageAssembler{
		logger:         logger,
		attachments:    attachments,
		inlineMaxBytes: inlineMaxBytes,
	}
}

// Assemble turns the ordered field set into a user message. The text part,
// when present, leads the part sequence; attachments follow in arrival
// order. Unknown text fields are logged and skipped.
func (a *MessageAssembler) Assemble(ctx context.Context, fields []FormField) (*types.Message, error) {
	var taskID string
	var messageText string
	var parts []types.Part

	for _, field := range fields {
		if field.IsFile {
			part, err := a.attachmentPart(ctx, field)
			if err != nil {
				return nil, err
			}
			if part != nil {
				parts = append(parts, *part)
			}
			continue
		}

		switch field.Name {
		case fieldTaskID:
			taskID = field.Value
		case fieldMessage:
			messageText = field.Value
		default:
			a.logger.Warn("unknown form field", zap.String("field", field.Name))
		}
	}

	if taskID == "" {
		return nil, ErrMissingTaskID
	}

	if messageText != "" {
		parts = append([]types.Part{types.NewTextPart(messageText)}, parts...)
	}

	if len(parts) == 0 {
		return nil, ErrEmptyMessage
	}

	msg := types.NewUserMessage(taskID, parts)
	return &msg, nil
}

// attachmentPart builds a file part for one upload. Empty uploads produce no
// part. Oversized uploads are offloaded to the attachment store when one is
// configured; the part then carries a URI instead of bytes.
func (a *MessageAssembler) attachmentPart(ctx context.Context, field FormField) (*types.Part, error) {
	if len(field.Data) == 0 {
		return nil, nil
	}

	var name, mimeType *string
	if field.Filename != "" {
		name = &field.Filename
	}
	if field.ContentType != "" {
		mimeType = &field.ContentType
	}

	a.logger.Info("received file upload",
		zap.String("field", field.Name),
		zap.String("filename", field.Filename),
		zap.String("content_type", field.ContentType),
		zap.Int("size_bytes", len(field.Data)))

	if a.attachments != nil && a.inlineMaxBytes > 0 && int64(len(field.Data)) > a.inlineMaxBytes {
		uri, err := a.attachments.Store(ctx, GenerateAttachmentID(), field.Filename, bytes.NewReader(field.Data))
		if err != nil {
			return nil, fmt.Errorf("failed to store attachment: %w", err)
		}
		part := types.NewFilePartURI(name, mimeType, uri)
		return &part, nil
	}

	encoded := base64.StdEncoding.EncodeToString(field.Data)
	part := types.NewFilePartBytes(name, mimeType, encoded)
	return &part, nil
}

// ReadFormFields drains a multipart reader into ordered form fields,
// bounding each part at maxBytes.
func ReadFormFields(reader *multipart.Reader, maxBytes int64) ([]FormField, error) {
	var fields []FormField

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return fields, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read multipart field: %w", err)
		}

		data, err := io.ReadAll(io.LimitReader(part, maxBytes+1))
		closeErr := part.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read field %q: %w", part.FormName(), err)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("failed to close field %q: %w", part.FormName(), closeErr)
		}
		if int64(len(data)) > maxBytes {
			return nil, fmt.Errorf("field %q exceeds the %d byte upload limit", part.FormName(), maxBytes)
		}

		if part.FileName() != "" {
			fields = append(fields, FormField{
				Name:        part.FormName(),
				Filename:    part.FileName(),
				ContentType: part.Header.Get("Content-Type"),
				Data:        data,
				IsFile:      true,
			})
			continue
		}

		fields = append(fields, FormField{
			Name:  part.FormName(),
			Value: string(data),
		})
	}
}
