package workerproc

import (
	"context"
	"errors"
	"strings"

	"cv-backend/internal/generations"
	"cv-backend/internal/queue"
	"cv-backend/internal/shared/util"
)

// Processor runs one queued generation.
type Processor interface {
	ProcessGeneration(ctx context.Context, generationID string) error
}

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{}
	}
	return MessageMeta{BodyLen: len(body), BodySHA: util.HashText(body)}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrMissingGenerationID indicates a message missing the generation id.
type ErrMissingGenerationID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingGenerationID) Error() string { return "missing generation id" }

// ErrUnknownGeneration indicates the message names a generation that does not exist.
type ErrUnknownGeneration struct {
	GenerationID string
	RequestID    string
}

func (e ErrUnknownGeneration) Error() string { return "unknown generation " + e.GenerationID }

// ErrProcess indicates processing failed after successful parsing.
type ErrProcess struct {
	GenerationID string
	RequestID    string
	Err          error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process generation"
	}
	return "process generation: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Unrecoverable reports whether redelivering the message can never succeed.
func Unrecoverable(err error) bool {
	switch err.(type) {
	case ErrEmptyBody, ErrDecode, ErrMissingGenerationID, ErrUnknownGeneration:
		return true
	default:
		return false
	}
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if strings.TrimSpace(msg.GenerationID) == "" {
		return msg, meta, ErrMissingGenerationID{Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

// HandleMessage processes an already decoded message.
func HandleMessage(ctx context.Context, processor Processor, msg queue.Message) error {
	if processor == nil {
		return errors.New("generation processor not configured")
	}
	if strings.TrimSpace(msg.GenerationID) == "" {
		return ErrMissingGenerationID{RequestID: msg.RequestID}
	}

	ctxWithRequest := generations.WithRequestID(ctx, msg.RequestID)
	if err := processor.ProcessGeneration(ctxWithRequest, msg.GenerationID); err != nil {
		if errors.Is(err, generations.ErrNotFound) {
			return ErrUnknownGeneration{GenerationID: msg.GenerationID, RequestID: msg.RequestID}
		}
		return ErrProcess{GenerationID: msg.GenerationID, RequestID: msg.RequestID, Err: err}
	}
	return nil
}

// HandleBody parses body and processes it.
func HandleBody(ctx context.Context, processor Processor, body string) error {
	msg, _, err := ParseMessage(body)
	if err != nil {
		return err
	}
	return HandleMessage(ctx, processor, msg)
}
