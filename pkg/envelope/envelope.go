// Package envelope implements the uniform response contract: every API body
// is either an Object or a List envelope, success or failure alike, with the
// transport status mirrored into htmlcode. Wrapping is an explicit transform
// applied at the API boundary, not middleware.
package envelope

import (
	"errors"
	"net/http"

	"github.com/vmdemo/vm-provisioner/pkg/errdefs"
)

// MessageType mirrors the wire enum: 1 success, 2 error, 3 warning.
type MessageType int

const (
	MessageSuccess MessageType = 1
	MessageError   MessageType = 2
	MessageWarning MessageType = 3
)

// DefaultOnPage is the list page size when the caller supplies none.
const DefaultOnPage = 10

// Message is one entry of an envelope's message list. Field is set only for
// validation failures.
type Message struct {
	Type  MessageType `json:"type"`
	Text  string      `json:"message"`
	Field string      `json:"field,omitempty"`
}

// Object is the single-payload envelope. An error envelope always carries a
// null payload; a success envelope always carries one.
type Object struct {
	IsError    bool        `json:"error"`
	StatusCode int         `json:"htmlcode"`
	Payload    interface{} `json:"object"`
	Messages   []Message   `json:"messages"`
}

// List is the paginated envelope. Objects is always a JSON array and
// totalpages obeys ceil(total/onpage) with ceil(0/n)=0.
type List struct {
	IsError    bool        `json:"error"`
	StatusCode int         `json:"htmlcode"`
	Objects    interface{} `json:"objects"`
	Messages   []Message   `json:"messages"`
	Total      int         `json:"total"`
	TotalPages int         `json:"totalpages"`
}

// NewObject wraps a success payload.
func NewObject(payload interface{}, status int) *Object {
	return &Object{
		IsError:    false,
		StatusCode: status,
		Payload:    payload,
		Messages:   []Message{},
	}
}

// NewList wraps a page of results, computing totalpages from onPage.
func NewList(objects interface{}, total, onPage, status int) *List {
	return &List{
		IsError:    false,
		StatusCode: status,
		Objects:    objects,
		Messages:   []Message{},
		Total:      total,
		TotalPages: TotalPages(total, onPage),
	}
}

// Wrap envelopes v unless it already is an envelope. The pass-through guard
// keeps re-wrapping idempotent: an Object or List fed back through Wrap comes
// out unchanged.
func Wrap(v interface{}, status int) interface{} {
	switch e := v.(type) {
	case *Object:
		return e
	case *List:
		return e
	case Object:
		return &e
	case List:
		return &e
	}
	return NewObject(v, status)
}

// Failure classifies err into an error envelope and its transport status.
// Recognized domain failures keep their message text; anything unrecognized
// collapses to a single generic message so internal faults never leak.
func Failure(err error) (*Object, int) {
	var status int
	var messages []Message

	switch {
	case errdefs.IsValidation(err):
		status = http.StatusBadRequest
		var v *errdefs.ValidationError
		if errors.As(err, &v) {
			for _, f := range v.Fields {
				messages = append(messages, Message{Type: MessageError, Text: f.Message, Field: f.Field})
			}
		}
	case errdefs.IsNotFound(err):
		status = http.StatusNotFound
		messages = []Message{{Type: MessageError, Text: err.Error()}}
	case errdefs.IsConfiguration(err), errdefs.IsProvider(err), errdefs.IsStorage(err):
		status = http.StatusInternalServerError
		messages = []Message{{Type: MessageError, Text: err.Error()}}
	default:
		status = http.StatusInternalServerError
		messages = []Message{{Type: MessageError, Text: "Internal server error"}}
	}

	if len(messages) == 0 {
		messages = []Message{{Type: MessageError, Text: "Internal server error"}}
	}

	return &Object{
		IsError:    true,
		StatusCode: status,
		Payload:    nil,
		Messages:   messages,
	}, status
}

// Skip converts a 1-based page into a row offset. Page and onPage below 1
// are coerced to 1 and DefaultOnPage respectively; the coercion is the
// documented behavior for page<=0 and is applied consistently everywhere.
func Skip(page, onPage int) int {
	if page < 1 {
		page = 1
	}
	if onPage < 1 {
		onPage = DefaultOnPage
	}
	return (page - 1) * onPage
}

// TotalPages computes ceil(total/onPage), with 0 for an empty result.
func TotalPages(total, onPage int) int {
	if onPage < 1 {
		onPage = DefaultOnPage
	}
	if total <= 0 {
		return 0
	}
	return (total + onPage - 1) / onPage
}
