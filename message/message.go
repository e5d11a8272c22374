// Package message stores the append-only conversation attached to a task.
package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"helpmate/docstore"

	"github.com/google/uuid"
)

var (
	ErrEmptyBody     = errors.New("message: body is empty")
	ErrMissingParty  = errors.New("message: sender, receiver and task are required")
	ErrSelfAddressed = errors.New("message: sender and receiver are the same user")
)

// MaxBodyLength bounds a single message.
const MaxBodyLength = 2000

type Message struct {
	ID         string     `json:"-"`
	SenderID   string     `json:"senderId" validate:"required"`
	ReceiverID string     `json:"receiverId" validate:"required"`
	TaskID     string     `json:"taskId" validate:"required"`
	Body       string     `json:"body" validate:"required,max=2000"`
	CreatedAt  time.Time  `json:"createdAt"`
	ReadAt     *time.Time `json:"readAt,omitempty"`
}

type SendParams struct {
	SenderID   string
	ReceiverID string
	TaskID     string
	Body       string
}

type Service struct {
	store docstore.Store
	now   func() time.Time
	idGen func() string
}

func NewService(store docstore.Store) *Service {
	return &Service{
		store: store,
		now:   time.Now,
		idGen: uuid.NewString,
	}
}

// WithClock allows tests to override the clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// WithIDGenerator allows tests to override id generation.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	if gen != nil {
		s.idGen = gen
	}
	return s
}

// Send appends a message to the task's conversation.
func (s *Service) Send(ctx context.Context, params SendParams) (Message, error) {
	m := Message{
		SenderID:   strings.TrimSpace(params.SenderID),
		ReceiverID: strings.TrimSpace(params.ReceiverID),
		TaskID:     strings.TrimSpace(params.TaskID),
		Body:       strings.TrimSpace(params.Body),
	}
	if m.SenderID == "" || m.ReceiverID == "" || m.TaskID == "" {
		return Message{}, ErrMissingParty
	}
	if m.SenderID == m.ReceiverID {
		return Message{}, ErrSelfAddressed
	}
	if m.Body == "" {
		return Message{}, ErrEmptyBody
	}

	m.ID = s.idGen()
	m.CreatedAt = s.now().UTC()
	fields, err := docstore.Encode(docstore.CollectionMessages, m.ID, m)
	if err != nil {
		return Message{}, err
	}
	if err := s.store.Set(ctx, docstore.CollectionMessages, m.ID, fields); err != nil {
		return Message{}, fmt.Errorf("message: send: %w", err)
	}
	return m, nil
}

// ListForTask returns the task's messages, oldest first.
func (s *Service) ListForTask(ctx context.Context, taskID string) ([]Message, error) {
	docs, err := s.store.Query(ctx, docstore.Query{
		Collection: docstore.CollectionMessages,
		Filters:    []docstore.Filter{{Field: "taskId", Value: taskID}},
		OrderBy:    docstore.OrderByCreateTime,
	})
	if err != nil {
		return nil, fmt.Errorf("message: list for task: %w", err)
	}
	out := make([]Message, 0, len(docs))
	for _, doc := range docs {
		var m Message
		if err := docstore.Decode(doc, &m); err != nil {
			return nil, err
		}
		m.ID = doc.ID
		out = append(out, m)
	}
	return out, nil
}

// MarkRead stamps the message as read by its receiver. Marking twice keeps
// the first timestamp.
func (s *Service) MarkRead(ctx context.Context, id, readerID string) (Message, error) {
	doc, err := s.store.Update(ctx, docstore.CollectionMessages, id, func(cur docstore.Document, exists bool) (docstore.Fields, error) {
		if !exists {
			return nil, docstore.ErrNotFound
		}
		if cur.Fields.String("receiverId") != readerID {
			return nil, fmt.Errorf("message: %s is not the receiver", readerID)
		}
		if !docstore.IsBlank(cur.Fields["readAt"]) {
			return nil, nil
		}
		return docstore.Fields{"readAt": s.now().UTC()}, nil
	})
	if err != nil {
		return Message{}, fmt.Errorf("message: mark read: %w", err)
	}
	var m Message
	if err := docstore.Decode(doc, &m); err != nil {
		return Message{}, err
	}
	m.ID = doc.ID
	return m, nil
}
