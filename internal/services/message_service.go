package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/opentreehole/treehole/internal/models"
	apperrors "github.com/opentreehole/treehole/pkg/errors"
)

// MessageDTO is the wire shape of a notification shared by the socket
// protocol, the REST API and push payloads.
type MessageDTO struct {
	ID          uint            `json:"message_id"`
	Message     string          `json:"message"`
	Code        string          `json:"code"`
	Data        json.RawMessage `json:"data"`
	HasRead     bool            `json:"has_read"`
	TimeCreated time.Time       `json:"time_created"`
}

// EventKey identifies the message for realtime de-duplication.
func (m MessageDTO) EventKey() string {
	return fmt.Sprintf("message:%d", m.ID)
}

// CreateMessageInput defines attributes required to persist a message.
type CreateMessageInput struct {
	UserID string
	Text   string
	Code   string
	Data   map[string]any
}

// ListMessagesInput filters a user's messages. A zero Limit returns every row.
type ListMessagesInput struct {
	UserID     string
	UnreadOnly bool
	Limit      int
	Offset     int
}

// MessageService persists notification messages and their read state.
type MessageService struct {
	db *gorm.DB
}

// NewMessageService constructs a MessageService.
func NewMessageService(db *gorm.DB) (*MessageService, error) {
	if db == nil {
		return nil, errors.New("message service: db is required")
	}
	return &MessageService{db: db}, nil
}

// Create inserts an unread message for the recipient.
func (s *MessageService) Create(ctx context.Context, input CreateMessageInput) (*MessageDTO, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, errors.New("message service: user id is required")
	}
	code := strings.TrimSpace(input.Code)
	if len(code) > 30 {
		return nil, fmt.Errorf("message service: code %q exceeds 30 characters", code)
	}

	data, err := encodeJSON(input.Data)
	if err != nil {
		return nil, fmt.Errorf("message service: %w", err)
	}

	message := models.Message{
		UserID:  userID,
		Text:    input.Text,
		Code:    code,
		Data:    data,
		HasRead: false,
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		return nil, fmt.Errorf("message service: create message: %w", err)
	}

	dto := MapMessage(message)
	return &dto, nil
}

// List returns the user's messages, newest first.
func (s *MessageService) List(ctx context.Context, input ListMessagesInput) ([]MessageDTO, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, errors.New("message service: user id is required")
	}

	query := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC")
	if input.UnreadOnly {
		query = query.Where("has_read = ?", false)
	}
	if limit := clampLimit(input.Limit); limit > 0 {
		query = query.Limit(limit)
	}
	if input.Offset > 0 {
		query = query.Offset(input.Offset)
	}

	var rows []models.Message
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("message service: list messages: %w", err)
	}
	return mapMessageRows(rows), nil
}

// Unread returns every unread message for the user in creation order.
func (s *MessageService) Unread(ctx context.Context, userID string) ([]MessageDTO, error) {
	ctx = ensureContext(ctx)
	var rows []models.Message
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND has_read = ?", userID, false).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("message service: list unread: %w", err)
	}
	return mapMessageRows(rows), nil
}

// Get loads a message owned by the user.
func (s *MessageService) Get(ctx context.Context, userID string, id uint) (*MessageDTO, error) {
	ctx = ensureContext(ctx)
	message, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	dto := MapMessage(*message)
	return &dto, nil
}

// MarkRead sets the read flag of a message owned by the user.
func (s *MessageService) MarkRead(ctx context.Context, userID string, id uint) (*MessageDTO, error) {
	return s.setRead(ctx, userID, id, true)
}

// MarkUnread clears the read flag of a message owned by the user.
func (s *MessageService) MarkUnread(ctx context.Context, userID string, id uint) (*MessageDTO, error) {
	return s.setRead(ctx, userID, id, false)
}

// MarkAllRead marks every unread message of the user as read and reports how many changed.
func (s *MessageService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)
	result := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("user_id = ? AND has_read = ?", userID, false).
		Update("has_read", true)
	if result.Error != nil {
		return 0, fmt.Errorf("message service: mark all read: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountUnread returns the number of unread messages for the user.
func (s *MessageService) CountUnread(ctx context.Context, userID string) (int, error) {
	ctx = ensureContext(ctx)
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("user_id = ? AND has_read = ?", userID, false).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("message service: count unread: %w", err)
	}
	return int(count), nil
}

// CountAllUnread returns the unread backlog across every user.
func (s *MessageService) CountAllUnread(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("has_read = ?", false).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("message service: count unread backlog: %w", err)
	}
	return count, nil
}

func (s *MessageService) setRead(ctx context.Context, userID string, id uint, read bool) (*MessageDTO, error) {
	ctx = ensureContext(ctx)
	message, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if message.HasRead != read {
		if err := s.db.WithContext(ctx).
			Model(&models.Message{}).
			Where("id = ?", message.ID).
			Update("has_read", read).Error; err != nil {
			return nil, fmt.Errorf("message service: update read flag: %w", err)
		}
		message.HasRead = read
	}

	dto := MapMessage(*message)
	return &dto, nil
}

func (s *MessageService) load(ctx context.Context, userID string, id uint) (*models.Message, error) {
	var message models.Message
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&message).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("message service: load message: %w", err)
	}
	return &message, nil
}

func mapMessageRows(rows []models.Message) []MessageDTO {
	items := make([]MessageDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, MapMessage(row))
	}
	return items
}

// MapMessage converts a stored row into its wire shape.
func MapMessage(row models.Message) MessageDTO {
	return MessageDTO{
		ID:          row.ID,
		Message:     row.Text,
		Code:        row.Code,
		Data:        rawJSON(row.Data),
		HasRead:     row.HasRead,
		TimeCreated: row.CreatedAt,
	}
}
