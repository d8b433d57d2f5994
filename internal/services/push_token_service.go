package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/opentreehole/treehole/internal/models"
	apperrors "github.com/opentreehole/treehole/pkg/errors"
)

// PushTokenDTO represents a registered device.
type PushTokenDTO struct {
	UserID    string             `json:"user_id"`
	Service   models.PushService `json:"service"`
	DeviceID  string             `json:"device_id"`
	Token     string             `json:"token"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// UpsertPushTokenInput registers or refreshes a device token.
type UpsertPushTokenInput struct {
	UserID   string
	Service  string
	DeviceID string
	Token    string
}

// PushTokenService maintains the device token registry used for mobile push.
type PushTokenService struct {
	db *gorm.DB
}

// NewPushTokenService constructs a PushTokenService.
func NewPushTokenService(db *gorm.DB) (*PushTokenService, error) {
	if db == nil {
		return nil, errors.New("push token service: db is required")
	}
	return &PushTokenService{db: db}, nil
}

// Upsert stores the token for (user, device). A device previously registered by
// another user is moved to this user.
func (s *PushTokenService) Upsert(ctx context.Context, input UpsertPushTokenInput) (*PushTokenDTO, error) {
	ctx = ensureContext(ctx)

	userID := strings.TrimSpace(input.UserID)
	deviceID := strings.TrimSpace(input.DeviceID)
	token := strings.TrimSpace(input.Token)
	service, ok := models.ParsePushService(input.Service)
	switch {
	case userID == "":
		return nil, apperrors.NewBadRequest("user id is required")
	case !ok:
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unsupported push service %q", input.Service))
	case deviceID == "":
		return nil, apperrors.NewBadRequest("device id is required")
	case token == "":
		return nil, apperrors.NewBadRequest("token is required")
	}

	var stored models.PushToken
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("device_id = ? AND user_id <> ?", deviceID, userID).
			Delete(&models.PushToken{}).Error; err != nil {
			return fmt.Errorf("release device: %w", err)
		}

		row := models.PushToken{
			UserID:   userID,
			Service:  service,
			DeviceID: deviceID,
			Token:    token,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "device_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"service", "token", "updated_at"}),
		}).Create(&row).Error; err != nil {
			if isUniqueConstraintError(err) {
				return apperrors.ErrConflict.WithInternal(err)
			}
			return fmt.Errorf("upsert token: %w", err)
		}

		return tx.Where("user_id = ? AND device_id = ?", userID, deviceID).First(&stored).Error
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, fmt.Errorf("push token service: %w", err)
	}

	dto := mapPushToken(stored)
	return &dto, nil
}

// List returns the user's devices, optionally restricted to one service.
func (s *PushTokenService) List(ctx context.Context, userID string, service models.PushService) ([]PushTokenDTO, error) {
	ctx = ensureContext(ctx)
	query := s.db.WithContext(ctx).Where("user_id = ?", strings.TrimSpace(userID))
	if service != "" {
		query = query.Where("service = ?", service)
	}

	var rows []models.PushToken
	if err := query.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("push token service: list tokens: %w", err)
	}

	items := make([]PushTokenDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapPushToken(row))
	}
	return items, nil
}

// Tokens returns the raw provider tokens registered by the user for a service.
func (s *PushTokenService) Tokens(ctx context.Context, userID string, service models.PushService) ([]string, error) {
	ctx = ensureContext(ctx)
	var tokens []string
	if err := s.db.WithContext(ctx).
		Model(&models.PushToken{}).
		Where("user_id = ? AND service = ?", userID, service).
		Order("created_at ASC").
		Pluck("token", &tokens).Error; err != nil {
		return nil, fmt.Errorf("push token service: load tokens: %w", err)
	}
	return tokens, nil
}

// Delete unregisters the user's device. Missing rows are not an error.
func (s *PushTokenService) Delete(ctx context.Context, userID, deviceID string) error {
	ctx = ensureContext(ctx)
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return apperrors.NewBadRequest("device id is required")
	}
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND device_id = ?", userID, deviceID).
		Delete(&models.PushToken{}).Error; err != nil {
		return fmt.Errorf("push token service: delete token: %w", err)
	}
	return nil
}

// DeleteByToken removes every registration of a token the provider rejected.
func (s *PushTokenService) DeleteByToken(ctx context.Context, service models.PushService, token string) (int64, error) {
	ctx = ensureContext(ctx)
	result := s.db.WithContext(ctx).
		Where("service = ? AND token = ?", service, token).
		Delete(&models.PushToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("push token service: prune token: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountByService reports registered devices per provider.
func (s *PushTokenService) CountByService(ctx context.Context) (map[models.PushService]int64, error) {
	ctx = ensureContext(ctx)
	var rows []struct {
		Service models.PushService
		Total   int64
	}
	if err := s.db.WithContext(ctx).
		Model(&models.PushToken{}).
		Select("service, COUNT(*) AS total").
		Group("service").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("push token service: count tokens: %w", err)
	}

	counts := make(map[models.PushService]int64, len(models.PushServices))
	for _, svc := range models.PushServices {
		counts[svc] = 0
	}
	for _, row := range rows {
		counts[row.Service] = row.Total
	}
	return counts, nil
}

func mapPushToken(row models.PushToken) PushTokenDTO {
	return PushTokenDTO{
		UserID:    row.UserID,
		Service:   row.Service,
		DeviceID:  row.DeviceID,
		Token:     row.Token,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}
