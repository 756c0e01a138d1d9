// services/users.go
package services

import (
	"context"
	"errors"

	"jtrace-service/fault"
	"jtrace-service/models"
	"jtrace-service/utils"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserService struct {
	DB     *gorm.DB
	logger *zap.Logger
}

func NewUserService(db *gorm.DB, logger *zap.Logger) *UserService {
	return &UserService{DB: db, logger: logger.Named("users")}
}

// EnsureUser returns the user for wallet, creating it on first sight.
// Addresses are compared lower-cased, so case variants map to one row.
func (s *UserService) EnsureUser(ctx context.Context, wallet string) (*models.User, error) {
	addr, ok := utils.NormalizeAddress(wallet)
	if !ok {
		if addr == "" {
			return nil, fault.ValidationError("wallet_address is required")
		}
		return nil, fault.ValidationError("wallet_address %q is not a valid wallet address", wallet)
	}

	db := s.DB.WithContext(ctx)

	// Concurrent first calls race on the unique index; the loser's insert is
	// a no-op and both read back the same row.
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet_address"}},
		DoNothing: true,
	}).Create(&models.User{WalletAddress: addr})
	if res.Error != nil {
		return nil, fault.StoreError(res.Error, "failed to register wallet")
	}

	var user models.User
	if err := db.Where("wallet_address = ?", addr).First(&user).Error; err != nil {
		return nil, fault.StoreError(err, "failed to load user")
	}
	if res.RowsAffected > 0 {
		s.logger.Info("user registered", zap.Uint("user_id", user.ID), zap.String("wallet", addr))
	}
	return &user, nil
}

// GetUser loads a user by id.
func (s *UserService) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.NotFoundError("user %d not found", id)
		}
		return nil, fault.StoreError(err, "failed to load user")
	}
	return &user, nil
}
