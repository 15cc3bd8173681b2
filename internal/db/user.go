package db

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User is a dashboard operator. The bootstrap admin from config is created
// as a row in this table on startup.
type User struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"size:255;not null"`

	// IsAdmin marks users that can manage other users.
	IsAdmin bool `gorm:"default:false"`
}

// CreateUser hashes password and inserts a new user.
func CreateUser(ctx context.Context, db *gorm.DB, username, password string, isAdmin bool) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &User{Username: username, PasswordHash: string(hash), IsAdmin: isAdmin}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate returns the user when password matches, gorm.ErrRecordNotFound otherwise.
func Authenticate(ctx context.Context, db *gorm.DB, username, password string) (*User, error) {
	var u User
	if err := db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, gorm.ErrRecordNotFound
	}
	return &u, nil
}

// UserByUsername loads a user by name.
func UserByUsername(ctx context.Context, db *gorm.DB, username string) (*User, error) {
	var u User
	if err := db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}
