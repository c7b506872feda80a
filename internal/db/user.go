package db

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User is an operator allowed to trigger imports and read results.
// The bootstrap admin (from env) is created as a row on startup.
type User struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"size:255;not null"`

	IsAdmin bool `gorm:"default:false"`
}

// ErrInvalidCredentials covers both an unknown user and a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Authenticate returns the user when password matches its bcrypt hash.
func Authenticate(db *gorm.DB, username, password string) (*User, error) {
	var u User
	err := db.Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &u, nil
}
