package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User represents a registered user. The core only reads users.
type User struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"size:255;not null;index" json:"name"`
	Email      string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Password   string    `gorm:"not null" json:"-"` // Never return password in JSON
	ProfilePic *string   `gorm:"size:512" json:"profile_pic"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RegisterRequest is the multipart form of the registration endpoint
type RegisterRequest struct {
	Name     string `form:"name" binding:"required,max=255"`
	Email    string `form:"email" binding:"required,email"`
	Password string `form:"password" binding:"required,min=6"`
}

// LoginRequest is the request structure for user login
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// UpdateProfileRequest carries the optional name of a profile update
type UpdateProfileRequest struct {
	Name string `form:"name" binding:"omitempty,max=255"`
}

// UserResponse is the response structure for user data (without sensitive info)
type UserResponse struct {
	ID            uint   `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email,omitempty"`
	ProfilePic    string `json:"profile_pic,omitempty"`
	ProfilePicURL string `json:"profile_pic_url,omitempty"`
}

// HashPassword hashes a password for storage
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPasswordHash compares a password with a hash
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// BeforeCreate is a GORM hook to hash the password before saving
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if _, err := bcrypt.Cost([]byte(u.Password)); err == nil {
		return nil
	}
	hashedPassword, err := HashPassword(u.Password)
	if err != nil {
		return err
	}
	u.Password = hashedPassword
	return nil
}

// ToResponse converts a User model to a UserResponse. Email is included only
// for the user's own profile.
func (u *User) ToResponse(withEmail bool) UserResponse {
	resp := UserResponse{ID: u.ID, Name: u.Name}
	if withEmail {
		resp.Email = u.Email
	}
	if u.ProfilePic != nil {
		resp.ProfilePic = *u.ProfilePic
	}
	return resp
}
