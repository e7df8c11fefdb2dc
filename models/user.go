package models

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/utils"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type UserRole string

const (
	UserRoleAdmin    UserRole = "A"
	UserRoleUploader UserRole = "U"
)

type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;not null;unique" json:"username"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Password  string    `gorm:"size:255;not null" json:"password,omitempty"`
	Role      UserRole  `gorm:"size:1;not null;default:U" json:"role"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Username string   `json:"username" binding:"required,max=100"`
	Name     string   `json:"name" binding:"required,max=100"`
	Password string   `json:"password" binding:"required,min=8"`
	Role     UserRole `json:"role" binding:"omitempty,oneof=A U"`
}

type LoginInfo struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

var ErrInvalidCredentials = errors.New("invalid username or password")

/*
caches:
	Session:$sessionId -> user id, for the token lifetime
*/

func sessionKey(sessionId string) string {
	return "Session:" + sessionId
}

func (user *User) IsAdmin() bool {
	return user.Role == UserRoleAdmin
}

func (result *User) PrepareGive() {
	result.Password = ""
}

func (user *User) CurrentUser() utils.CurrentUser {
	return utils.CurrentUser{ID: user.ID, Username: user.Username, Name: user.Name, IsAdmin: user.IsAdmin()}
}

func (input *NewUser) validate(ctx context.Context, db *gorm.DB) error {
	input.Username = strings.ToLower(strings.TrimSpace(input.Username))
	input.Name = strings.TrimSpace(input.Name)
	if input.Username == "" {
		return utils.NewValidationError("username", "is required")
	}
	if input.Name == "" {
		return utils.NewValidationError("name", "is required")
	}
	if len(input.Password) < utils.MinPasswordLength {
		return utils.NewValidationError("password", "must be at least 8 characters")
	}
	if input.Role == "" {
		input.Role = UserRoleUploader
	}
	if input.Role != UserRoleAdmin && input.Role != UserRoleUploader {
		return utils.NewValidationError("role", "must be one of A U")
	}
	return utils.ValidateUnique[User](ctx, db, "username", input.Username, 0)
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {

	db := config.GetDB()
	if err := input.validate(ctx, db); err != nil {
		return nil, err
	}
	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	user := User{
		Username: input.Username,
		Name:     input.Name,
		Password: string(hashed),
		Role:     input.Role,
		IsActive: utils.NewTrue(),
	}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	user.PrepareGive()
	return &user, nil
}

// EnsureAdmin creates the admin account or resets its password, role and active flag.
func EnsureAdmin(ctx context.Context, username string, name string, password string) (*User, error) {

	db := config.GetDB()
	username = strings.ToLower(strings.TrimSpace(username))
	var user User
	err := db.WithContext(ctx).Where("username = ?", username).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CreateUser(ctx, &NewUser{Username: username, Name: name, Password: password, Role: UserRoleAdmin})
	}
	if err != nil {
		return nil, err
	}
	if len(password) < utils.MinPasswordLength {
		return nil, utils.NewValidationError("password", "must be at least 8 characters")
	}
	hashed, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
		"Password": string(hashed),
		"Role":     UserRoleAdmin,
		"IsActive": true,
	}).Error; err != nil {
		return nil, err
	}
	user.PrepareGive()
	return &user, nil
}

func GetUser(ctx context.Context, id int) (*User, error) {

	user, err := utils.FetchModel[User](ctx, config.GetDB(), "user", id)
	if err != nil {
		return nil, err
	}
	user.PrepareGive()
	return user, nil
}

func Login(ctx context.Context, username string, password string) (*LoginInfo, error) {

	db := config.GetDB()
	var user User
	err := db.WithContext(ctx).Where("username = ?", strings.ToLower(strings.TrimSpace(username))).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	// check login credentials
	if err := utils.ComparePassword(user.Password, password); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !utils.DereferencePtr(user.IsActive) {
		return nil, fmt.Errorf("user is disabled: %w", utils.ErrForbidden)
	}

	token, sessionId, expiresAt, err := utils.JwtGenerate(user.ID, string(user.Role), user.IsAdmin())
	if err != nil {
		return nil, err
	}
	// store session in redis
	if err := config.SetRedisValue(sessionKey(sessionId), strconv.Itoa(user.ID), time.Until(expiresAt)); err != nil {
		return nil, err
	}

	user.PrepareGive()
	return &LoginInfo{Token: token, ExpiresAt: expiresAt, User: &user}, nil
}

// destroy current session
func Logout(ctx context.Context) error {
	sessionId, ok := utils.GetSessionIdFromContext(ctx)
	if !ok || sessionId == "" {
		return utils.ErrUnauthorized
	}
	return config.RemoveRedisKey(sessionKey(sessionId))
}

// SessionUserId returns the user id stored for the session, if it is still alive.
func SessionUserId(sessionId string) (int, bool, error) {
	val, ok, err := config.GetRedisValue(sessionKey(sessionId))
	if err != nil || !ok {
		return 0, false, err
	}
	id, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}
