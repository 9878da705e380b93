package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/keyrelay/internal/config"
	"github.com/keyrelay/internal/logger"
	"github.com/keyrelay/internal/models"
	"github.com/keyrelay/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	minAdminPasswordLength = 8
	defaultTokenHours      = 24
	tokenIssuer            = "keyrelay-admin"

	defaultAdminUsername = "admin"
	defaultAdminPassword = "admin123"
)

// AuthService 管理员认证服务
type AuthService struct {
	cfg       *config.Config
	adminRepo repository.AdminRepository
	now       func() time.Time
}

// NewAuthService 创建认证服务实例
func NewAuthService(cfg *config.Config, adminRepo repository.AdminRepository) *AuthService {
	return &AuthService{
		cfg:       cfg,
		adminRepo: adminRepo,
		now:       time.Now,
	}
}

// JWTClaims 管理端 Token 声明，Subject 为管理员 ID
type JWTClaims struct {
	Username     string `json:"username"`
	TokenVersion uint64 `json:"token_version"`
	jwt.RegisteredClaims
}

// AdminID 解析 Subject 中的管理员 ID
func (c *JWTClaims) AdminID() uint {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

// HashPassword 使用 bcrypt 加密密码
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword 验证密码
func (s *AuthService) VerifyPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// GenerateJWT 签发 Token，携带 Token 版本用于改密后吊销
func (s *AuthService) GenerateJWT(admin *models.Admin) (string, time.Time, error) {
	hours := s.cfg.JWT.ExpireHours
	if hours <= 0 {
		hours = defaultTokenHours
	}
	now := s.now()
	expiresAt := now.Add(time.Duration(hours) * time.Hour)

	claims := JWTClaims{
		Username:     admin.Username,
		TokenVersion: admin.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatUint(uint64(admin.ID), 10),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWT.SecretKey))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseJWT 解析并校验 Token 签名、签发方与有效期
func (s *AuthService) ParseJWT(tokenString string) (*JWTClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
	)
	claims := &JWTClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWT.SecretKey), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.AdminID() == 0 {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Authenticate 校验 Token 并确认管理员仍然有效
func (s *AuthService) Authenticate(ctx context.Context, tokenString string) (*models.Admin, error) {
	claims, err := s.ParseJWT(tokenString)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	admin, err := s.adminRepo.GetByID(ctx, claims.AdminID())
	if err != nil {
		return nil, err
	}
	if admin == nil || admin.TokenVersion != claims.TokenVersion {
		return nil, ErrInvalidCredentials
	}
	return admin, nil
}

// Login 管理员登录
func (s *AuthService) Login(ctx context.Context, username, password string) (*models.Admin, string, time.Time, error) {
	admin, err := s.adminRepo.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, "", time.Time{}, err
	}
	if admin == nil || s.VerifyPassword(admin.PasswordHash, password) != nil {
		return nil, "", time.Time{}, ErrInvalidCredentials
	}

	token, expiresAt, err := s.GenerateJWT(admin)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	now := s.now()
	if err := s.adminRepo.TouchLogin(ctx, admin.ID, now); err != nil {
		return nil, "", time.Time{}, err
	}
	admin.LastLoginAt = &now
	return admin, token, expiresAt, nil
}

// Profile 查询管理员
func (s *AuthService) Profile(ctx context.Context, adminID uint) (*models.Admin, error) {
	admin, err := s.adminRepo.GetByID(ctx, adminID)
	if err != nil {
		return nil, err
	}
	if admin == nil {
		return nil, ErrNotFound
	}
	return admin, nil
}

// ChangePassword 修改密码，成功后旧 Token 全部失效
func (s *AuthService) ChangePassword(ctx context.Context, adminID uint, oldPassword, newPassword string) error {
	admin, err := s.Profile(ctx, adminID)
	if err != nil {
		return err
	}
	if err := s.VerifyPassword(admin.PasswordHash, oldPassword); err != nil {
		return ErrInvalidPassword
	}
	if utf8.RuneCountInString(newPassword) < minAdminPasswordLength {
		return ErrWeakPassword
	}

	hashed, err := s.HashPassword(newPassword)
	if err != nil {
		return err
	}
	rotated, err := s.adminRepo.RotatePassword(ctx, admin.ID, admin.TokenVersion, hashed)
	if err != nil {
		return err
	}
	if !rotated {
		// 并发改密，以先提交者为准
		return ErrInvalidPassword
	}
	logger.Infow("admin_password_changed", "admin_id", admin.ID)
	return nil
}

// EnsureAdmin 无管理员时创建初始账号，密码为空使用默认值并告警
func (s *AuthService) EnsureAdmin(ctx context.Context, username, password string) error {
	count, err := s.adminRepo.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	username = strings.TrimSpace(username)
	if username == "" {
		username = defaultAdminUsername
	}
	usingDefault := password == ""
	if usingDefault {
		password = defaultAdminPassword
	}
	hashed, err := s.HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.adminRepo.Create(ctx, &models.Admin{Username: username, PasswordHash: hashed}); err != nil {
		return err
	}
	if usingDefault {
		logger.Warnw("default_admin_created_with_default_password", "username", username)
		return nil
	}
	logger.Infow("default_admin_created", "username", username)
	return nil
}
