package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wfunc/print-kiosk/internal/config"
	"github.com/wfunc/print-kiosk/internal/utils"
)

// AuthHandler 运维面板认证处理器
//
// 终端只有一个运维账号，来自配置文件，没有用户表。
type AuthHandler struct {
	cfg        *config.AuthConfig
	jwtManager *utils.JWTManager
	logger     *zap.Logger
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(cfg *config.AuthConfig, jwtManager *utils.JWTManager, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		cfg:        cfg,
		jwtManager: jwtManager,
		logger:     logger,
	}
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshTokenRequest 刷新令牌请求
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// AuthResponse 认证响应
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Login 运维登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数错误",
			Details: err.Error(),
		})
		return
	}

	if h.cfg.AdminPassword == "" {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Code:    "LOGIN_DISABLED",
			Message: "未配置运维密码，登录已禁用",
		})
		return
	}

	ok, err := utils.VerifyPassword(req.Password, h.cfg.AdminPassword)
	if err != nil || !ok || req.Username != h.cfg.AdminUsername {
		h.logger.Warn("运维登录失败",
			zap.String("username", req.Username),
			zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Code:    "LOGIN_FAILED",
			Message: "用户名或密码错误",
		})
		return
	}

	accessToken, err := h.jwtManager.GenerateAccessToken(req.Username, "admin")
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "TOKEN_GENERATE_FAILED",
			Message: err.Error(),
		})
		return
	}
	refreshToken, err := h.jwtManager.GenerateRefreshToken(req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "TOKEN_GENERATE_FAILED",
			Message: err.Error(),
		})
		return
	}

	h.logger.Info("运维登录成功",
		zap.String("username", req.Username),
		zap.String("ip", c.ClientIP()))

	c.JSON(http.StatusOK, AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(h.jwtManager.GetTokenExpiry("access").Seconds()),
	})
}

// RefreshToken 刷新访问令牌
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数错误",
			Details: err.Error(),
		})
		return
	}

	accessToken, err := h.jwtManager.RefreshAccessToken(req.RefreshToken, "admin")
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Code:    "REFRESH_FAILED",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, AuthResponse{
		AccessToken: accessToken,
		ExpiresIn:   int64(h.jwtManager.GetTokenExpiry("access").Seconds()),
	})
}
