package handlers

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// AdminClaims JWT claims for admin sessions
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AdminAuthHandler authenticates operators: bcrypt password plus a TOTP
// second factor, both configured through the environment.
type AdminAuthHandler struct {
	passwordHash string // bcrypt hash, from ADMIN_PASSWORD_HASH
	totpSecret   string // from ADMIN_TOTP_SECRET
}

// NewAdminAuthHandler creates a new AdminAuthHandler
func NewAdminAuthHandler() *AdminAuthHandler {
	passwordHash := os.Getenv("ADMIN_PASSWORD_HASH")
	totpSecret := os.Getenv("ADMIN_TOTP_SECRET")
	if passwordHash == "" || totpSecret == "" {
		logrus.Warn("⚠️ ADMIN_PASSWORD_HASH or ADMIN_TOTP_SECRET not set - admin API disabled")
	}
	return &AdminAuthHandler{
		passwordHash: passwordHash,
		totpSecret:   totpSecret,
	}
}

// AdminLoginRequest admin login request body
type AdminLoginRequest struct {
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code" binding:"required"`
}

// AdminLoginHandler verifies password + TOTP and issues an admin token
// POST /admin/auth/login
func (h *AdminAuthHandler) AdminLoginHandler(c *gin.Context) {
	if h.passwordHash == "" || h.totpSecret == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Admin API is not configured",
			"code":  "ADMIN_DISABLED",
		})
		return
	}

	var req AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(h.passwordHash), []byte(req.Password)); err != nil {
		logrus.Warn("Admin login rejected - bad password")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials", "code": "BAD_CREDENTIALS"})
		return
	}
	if !totp.Validate(req.TOTPCode, h.totpSecret) {
		logrus.Warn("Admin login rejected - bad TOTP code")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid TOTP code", "code": "BAD_TOTP"})
		return
	}

	claims := AdminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(2 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   "admin",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	logrus.Info("✅ Admin authenticated")
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// ValidateAdminJWTToken validates an admin session token.
func ValidateAdminJWTToken(tokenString string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret(), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid || claims.Role != "admin" {
		return nil, fmt.Errorf("invalid admin token")
	}
	return claims, nil
}
