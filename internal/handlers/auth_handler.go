package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"log"

	"intent-backend/internal/config"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Owner sessions: the client proves control of an address by signing a
// server-issued nonce (eth personal-sign), then receives a short-lived JWT
// whose subject is the address. Owner-only endpoints trust that claim.

// OwnerClaims JWT claims for owner sessions
type OwnerClaims struct {
	Address string `json:"address"`
	jwt.RegisteredClaims
}

// AuthHandler issues owner session tokens
type AuthHandler struct {
	mu     sync.Mutex
	nonces map[string]time.Time // nonce -> issued at
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler() *AuthHandler {
	return &AuthHandler{nonces: make(map[string]time.Time)}
}

func jwtSecret() []byte {
	if config.AppConfig != nil && config.AppConfig.Auth.JWTSecret != "" {
		return []byte(config.AppConfig.Auth.JWTSecret)
	}
	return []byte("intent-backend-dev-secret")
}

// GenerateNonceHandler issues a login nonce
// GET /api/auth/nonce
func (h *AuthHandler) GenerateNonceHandler(c *gin.Context) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate nonce"})
		return
	}
	nonce := hex.EncodeToString(buf)

	h.mu.Lock()
	h.nonces[nonce] = time.Now()
	// Drop stale nonces
	for n, issued := range h.nonces {
		if time.Since(issued) > 5*time.Minute {
			delete(h.nonces, n)
		}
	}
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"nonce":   nonce,
		"message": loginMessage(nonce),
	})
}

func loginMessage(nonce string) string {
	return fmt.Sprintf("intent-backend login: %s", nonce)
}

// AuthenticateRequest login request body
type AuthenticateRequest struct {
	Address   string `json:"address" binding:"required"`
	Nonce     string `json:"nonce" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// AuthenticateHandler verifies the signed nonce and issues an owner token
// POST /api/auth/login
func (h *AuthHandler) AuthenticateHandler(c *gin.Context) {
	var req AuthenticateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
		return
	}

	h.mu.Lock()
	issued, ok := h.nonces[req.Nonce]
	if ok {
		delete(h.nonces, req.Nonce) // single use
	}
	h.mu.Unlock()
	if !ok || time.Since(issued) > 5*time.Minute {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unknown or expired nonce", "code": "BAD_NONCE"})
		return
	}

	recovered, err := recoverSigner(loginMessage(req.Nonce), req.Signature)
	if err != nil || recovered != common.HexToAddress(req.Address) {
		log.Printf("❌ Signature verification failed for %s: %v", req.Address, err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Signature verification failed", "code": "BAD_SIGNATURE"})
		return
	}

	ttl := 60 * time.Minute
	if config.AppConfig != nil && config.AppConfig.Auth.TokenTTLMinutes > 0 {
		ttl = time.Duration(config.AppConfig.Auth.TokenTTLMinutes) * time.Minute
	}
	claims := OwnerClaims{
		Address: recovered.Hex(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Subject:   recovered.Hex(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	log.Printf("✅ Owner authenticated: %s", recovered.Hex())
	c.JSON(http.StatusOK, gin.H{"token": token, "address": recovered.Hex()})
}

// recoverSigner recovers the address from an eth personal-sign signature.
func recoverSigner(message, signature string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	// Normalize the recovery id
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	digest := crypto.Keccak256([]byte(prefixed))

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// ValidateJWTToken validates an owner session token and returns its claims.
func ValidateJWTToken(tokenString string) (*OwnerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &OwnerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret(), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*OwnerClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
