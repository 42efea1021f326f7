package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"intent-backend/internal/config"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
)

// OwnerClaims mirrors the claims issued by the auth endpoint.
type OwnerClaims struct {
	Address string `json:"address"`
	jwt.RegisteredClaims
}

// Dev tool: mints an owner session token without going through the
// nonce/signature login, for exercising the API by hand.
func main() {
	address := flag.String("address", "0x742d35Cc6634C0532925a3b0F26750C66d78EB66", "owner address the token is issued for")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	secret := config.AppConfig.Auth.JWTSecret
	if secret == "" {
		secret = "intent-backend-dev-secret"
	}

	owner := common.HexToAddress(*address).Hex()
	now := time.Now()
	claims := OwnerClaims{
		Address: owner,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Subject:   owner,
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		fmt.Printf("Error generating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("============================================================")
	fmt.Println("Owner JWT Generated for Testing")
	fmt.Println("============================================================")
	fmt.Println()
	fmt.Println("Token:")
	fmt.Println(tokenString)
	fmt.Println()
	fmt.Printf("  Address: %s\n", owner)
	fmt.Printf("  Expires: %s\n", claims.ExpiresAt.Time)
	fmt.Println()
	fmt.Printf("curl -H \"Authorization: Bearer %s\" http://localhost:8080/api/receipts\n", tokenString)
}
