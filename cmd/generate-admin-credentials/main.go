package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

// Dev tool: prints the bcrypt hash and current TOTP code for the admin login.
// The hash goes into ADMIN_PASSWORD_HASH, the secret into ADMIN_TOTP_SECRET.
func main() {
	password := flag.String("password", "", "admin password to hash (omit to only print the TOTP code)")
	flag.Parse()

	secret := os.Getenv("ADMIN_TOTP_SECRET")
	if secret == "" {
		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      "intent-backend",
			AccountName: "admin",
		})
		if err != nil {
			fmt.Printf("Error generating TOTP secret: %v\n", err)
			os.Exit(1)
		}
		secret = key.Secret()
		fmt.Printf("Generated TOTP secret (set ADMIN_TOTP_SECRET): %s\n", secret)
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		fmt.Printf("Error generating TOTP code: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Current TOTP Code: %s\n", code)
	fmt.Printf("Valid for: ~30 seconds\n")

	if *password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
		if err != nil {
			fmt.Printf("Error hashing password: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Password hash (set ADMIN_PASSWORD_HASH): %s\n", string(hash))
	}
}
