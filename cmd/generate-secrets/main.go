package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aloy/roommate-booking/internal/models"
	"github.com/aloy/roommate-booking/internal/utils"
	"github.com/aloy/roommate-booking/pkg/jwt"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	var (
		devTokenUser string
		devTokenTTL  time.Duration
	)
	flag.StringVar(&devTokenUser, "dev-token", "", "Also mint a TENANT access token for this user id, signed with JWT_SECRET")
	flag.DurationVar(&devTokenTTL, "dev-token-ttl", 24*time.Hour, "Lifetime of the -dev-token")
	flag.Parse()

	if devTokenUser != "" {
		mintDevToken(devTokenUser, devTokenTTL)
		return
	}

	fmt.Println("===========================================")
	fmt.Println("Secret Generator for Roommate Booking")
	fmt.Println("===========================================")
	fmt.Println()

	jwtSecret, callbackSecret, err := utils.GenerateServiceSecrets()
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}

	fmt.Println("✅ Secrets generated successfully!")
	fmt.Println()
	fmt.Println("Add these to your .env file:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", jwtSecret)
	fmt.Printf("GATEWAY_CALLBACK_SECRET=%s\n", callbackSecret)
	fmt.Println()
	fmt.Println("⚠️  IMPORTANT: Keep these secrets safe and never commit them to version control!")
	fmt.Println("===========================================")
}

// mintDevToken prints a bearer token for local testing against a running server
func mintDevToken(rawUserID string, ttl time.Duration) {
	_ = godotenv.Load()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET must be set to mint a dev token")
	}
	userID, err := uuid.Parse(rawUserID)
	if err != nil {
		log.Fatalf("invalid user id: %v", err)
	}

	token, err := jwt.NewService(secret, ttl).GenerateAccessToken(userID, "", []string{models.RoleTenant})
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(token)
}
