package main

import (
	"fmt"
	"log"

	"gptbridge/core"
)

func main() {
	log.Printf("🔑 Generating new status endpoint token...")

	// Generate a new secret key with "st" prefix for status endpoint auth
	token, err := core.NewSecretKey("st")
	if err != nil {
		log.Fatalf("❌ Failed to generate token: %v", err)
	}

	fmt.Printf("Generated token: %s\n", token)
	fmt.Println("Set it as STATUS_AUTH_TOKEN to require bearer auth on /status")
	log.Printf("✅ Successfully generated status endpoint token")
}
