package main

import (
	"log"

	"github.com/joho/godotenv"

	"careline/cmd/internal/app"
)

func main() {
	// Optional .env for local development; env vars win when both are set.
	_ = godotenv.Load()

	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
