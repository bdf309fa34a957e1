package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/orderexec/engine/internal/config"
	"github.com/orderexec/engine/internal/storage"
)

func main() {
	godotenv.Load()
	cfg := config.Load()

	fmt.Println("Connecting to order store...")
	if _, err := storage.Open(cfg.DatabaseURL, cfg.DatabasePath); err != nil {
		fmt.Printf("connection error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("orders table migrated")
}
