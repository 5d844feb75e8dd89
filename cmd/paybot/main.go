package main

import (
	"log"

	"github.com/m3rciful/paybot/core/cmd"
)

func main() {
	if err := cmd.Run(cmd.Options{
		DefaultConfigPath: "config.yaml",
	}); err != nil {
		log.Fatalf("paybot: %v", err)
	}
}
