package main

import (
	"log"

	"refchain/services/referrald"
)

func main() {
	if err := referrald.Main(); err != nil {
		log.Fatalf("referrald: %v", err)
	}
}
