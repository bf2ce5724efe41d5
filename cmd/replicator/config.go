package main

import (
	"log"
	"os"
	"strconv"
)

// envOrDefault and friends mirror the teacher's cmd/relayfile/main.go
// intEnv/durationEnv helpers: a fallback is used whenever a variable
// is unset or malformed, with a logged warning in the latter case.
func envOrDefault(name, fallback string) string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	return raw
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}
