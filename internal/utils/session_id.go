package utils

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const sessionIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateSessionID returns a short random id used to correlate the log
// lines and spans of one mount.
func GenerateSessionID() string {
	id, err := gonanoid.Generate(sessionIDAlphabet, 12)
	if err != nil {
		panic(err)
	}
	return id
}
