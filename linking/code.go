package linking

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	challengeBytes = 3
	// ManualCode marks records created through the moderator override.
	ManualCode = "MANUAL"
)

// newChallengeCode returns six uppercase hex characters.
func newChallengeCode() (string, error) {
	b := make([]byte, challengeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate challenge code: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}
