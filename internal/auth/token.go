package auth

import (
	"crypto/rand"
	"encoding/hex"
)

// generateToken は暗号的に安全なランダム値を16進文字列で生成する。
// セッションIDとCSRFトークンの両方に使用する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
