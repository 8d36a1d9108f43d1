package model

import (
	"fmt"
	"net/http"
)

// APIError はクライアントに返すエラーを表す。
// レスポンスは {"success": false, "message": Message} の形でStatusとともに返す。
type APIError struct {
	Status  int
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%d] %s", e.Status, e.Message)
}

// レスポンスメッセージ
const (
	MsgLoginSuccessful      = "Login successful"
	MsgInvalidCredentials   = "Invalid credentials"
	MsgInvalidRequestMethod = "Invalid request method"
	MsgInvalidRequestBody   = "Invalid request body"
	MsgTooManyAttempts      = "Too many login attempts"
	MsgCSRFFailed           = "CSRF token validation failed"
	MsgInternalError        = "Internal server error"
)

// NewInvalidRequestMethodError はPOST以外でログインされた場合のエラーを生成する。
func NewInvalidRequestMethodError() *APIError {
	return &APIError{Status: http.StatusBadRequest, Message: MsgInvalidRequestMethod}
}

// NewInvalidRequestBodyError はリクエストボディを解釈できない場合のエラーを生成する。
func NewInvalidRequestBodyError() *APIError {
	return &APIError{Status: http.StatusBadRequest, Message: MsgInvalidRequestBody}
}

// NewInvalidCredentialsError は認証に失敗した場合のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{Status: http.StatusUnauthorized, Message: MsgInvalidCredentials}
}

// NewCSRFFailedError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFFailedError() *APIError {
	return &APIError{Status: http.StatusForbidden, Message: MsgCSRFFailed}
}

// NewTooManyAttemptsError はログイン試行回数の上限に達した場合のエラーを生成する。
func NewTooManyAttemptsError() *APIError {
	return &APIError{Status: http.StatusTooManyRequests, Message: MsgTooManyAttempts}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{Status: http.StatusInternalServerError, Message: MsgInternalError}
}
