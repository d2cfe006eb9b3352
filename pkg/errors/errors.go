// Package errors 提供應用程式錯誤處理
//
// 核心層所有操作都回傳 error，但傳輸層對前置條件失敗維持「靜默忽略」：
// 只記錄 debug 日誌、不回應客戶端。唯有計分庫失敗會回報給發起的連線。
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodePrecondition 前置條件不成立（連線/房間/遊戲不存在、重複作答、空輸入）
	ErrCodePrecondition = "PRECONDITION_NOT_MET"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeLedger 計分庫讀寫失敗
	ErrCodeLedger = "LEDGER_FAILURE"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 錯誤碼與訊息都相同才視為同一個錯誤，Details 不參與比對
//
// 只比對錯誤碼請用 IsPrecondition 等函式。
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 回傳附帶詳細資訊的副本（預定義錯誤不可被修改）
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	ErrConnectionNotFound = New(ErrCodePrecondition, "connection not registered")
	ErrNotInRoom          = New(ErrCodePrecondition, "connection is not in a room")
	ErrRoomNotFound       = New(ErrCodePrecondition, "room not found")
	ErrEmptyInput         = New(ErrCodePrecondition, "empty input")
	ErrNoSession          = New(ErrCodePrecondition, "no active game session")
	ErrAlreadyAnswered    = New(ErrCodePrecondition, "answer already recorded for this question")
	ErrNotAccepting       = New(ErrCodePrecondition, "game is not accepting answers")
	ErrNoQuestions        = New(ErrCodePrecondition, "game needs at least one question")
	ErrInvalidScore       = New(ErrCodeInvalidInput, "username and non-negative points are required")
	ErrLedgerUnavailable  = New(ErrCodeLedger, "score ledger unavailable")
)

// IsPrecondition 檢查是否為前置條件錯誤（傳輸層據此靜默忽略）
func IsPrecondition(err error) bool {
	return hasCode(err, ErrCodePrecondition)
}

// IsInvalidInput 檢查是否為無效輸入錯誤
func IsInvalidInput(err error) bool {
	return hasCode(err, ErrCodeInvalidInput)
}

// IsLedgerFailure 檢查是否為計分庫錯誤
func IsLedgerFailure(err error) bool {
	return hasCode(err, ErrCodeLedger)
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
