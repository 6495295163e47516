package server

import (
	"encoding/json"
	"net/http"
)

// APIResponse は JSON API の共通レスポンス形式です。
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// WriteJSON は data を JSON で書き出します。
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess は成功レスポンスを書き出します。
func WriteSuccess(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, APIResponse{Success: true, Data: data})
}

// WriteError はエラーレスポンスを書き出します。
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, APIResponse{Success: false, Error: message})
}
