package telegram

import (
	"encoding/json"
	"fmt"
)

// APIResponse описывает общую обёртку ответа Bot API.
type APIResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// InputMediaPhoto описывает элемент sendMediaGroup.
type InputMediaPhoto struct {
	Type    string `json:"type"`
	Media   string `json:"media"`
	Caption string `json:"caption,omitempty"`
}

// Photo содержит скачанную картинку, готовую к загрузке файлом.
type Photo struct {
	Name        string
	ContentType string
	Data        []byte
}

// APIError описывает отказ Bot API.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("telegram %s: status %d", e.Method, e.StatusCode)
	}
	return fmt.Sprintf("telegram %s: status %d: %s", e.Method, e.StatusCode, e.Description)
}
