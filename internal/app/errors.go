package app

import (
	"errors"
	"fmt"
)

// ErrNotConfigured возвращается, когда пайплайн запущен без обязательных зависимостей.
var ErrNotConfigured = errors.New("pipeline dependencies not configured")

// SourceFetchError: источник не отдал посты; источник пропускается до следующего прогона.
type SourceFetchError struct {
	SourceID string
	Err      error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("fetch source %s: %v", e.SourceID, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

// PublishError: публикация поста не удалась; пост пропускается.
type PublishError struct {
	SourceID    string
	Fingerprint string
	Err         error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish post %.12s from %s: %v", e.Fingerprint, e.SourceID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// PersistenceError: не удалось прочитать или записать состояние.
// Прогон продолжается с тем, что есть в памяти.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("state %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
