package service

import (
	"errors"

	"collaborative-sketchpad/internal/repository"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrSketchpadNotFound    = errors.New("sketchpad not found")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRegistrationFailed   = errors.New("registration failed: username or email already exists")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidStrokes       = errors.New("invalid stroke batch")
	ErrForbidden            = errors.New("strokes do not belong to the caller")
	ErrInternalServer       = errors.New("internal server error")
)

// mapRepoError 把仓库层错误映射为服务层错误，notFound 是该资源对应的 "未找到" 错误。
func mapRepoError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	return ErrInternalServer
}
