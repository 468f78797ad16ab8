package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 患者、输液记录或告警不存在
	ErrNotFound = errors.New("not found")
	// ErrInvalidState 当前状态不允许该操作，请求被拒绝且无副作用
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidArgument 请求参数非法
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrStorage 存储层失败
	ErrStorage = errors.New("storage error")
	// ErrTransport 订阅者连接写入失败
	ErrTransport = errors.New("transport error")
)

// StorageError 存储操作失败
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is 使 errors.Is(err, ErrStorage) 成立
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// WrapStorage 包装为 StorageError；nil、领域错误和已包装的错误原样返回
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
