package domain

import "errors"

// Transfer errors - failures reported to callers of the wagon
var (
	// ErrConnection indicates the repository could not be reached or opened
	ErrConnection = errors.New("connection failed")

	// ErrAuthentication indicates credentials were rejected while connecting
	ErrAuthentication = errors.New("authentication failed")

	// ErrAuthorization indicates credentials were rejected for an operation
	ErrAuthorization = errors.New("authorization failed")

	// ErrResourceNotFound indicates the requested resource does not exist
	// or has the wrong kind
	ErrResourceNotFound = errors.New("resource does not exist")

	// ErrTransferFailed indicates a transfer could not be completed
	ErrTransferFailed = errors.New("transfer failed")
)

// Path kind errors - 路徑種類不符
var (
	// ErrNotDirectory indicates expected a directory but got a file
	ErrNotDirectory = errors.New("not a directory")

	// ErrNotFile indicates expected a file but got a directory
	ErrNotFile = errors.New("not a file")
)

// Config errors - 設定檔錯誤
var (
	// ErrConfigNotFound indicates config file not found
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid indicates config file is malformed
	ErrConfigInvalid = errors.New("invalid config")

	// ErrRepositoryNotFound indicates referenced repository doesn't exist
	ErrRepositoryNotFound = errors.New("repository not found")
)
