package storage

import "errors"

var (
	// ErrInvalidName is returned when a container or object name is empty,
	// contains a path separator, or is a parent-directory reference.
	ErrInvalidName = errors.New("invalid name")

	// ErrContainerNotFound is returned when the requested container does not exist.
	ErrContainerNotFound = errors.New("container not found")

	// ErrContainerExists is returned when creating a container that already exists.
	ErrContainerExists = errors.New("container already exists")

	// ErrContainerNotEmpty is returned when a container cannot be destroyed
	// because one of its members could not be removed.
	ErrContainerNotEmpty = errors.New("container not empty")

	// ErrObjectNotFound is returned when the requested object does not exist.
	ErrObjectNotFound = errors.New("file not found")
)
