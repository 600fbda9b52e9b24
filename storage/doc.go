// Package storage defines the backend capability interface for the
// file-transfer gateway and ships two implementations of it: a reference
// filesystem provider and an S3-compatible provider.
//
// A Provider addresses data as (container, object) pairs, where a container
// is a flat, named grouping of objects (directory or key prefix). Every
// operation validates both names with ValidName before touching the backend,
// so a provider never sees a path-traversal attempt.
//
// Writes go through a WriteStream whose Close reports success only after the
// backend has confirmed persistence; callers that abort mid-transfer use
// Abort to discard the partial object. Reads may be bounded to an inclusive
// byte range.
//
// Example:
//
//	provider, err := storage.NewLocal("/var/lib/filegate")
//	if err != nil {
//		return err
//	}
//
//	ws, err := provider.OpenWrite(ctx, "avatars", "u42.png")
//	if err != nil {
//		return err
//	}
//	if _, err := io.Copy(ws, src); err != nil {
//		_ = ws.Abort()
//		return err
//	}
//	return ws.Close() // nil only once the object is durably stored
package storage
