// Package transfer implements the streaming upload and download pipelines on
// top of a storage.Provider.
//
// Uploads parse the multipart body part by part without buffering files in
// memory: policy checks that only need headers (extension, content type) run
// before any byte is written, while the size cap and the MD5/SHA-256 digests
// are enforced and accumulated chunk by chunk as bytes flow into the backend
// write stream. A policy violation mid-stream stops reading the part, aborts
// the backend stream and removes whatever was persisted, so a failed upload
// never leaves an object that looks complete.
//
// Downloads resolve an object to a backend read stream, honoring a single
// "bytes=start-end" Range header, and emit partial-content headers before any
// byte is written to the response.
package transfer
