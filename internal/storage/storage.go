// Package storage provides blob storage for the Voxnote backend.
//
// This package defines a Storage interface with implementations for:
// - LocalStorage: File system storage for development
// - S3Storage: S3-compatible object storage (Cloudflare R2) for production
//
// The storage service holds uploaded audio and exported artifacts. All of a
// user's objects live under the users/{userID}/ prefix so account deletion
// can enumerate and remove them with a prefix listing.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Storage defines the interface for blob storage operations.
//
// All methods are context-aware for timeout and cancellation support.
// Delete is idempotent: removing an absent key is success.
type Storage interface {
	// Put stores data at the specified key with the given options.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get retrieves the data at the specified key.
	// Returns the data as an io.ReadCloser (caller must close), object
	// metadata, and an error. Returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Delete removes the object at the specified key.
	// Idempotent: no error is returned if the key doesn't exist.
	Delete(ctx context.Context, key string) error

	// List returns metadata for every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Exists checks if an object exists at the specified key.
	Exists(ctx context.Context, key string) (bool, error)
}

// =============================================================================
// Data Types
// =============================================================================

// PutOptions configures how an object is stored.
type PutOptions struct {
	// ContentType specifies the MIME type of the object.
	ContentType string

	// MaxSize specifies the maximum allowed size in bytes.
	// If the data exceeds this size, ErrTooLarge is returned.
	// A value of 0 means no limit.
	MaxSize int64

	// Overwrite allows replacing an existing object at the same key.
	// If false and the key exists, ErrKeyExists is returned.
	Overwrite bool
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string    // Object key/path
	Size         int64     // Size in bytes
	ContentType  string    // MIME type
	LastModified time.Time // Last modification time
	ETag         string    // Entity tag (if available)
}

// =============================================================================
// Configuration Types
// =============================================================================

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory where files are stored.
	// Example: "./storage" or "/var/lib/voxnote/files"
	BasePath string
}

// S3Config holds configuration for S3-compatible storage (Cloudflare R2).
type S3Config struct {
	// AccountID is the Cloudflare account ID (forms the R2 endpoint).
	AccountID string

	// AccessKeyID is the API access key ID.
	AccessKeyID string

	// SecretAccessKey is the API secret key.
	SecretAccessKey string

	// BucketName is the name of the bucket to use.
	BucketName string

	// Region is the region string required by the AWS SDK.
	// For R2 this can be any valid region string. Default: "auto"
	Region string
}

// =============================================================================
// Key Generation Helpers
// =============================================================================

// UserPrefix returns the key prefix under which all of a user's objects
// live. Account deletion lists and deletes this prefix.
func UserPrefix(userID string) string {
	return fmt.Sprintf("users/%s/", userID)
}

// AudioKey generates a storage key for an uploaded audio file.
// Format: users/{userID}/audio/{uuid}{ext}
func AudioKey(userID, filename string) string {
	ext := path.Ext(filename)
	audioID := uuid.New()
	return fmt.Sprintf("users/%s/audio/%s%s", userID, audioID, ext)
}

// ExportKey generates a storage key for an exported transcript artifact.
// Format: users/{userID}/exports/{uuid}.{format}
func ExportKey(userID, format string) string {
	exportID := uuid.New()
	return fmt.Sprintf("users/%s/exports/%s.%s", userID, exportID, format)
}
