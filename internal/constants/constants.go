// Package constants provides shared constants used across the codebase.
package constants

import "time"

// Upload constants
const (
	// MaxUploadSize is the maximum photo upload size in bytes (50MB)
	MaxUploadSize = 50 << 20

	// MaxMultipartMemory is how much of a multipart body is kept in memory
	MaxMultipartMemory = 32 << 20

	// MaxRequestBodySize leaves room for multipart headers and form fields
	MaxRequestBodySize = MaxUploadSize + 1<<20
)

// HTTP server constants
const (
	// RequestTimeout bounds a single API request, including model calls
	RequestTimeout = 2 * time.Minute

	ReadTimeout  = 30 * time.Second
	WriteTimeout = 3 * time.Minute
	IdleTimeout  = 60 * time.Second

	// ShutdownTimeout is how long in-flight requests get before the index is saved
	ShutdownTimeout = 30 * time.Second
)

// Bib search constants
const (
	// DefaultBibPageSize is the page size for bib search results
	DefaultBibPageSize = 100
)

// Backfill constants
const (
	// DefaultDirConcurrency is the default number of photos indexed in parallel by `index dir`
	DefaultDirConcurrency = 2
)

// ImageExtensions are the file extensions picked up by `index dir`
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".bmp", ".gif"}
