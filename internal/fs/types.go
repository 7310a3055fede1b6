// Package fs finds PDFs on disk for bulk ingestion.
package fs

import "time"

// FileInfo describes a PDF found by the walker.
type FileInfo struct {
	Path    string    // Absolute path to the file
	RelPath string    // Path relative to the root
	Size    int64     // File size in bytes
	ModTime time.Time // Last modification time
	Hash    string    // xxhash of file contents
}

// WalkOptions configures the PDF walker.
type WalkOptions struct {
	// Root is a directory to walk or a single PDF file.
	Root string

	// MaxFileSize skips larger files (in bytes). Zero means no limit.
	MaxFileSize int64

	// IgnorePatterns are additional patterns to ignore (gitignore syntax).
	IgnorePatterns []string

	// IncludeHidden includes hidden files and directories.
	IncludeHidden bool

	// UseGitignore respects a .gitignore at the root.
	UseGitignore bool
}

// WalkStats contains statistics from a walk.
type WalkStats struct {
	FilesFound   int
	FilesSkipped int
	DirsSkipped  int
	TotalBytes   int64
}
