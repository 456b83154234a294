package batch

import (
	"io"

	"github.com/aramperes/spring-boot-layertools/internal/jartype"
)

// Task is one entry routed to a layer.
type Task struct {
	Record *jartype.Record
	Layer  string
}

// Path returns the slash-separated destination path relative to the
// extraction root.
func (t Task) Path() string {
	return t.Layer + "/" + t.Record.Name
}

// Sink receives decoded entry content during extraction.
//
// Implementations determine where content is written and must be safe for
// concurrent use by multiple workers.
type Sink interface {
	// Writer returns a writer for the task's content.
	// The returned Committer must have Commit() called after a successful
	// decode, or Discard() called on any error.
	Writer(task Task) (Committer, error)

	// Symlink recreates the task's entry as a symbolic link to target.
	Symlink(task Task, target string) error
}

// Committer is a writer that can be committed or discarded.
//
// Implementations should stage writes until Commit is called. For example,
// a file-based implementation might write to a temp file and rename it on
// Commit, or delete it on Discard.
type Committer interface {
	io.Writer

	// Commit finalizes the write, making content available.
	Commit() error

	// Discard aborts the write and cleans up any temporary resources.
	Discard() error
}
