package compile

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// Sentinels matched by errors.Is for the two failure kinds.
var (
	ErrTemplateSyntax = errors.New("template syntax error")
	ErrFileAccess     = errors.New("file access error")
)

// TemplateSyntaxError reports a source document the template engine
// rejected. Line and Column are zero when the engine gave no position.
type TemplateSyntaxError struct {
	Path   string
	Line   int
	Column int
	Err    error
}

func (e *TemplateSyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %v", e.Path, e.Line, e.Column, e.Err)
	}

	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *TemplateSyntaxError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTemplateSyntax) hold.
func (e *TemplateSyntaxError) Is(target error) bool { return target == ErrTemplateSyntax }

// FileAccessError reports an unreadable source or unwritable destination.
type FileAccessError struct {
	// Op is "read" or "write".
	Op   string
	Path string
	Err  error
}

func (e *FileAccessError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileAccessError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrFileAccess) hold.
func (e *FileAccessError) Is(target error) bool { return target == ErrFileAccess }

// Amber reports positions as "... - Line: 3, Column: 5, Length: 2".
var rgxPosition = regexp.MustCompile(`Line: (\d+), Column: (\d+)`)

func newSyntaxError(path string, err error) *TemplateSyntaxError {
	se := &TemplateSyntaxError{Path: path, Err: err}

	if m := rgxPosition.FindStringSubmatch(err.Error()); m != nil {
		se.Line, _ = strconv.Atoi(m[1])
		se.Column, _ = strconv.Atoi(m[2])
	}

	return se
}
