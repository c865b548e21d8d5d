package migrations

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"regexp"
	"strings"

	"github.com/goliatone/go-authorizations/core"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateTableName accepts unquoted SQL identifiers only; the name is
// spliced into DDL.
func ValidateTableName(table string) error {
	if !tableNamePattern.MatchString(table) {
		return fmt.Errorf("migrations: invalid table name %q", table)
	}
	return nil
}

// renamedTableFS serves the embedded schema with the default table name, and
// the index and constraint names derived from it, replaced by table.
type renamedTableFS struct {
	base  fs.FS
	table string
}

func withTableName(base fs.FS, table string) fs.FS {
	if table == "" || table == core.DefaultAuthorizationTable {
		return base
	}
	return renamedTableFS{base: base, table: table}
}

func (r renamedTableFS) Open(name string) (fs.File, error) {
	file, err := r.base.Open(name)
	if err != nil || !strings.HasSuffix(name, ".sql") {
		return file, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	data = bytes.ReplaceAll(data, []byte(core.DefaultAuthorizationTable), []byte(r.table))
	return &rewrittenFile{
		Reader: bytes.NewReader(data),
		info:   rewrittenInfo{FileInfo: info, size: int64(len(data))},
	}, nil
}

type rewrittenFile struct {
	*bytes.Reader
	info rewrittenInfo
}

func (f *rewrittenFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *rewrittenFile) Close() error               { return nil }

type rewrittenInfo struct {
	fs.FileInfo
	size int64
}

func (i rewrittenInfo) Size() int64 { return i.size }
