package tool

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/musedev/muse/entity"
	"github.com/musedev/muse/errors"
)

type (
	ReadFileRequest struct {
		FilePath string `json:"file_path" jsonschema_description:"Local path of the file to read (not a URL)"`
	}

	WriteFileRequest struct {
		FilePath string `json:"file_path" jsonschema_description:"Path of the file to write or overwrite"`
		Content  string `json:"content,omitempty" jsonschema_description:"File body; usually supplied via the CONTENT block"`
	}

	ReplaceInFileRequest struct {
		FilePath  string `json:"file_path"`
		OldString string `json:"old_string" jsonschema_description:"Exact text to replace"`
		NewString string `json:"new_string" jsonschema_description:"Replacement text"`
	}

	EditFileAtLineRequest struct {
		FilePath  string `json:"file_path"`
		StartLine int    `json:"start_line" jsonschema_description:"First line to replace, 1-based, inclusive"`
		EndLine   int    `json:"end_line" jsonschema_description:"Last line to replace, 1-based, inclusive"`
		Content   string `json:"content,omitempty" jsonschema_description:"Replacement lines; usually supplied via the CONTENT block"`
	}

	ListDirectoryRequest struct {
		Path string `json:"path,omitempty" jsonschema_description:"Directory to list; defaults to the current one"`
	}
)

var imageExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

func registerFileTools(r *Registry) {
	Register(r, "read_file",
		"Read the full content of a local text file. Image files come back as an inline image payload. Not for URLs.",
		ClassRead, readFile)

	Register(r, "write_file",
		"Write (create or fully overwrite) a text file. Put the body in the CONTENT block.",
		ClassWrite, writeFile)

	Register(r, "create_file",
		"Create a new text file; fails if it already exists. Put the body in the CONTENT block.",
		ClassWrite, createFile)

	Register(r, "replace_in_file",
		"Replace every occurrence of old_string with new_string in a file.",
		ClassWrite, replaceInFile)

	Register(r, "edit_file_at_line",
		"Replace the line range [start_line, end_line] with new content. Use start_line == end_line to replace one line.",
		ClassWrite, editFileAtLine)

	Register(r, "list_directory",
		"List the entries of a directory, one per line.",
		ClassRead, listDirectory)

	Register(r, "read_image",
		"Load a local image file (png/jpg/gif/webp) as an inline image payload the model can look at.",
		ClassRead, readImage)
}

func readImage(_ context.Context, in ReadFileRequest) (string, error) {
	if isURL(in.FilePath) {
		return "", errors.Errorf("read_image works on local files only, got a URL: %s", in.FilePath)
	}
	mime, ok := imageExtensions[strings.ToLower(filepath.Ext(in.FilePath))]
	if !ok {
		return "", errors.Errorf("unsupported image extension on %s", in.FilePath)
	}

	raw, err := os.ReadFile(in.FilePath)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read image %s", in.FilePath)
	}
	return fmt.Sprintf("%s (%s, %d bytes):\n%s",
		in.FilePath, mime, len(raw),
		entity.ImageMarker(base64.StdEncoding.EncodeToString(raw))), nil
}

func readFile(ctx context.Context, in ReadFileRequest) (string, error) {
	if isURL(in.FilePath) {
		return "", errors.Errorf("read_file works on local files only, got a URL: %s — use web_fetch or web_search_in_page instead", in.FilePath)
	}

	if _, ok := imageExtensions[strings.ToLower(filepath.Ext(in.FilePath))]; ok {
		return readImage(ctx, in)
	}

	raw, err := os.ReadFile(in.FilePath)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file %s", in.FilePath)
	}
	return string(raw), nil
}

func writeFile(_ context.Context, in WriteFileRequest) (string, error) {
	if err := os.MkdirAll(filepath.Dir(in.FilePath), 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create parent directory")
	}
	if err := os.WriteFile(in.FilePath, []byte(in.Content), 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to write file %s", in.FilePath)
	}
	return "file written: " + in.FilePath, nil
}

func createFile(_ context.Context, in WriteFileRequest) (string, error) {
	if _, err := os.Stat(in.FilePath); err == nil {
		return "", errors.Errorf("file '%s' already exists; use write_file to overwrite or replace_in_file to edit", in.FilePath)
	}
	if err := os.MkdirAll(filepath.Dir(in.FilePath), 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create parent directory")
	}
	if err := os.WriteFile(in.FilePath, []byte(in.Content), 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to create file %s", in.FilePath)
	}
	return "file created: " + in.FilePath, nil
}

func replaceInFile(_ context.Context, in ReplaceInFileRequest) (string, error) {
	raw, err := os.ReadFile(in.FilePath)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file %s", in.FilePath)
	}

	content := string(raw)
	if !strings.Contains(content, in.OldString) {
		return "old_string not found, file unchanged: " + in.FilePath, nil
	}

	count := strings.Count(content, in.OldString)
	content = strings.ReplaceAll(content, in.OldString, in.NewString)
	if err := os.WriteFile(in.FilePath, []byte(content), 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to write file %s", in.FilePath)
	}
	return fmt.Sprintf("replaced %d occurrence(s) in %s", count, in.FilePath), nil
}

func editFileAtLine(_ context.Context, in EditFileAtLineRequest) (string, error) {
	if in.StartLine < 1 || in.EndLine < 1 {
		return "", errors.Errorf("line numbers are 1-based, got start=%d end=%d", in.StartLine, in.EndLine)
	}
	if in.StartLine > in.EndLine {
		return "", errors.Errorf("start_line (%d) is after end_line (%d)", in.StartLine, in.EndLine)
	}

	raw, err := os.ReadFile(in.FilePath)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file %s", in.FilePath)
	}

	lines := strings.Split(string(raw), "\n")
	if in.StartLine > len(lines) {
		return "", errors.Errorf("start_line (%d) is beyond the file's %d lines", in.StartLine, len(lines))
	}
	endLine := min(in.EndLine, len(lines))

	replacement := strings.Split(strings.TrimSuffix(in.Content, "\n"), "\n")
	var out []string
	out = append(out, lines[:in.StartLine-1]...)
	out = append(out, replacement...)
	out = append(out, lines[endLine:]...)

	if err := os.WriteFile(in.FilePath, []byte(strings.Join(out, "\n")), 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to write file %s", in.FilePath)
	}
	return fmt.Sprintf("replaced lines %d-%d (%d line(s)) in %s", in.StartLine, endLine, endLine-in.StartLine+1, in.FilePath), nil
}

func listDirectory(_ context.Context, in ListDirectoryRequest) (string, error) {
	path := in.Path
	if path == "" {
		path = "."
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to list directory %s", path)
	}
	if len(entries) == 0 {
		return "directory is empty", nil
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

func isURL(path string) bool {
	return strings.HasPrefix(path, "http://") ||
		strings.HasPrefix(path, "https://") ||
		strings.HasPrefix(path, "ftp://")
}
