package vrt

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/k1LoW/errors"
	"github.com/k1LoW/exec"
	"github.com/k1LoW/vrt/template"
)

// Storage keeps encoded captures.
type Storage interface {
	// Put stores data under name and returns where it can be read back.
	Put(ctx context.Context, name string, data []byte) (location string, err error)
}

var (
	_ Storage = (*dirStorage)(nil)
	_ Storage = (*externalStorage)(nil)
)

// dirStorage writes captures into a local directory.
type dirStorage struct {
	dir string
}

// NewDirStorage returns a storage writing files into dir, created on demand.
func NewDirStorage(dir string) Storage {
	return &dirStorage{dir: dir}
}

func (s *dirStorage) Put(ctx context.Context, name string, data []byte) (_ string, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	p := filepath.Join(s.dir, name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", p, err)
	}
	return p, nil
}

// externalStorage uploads captures with an external CLI command.
type externalStorage struct {
	uploadCmd string
}

// NewExternalStorage returns a storage running uploadCmd through the user's
// shell for every capture. The PNG is passed via stdin and
// VRT_UPLOAD_NAME is set to its name. The command also supports template
// variables: {{name}}, {{mime}} and {{env.XXX}}. The command should output
// the URL of the upload on the first line.
func NewExternalStorage(uploadCmd string) Storage {
	return &externalStorage{uploadCmd: uploadCmd}
}

func (s *externalStorage) Put(ctx context.Context, name string, data []byte) (_ string, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	const (
		envUploadName = "VRT_UPLOAD_NAME"
		mimeType      = "image/png"
	)

	env := template.EnvironToMap()
	env[envUploadName] = name
	store := map[string]any{
		"name": name,
		"mime": mimeType,
		"env":  env,
	}
	expandedCmd, err := template.Expand(s.uploadCmd, store)
	if err != nil {
		return "", fmt.Errorf("failed to expand upload command template: %w", err)
	}
	c, args, err := buildCommand(expandedCmd)
	if err != nil {
		return "", fmt.Errorf("failed to build upload command: %w", err)
	}

	cmd := exec.CommandContext(ctx, c, args...)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, envUploadName+"="+name)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to run upload command: %w\nstderr: %s", err, stderr.String())
	}

	scanner := bufio.NewScanner(&stdout)
	if !scanner.Scan() {
		return "", fmt.Errorf("upload command did not output a location")
	}
	location := strings.TrimSpace(scanner.Text())
	if location == "" {
		return "", fmt.Errorf("upload command returned an empty location")
	}
	return location, nil
}

// StoreImage encodes img as PNG and puts it into s.
func StoreImage(ctx context.Context, s Storage, name string, img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := WritePNG(&buf, img); err != nil {
		return "", err
	}
	return s.Put(ctx, name, buf.Bytes())
}
