package vrt

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"strconv"

	"github.com/k1LoW/errors"
	"github.com/k1LoW/exec"
	"github.com/k1LoW/vrt/driver"
	"github.com/k1LoW/vrt/template"
)

// ImageProvider captures the current viewport.
type ImageProvider interface {
	Image(ctx context.Context) (image.Image, error)
}

// ImageProviderFunc adapts a function to ImageProvider.
type ImageProviderFunc func(ctx context.Context) (image.Image, error)

func (f ImageProviderFunc) Image(ctx context.Context) (image.Image, error) {
	return f(ctx)
}

type driverImageProvider struct {
	d driver.Driver
}

// NewDriverImageProvider captures through the driver's screenshot command.
func NewDriverImageProvider(d driver.Driver) ImageProvider {
	return &driverImageProvider{d: d}
}

func (p *driverImageProvider) Image(ctx context.Context) (_ image.Image, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	b, err := p.d.TakeScreenshot(ctx)
	if err != nil {
		return nil, driver.WrapOperation("take screenshot", err)
	}
	img, err := DecodeImage(b)
	if err != nil {
		return nil, err
	}
	return img.Image(), nil
}

// commandImageProvider runs an external command printing an image on stdout,
// for captures taken outside of the browser (emulators, OS screenshots).
type commandImageProvider struct {
	command string
	vars    map[string]any
	seq     int
}

// NewCommandImageProvider runs command through the user's shell for each
// capture. The command line is expanded as a template with vars, the
// environment as env and the 1-based capture count as seq. VRT_CAPTURE_SEQ
// is set in the command's environment.
func NewCommandImageProvider(command string, vars map[string]any) ImageProvider {
	return &commandImageProvider{command: command, vars: vars}
}

func (p *commandImageProvider) Image(ctx context.Context) (_ image.Image, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	const envCaptureSeq = "VRT_CAPTURE_SEQ"
	p.seq++
	seq := strconv.Itoa(p.seq)

	env := template.EnvironToMap()
	env[envCaptureSeq] = seq
	store := map[string]any{
		"env": env,
		"seq": p.seq,
	}
	for k, v := range p.vars {
		store[k] = v
	}
	expandedCmd, err := template.Expand(p.command, store)
	if err != nil {
		return nil, fmt.Errorf("failed to expand screenshot command template: %w", err)
	}
	c, args, err := buildCommand(expandedCmd)
	if err != nil {
		return nil, fmt.Errorf("failed to build screenshot command: %w", err)
	}

	cmd := exec.CommandContext(ctx, c, args...)
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, envCaptureSeq+"="+seq)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("failed to run screenshot command: %w\nstderr: %s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("screenshot command did not output an image")
	}
	img, err := DecodeImage(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	return img.Image(), nil
}

// buildCommand parses a command string and returns the command and arguments.
func buildCommand(cmdStr string) (string, []string, error) {
	shell, err := detectShell()
	if err != nil {
		return "", nil, err
	}
	return shell, []string{"-c", cmdStr}, nil
}

// detectShell detects the current shell.
func detectShell() (string, error) {
	shells := []string{
		os.Getenv("SHELL"),
		"/bin/bash",
		"/bin/sh",
	}
	for _, shell := range shells {
		if shell == "" {
			continue
		}
		if _, err := os.Stat(shell); err == nil {
			return shell, nil
		}
	}
	return "", fmt.Errorf("failed to detect shell")
}
