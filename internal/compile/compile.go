// Package compile implements the compile task: one Jade template document
// in, one HTML file out.
//
// Rendering is delegated to the Amber engine, which parses the
// whitespace-significant syntax into an [html/template]. The page is rendered
// completely in memory before the destination is touched, so a malformed
// document never clobbers the previous output.
package compile

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/eknkc/amber"

	"github.com/hupe1980/jadewatch/internal/config"
	"github.com/hupe1980/jadewatch/internal/output"
)

// Result describes one successful compilation.
type Result struct {
	Source      string
	Destination string
	Bytes       int
	Duration    time.Duration

	// Output is the rendered HTML.
	Output []byte
}

// Compiler runs the compile task for a fixed configuration.
type Compiler struct {
	cfg    config.CompileTaskConfig
	data   any
	stdout io.Writer
	logger *slog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithData sets the value templates are executed with.
func WithData(data any) Option {
	return func(c *Compiler) {
		c.data = data
	}
}

// WithStdout sets the stream used when the destination is "-".
func WithStdout(w io.Writer) Option {
	return func(c *Compiler) {
		c.stdout = w
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Compiler) {
		c.logger = logger
	}
}

// New returns a Compiler for cfg.
func New(cfg config.CompileTaskConfig, opts ...Option) *Compiler {
	c := &Compiler{
		cfg:    cfg,
		stdout: os.Stdout,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Compile runs the compile task once for cfg.
func Compile(ctx context.Context, cfg config.CompileTaskConfig, opts ...Option) (*Result, error) {
	return New(cfg, opts...).Run(ctx)
}

// Config returns the task configuration.
func (c *Compiler) Config() config.CompileTaskConfig {
	return c.cfg
}

// Run reads the source, renders it and replaces the destination.
func (c *Compiler) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	html, err := c.Render(ctx)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w := output.New(c.cfg.Destination, c.stdout, output.WithLogger(c.logger))
	if err := w.Write(html); err != nil {
		return nil, &FileAccessError{Op: "write", Path: c.cfg.Destination, Err: err}
	}

	res := &Result{
		Source:      c.cfg.Source,
		Destination: c.cfg.Destination,
		Bytes:       len(html),
		Duration:    time.Since(start),
		Output:      html,
	}

	c.logger.Info("compiled template",
		slog.String("src", res.Source),
		slog.String("dest", res.Destination),
		slog.Int("bytes", res.Bytes),
		slog.Duration("duration", res.Duration),
	)

	return res, nil
}

// Render produces the HTML for the source without writing it anywhere.
func (c *Compiler) Render(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := os.ReadFile(c.cfg.Source)
	if err != nil {
		return nil, &FileAccessError{Op: "read", Path: c.cfg.Source, Err: err}
	}

	return RenderBytes(src, c.cfg.Source, c.cfg.Pretty, c.data)
}

// RenderBytes renders an in-memory template document. name is used for
// error messages and for resolving extends/include directives.
func RenderBytes(src []byte, name string, pretty bool, data any) ([]byte, error) {
	compiler := amber.New()
	compiler.PrettyPrint = pretty
	compiler.LineNumbers = false

	if err := compiler.ParseData(src, name); err != nil {
		return nil, newSyntaxError(name, err)
	}

	tpl, err := compiler.Compile()
	if err != nil {
		return nil, newSyntaxError(name, err)
	}

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return nil, newSyntaxError(name, fmt.Errorf("executing template: %w", err))
	}

	return buf.Bytes(), nil
}
