package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a bundle source.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCUE  Format = "cue"
)

// FormatOf returns the bundle format of a file by extension.
func FormatOf(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".json":
		return FormatJSON, true
	case ".cue":
		return FormatCUE, true
	}
	return "", false
}

// Parser reads regulation bundles. CUE and JSON sources are unified with
// the builtin bundle schema; YAML sources are decoded strictly. Every
// bundle is then checked with struct validation and reference checks.
type Parser struct {
	schemas   *SchemaRegistry
	validator *validator.Validate
}

// NewParser creates a bundle parser.
func NewParser() *Parser {
	return &Parser{
		schemas:   NewSchemaRegistry(),
		validator: validator.New(),
	}
}

// Schemas returns the schema registry of the parser.
func (p *Parser) Schemas() *SchemaRegistry {
	return p.schemas
}

// Parse reads bundle files and directories. Bundles of the same tenant are
// merged. Problems in the sources are reported in the result; the error is
// for unreadable sources only.
func (p *Parser) Parse(ctx context.Context, sources []string) (*ParsedBundles, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	parsed := &ParsedBundles{ParsedAt: time.Now()}
	var bundles []*Bundle
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}
		files := []string{source}
		if info.IsDir() {
			files, err = BundleFiles(source)
			if err != nil {
				return nil, err
			}
		}
		for _, file := range files {
			found, errs := p.ParseFile(file)
			parsed.SourceFiles = append(parsed.SourceFiles, file)
			parsed.Errors = append(parsed.Errors, errs...)
			bundles = append(bundles, found...)
		}
	}

	merged, errs := mergeBundles(bundles)
	parsed.Errors = append(parsed.Errors, errs...)
	for _, b := range merged {
		parsed.Errors = append(parsed.Errors, p.check(b)...)
	}
	parsed.Bundles = merged
	return parsed, nil
}

// ParseInline parses bundle content given in memory.
func (p *Parser) ParseInline(_ context.Context, content string, format Format) (*ParsedBundles, error) {
	bundles, errs := p.ParseBytes("inline", format, []byte(content))
	merged, mergeErrs := mergeBundles(bundles)
	errs = append(errs, mergeErrs...)
	for _, b := range merged {
		errs = append(errs, p.check(b)...)
	}
	return &ParsedBundles{
		Bundles:     merged,
		SourceFiles: []string{"inline"},
		ParsedAt:    time.Now(),
		Errors:      errs,
	}, nil
}

// ParseFile reads the bundles of one file.
func (p *Parser) ParseFile(path string) ([]*Bundle, []ValidationError) {
	format, ok := FormatOf(path)
	if !ok {
		return nil, []ValidationError{{File: path, Message: "unsupported bundle format", Severity: "error"}}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}
	return p.ParseBytes(path, format, data)
}

// ParseBytes decodes bundle content. A YAML source may hold one bundle per
// document.
func (p *Parser) ParseBytes(name string, format Format, data []byte) ([]*Bundle, []ValidationError) {
	switch format {
	case FormatYAML:
		return p.decodeYAML(name, data)
	case FormatJSON, FormatCUE:
		b, errs := p.decodeCUE(name, data)
		if b == nil {
			return nil, errs
		}
		return []*Bundle{b}, errs
	}
	return nil, []ValidationError{{File: name, Message: fmt.Sprintf("unsupported bundle format %q", format), Severity: "error"}}
}

func (p *Parser) decodeYAML(name string, data []byte) ([]*Bundle, []ValidationError) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var bundles []*Bundle
	for {
		var b Bundle
		err := dec.Decode(&b)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, []ValidationError{{File: name, Message: err.Error(), Severity: "error"}}
		}
		bundles = append(bundles, &b)
	}
	if len(bundles) == 0 {
		return nil, []ValidationError{{File: name, Message: "empty bundle", Severity: "error"}}
	}
	return bundles, nil
}

// decodeCUE compiles a CUE or JSON source, unifies it with #Bundle and
// decodes the concrete result.
func (p *Parser) decodeCUE(name string, data []byte) (*Bundle, []ValidationError) {
	val := p.schemas.Context().CompileBytes(data, cue.Filename(name))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err, name)
	}
	if b := val.LookupPath(cue.ParsePath("bundle")); b.Exists() {
		val = b
	}
	unified, err := p.schemas.Unify("bundle", val)
	if err != nil {
		return nil, []ValidationError{{File: name, Message: err.Error(), Severity: "error"}}
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err, name)
	}

	raw, err := unified.MarshalJSON()
	if err != nil {
		return nil, convertCUEErrors(err, name)
	}
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, []ValidationError{{File: name, Message: fmt.Sprintf("failed to decode bundle: %v", err), Severity: "error"}}
	}
	return &b, nil
}

// convertCUEErrors converts CUE errors to validation errors. Positions in
// the source file are preferred over positions in the schema.
func convertCUEErrors(err error, source string) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Path:     strings.Join(e.Path(), "."),
			Message:  cueerrors.Details(e, nil),
			Severity: "error",
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			p := pos[0]
			for _, candidate := range pos {
				if candidate.Filename() == source {
					p = candidate
					break
				}
			}
			ve.File = p.Filename()
			ve.Line = p.Line()
			ve.Column = p.Column()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{File: source, Message: err.Error(), Severity: "error"})
	}
	return out
}

// BundleFiles lists the bundle files below a directory in path order.
// Hidden files and directories are skipped.
func BundleFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := FormatOf(path); ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list bundles in %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
