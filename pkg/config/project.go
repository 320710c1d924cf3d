package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/playtree/pkg/engine"
)

// DefaultProjectFile is the project file name looked up by the CLI.
const DefaultProjectFile = "playtree.cue"

// Loader parses and validates project files.
type Loader struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewLoader creates a loader with the embedded project schema.
func NewLoader() (*Loader, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(projectSchema, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile project schema: %w", err)
	}
	return &Loader{
		ctx:       ctx,
		schema:    schema.LookupPath(cue.ParsePath("#Project")),
		validator: validator.New(),
	}, nil
}

// LoadProject reads the project file at path. Problems are reported as a
// configuration error wrapping ValidationErrors.
func (l *Loader) LoadProject(path string) (*Project, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to read project file %s", path), err)
	}

	project, err := l.Parse(path, content)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to resolve project directory", err)
	}
	project.Dir = filepath.Dir(abs)
	return project, nil
}

// Parse evaluates project file content. filename is used in error positions.
func (l *Loader) Parse(filename string, content []byte) (*Project, error) {
	val := l.ctx.CompileBytes(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, invalid(filename, convertCUEErrors(err))
	}

	unified := l.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, invalid(filename, convertCUEErrors(err))
	}

	var project Project
	if err := unified.Decode(&project); err != nil {
		return nil, invalid(filename, ValidationErrors{{File: filename, Message: fmt.Sprintf("failed to decode project: %v", err)}})
	}

	hosts, err := extractHosts(unified.LookupPath(cue.ParsePath("hosts")))
	if err != nil {
		return nil, invalid(filename, ValidationErrors{{File: filename, Path: "hosts", Message: err.Error()}})
	}
	project.Hosts = hosts

	if err := l.validator.Struct(&project); err != nil {
		return nil, invalid(filename, convertValidatorErrors(filename, err))
	}
	return &project, nil
}

// extractHosts keeps hosts and their variables in declaration order.
func extractHosts(val cue.Value) ([]HostEntry, error) {
	if !val.Exists() {
		return nil, nil
	}
	iter, err := val.Fields()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate hosts: %w", err)
	}

	var hosts []HostEntry
	for iter.Next() {
		v, err := cueToValue(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("host %s: %w", iter.Selector().Unquoted(), err)
		}
		vars, _ := v.(engine.Params)
		hosts = append(hosts, HostEntry{Name: iter.Selector().Unquoted(), Vars: vars})
	}
	return hosts, nil
}

// cueToValue converts a concrete CUE value, keeping struct field order.
func cueToValue(v cue.Value) (interface{}, error) {
	switch v.Kind() {
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, err
		}
		params := engine.Params{}
		for iter.Next() {
			item, err := cueToValue(iter.Value())
			if err != nil {
				return nil, err
			}
			params = append(params, engine.Param{Key: iter.Selector().Unquoted(), Value: item})
		}
		return params, nil
	case cue.ListKind:
		list, err := v.List()
		if err != nil {
			return nil, err
		}
		out := []interface{}{}
		for list.Next() {
			item, err := cueToValue(list.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case cue.IntKind:
		return v.Int64()
	case cue.FloatKind:
		return v.Float64()
	case cue.StringKind:
		return v.String()
	case cue.BoolKind:
		return v.Bool()
	case cue.NullKind:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported value kind %s", v.Kind())
	}
}

func invalid(filename string, errs ValidationErrors) error {
	return engine.NewConfigurationError(fmt.Sprintf("invalid project file %s", filename), errs)
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range errors.Errors(err) {
		ve := ValidationError{Message: errors.Details(e, nil)}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		ve.Path = strings.Join(e.Path(), ".")
		out = append(out, ve)
	}
	return out
}

func convertValidatorErrors(filename string, err error) ValidationErrors {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ValidationErrors{{File: filename, Message: err.Error()}}
	}
	out := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			File:    filename,
			Path:    fe.Namespace(),
			Message: fmt.Sprintf("failed on %q constraint", fe.Tag()),
		})
	}
	return out
}

// WriteTemplate creates a starter project file and plan script in dir.
// Existing files are left untouched and reported as an error.
func WriteTemplate(dir, name string) ([]string, error) {
	files := []struct {
		name    string
		content string
	}{
		{DefaultProjectFile, fmt.Sprintf(projectTemplate, name)},
		{"plan.star", fmt.Sprintf(planTemplate, name)},
	}

	var written []string
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if _, err := os.Stat(path); err == nil {
			return written, fmt.Errorf("%s already exists", path)
		}
		if err := os.WriteFile(path, []byte(f.content), 0644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}
