package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Loader reads Rego policies from .rego files and JSON policy definitions.
type Loader struct {
	logger zerolog.Logger
}

func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger.With().Str("component", "policy-loader").Logger()}
}

// parsers maps a policy file extension to its decoder.
var parsers = map[string]func(path string, data []byte) (*Policy, error){
	".rego": parseRegoFile,
	".json": parseJSONFile,
}

// IsPolicyFile reports whether path has a policy file extension.
func IsPolicyFile(path string) bool {
	_, ok := parsers[filepath.Ext(path)]
	return ok
}

// LoadFromPaths loads every policy under paths in walk order. A path naming
// a file must parse; unparsable files found while walking a directory are
// logged and skipped. Policy names must be unique across all paths.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var (
		policies []Policy
		sources  = make(map[string]string)
	)
	for _, root := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := l.walk(root)
		if err != nil {
			return nil, fmt.Errorf("load policies from %s: %w", root, err)
		}
		for _, p := range found {
			if prev, dup := sources[p.Name]; dup {
				return nil, fmt.Errorf("policy %s defined in both %s and %s", p.Name, prev, p.Source)
			}
			sources[p.Name] = p.Source
		}
		policies = append(policies, found...)
	}

	l.logger.Debug().Int("total", len(policies)).Strs("paths", paths).Msg("Policies loaded")
	return policies, nil
}

func (l *Loader) walk(root string) ([]Policy, error) {
	var found []Policy
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		explicit := path == root
		if d.IsDir() || (!explicit && !IsPolicyFile(path)) {
			return nil
		}

		policy, err := l.loadFromFile(path)
		switch {
		case err != nil && explicit:
			return err
		case err != nil:
			l.logger.Warn().Err(err).Str("path", path).Msg("Skipping unreadable policy file")
		default:
			found = append(found, *policy)
		}
		return nil
	})
	return found, err
}

func (l *Loader) loadFromFile(path string) (*Policy, error) {
	parse, ok := parsers[filepath.Ext(path)]
	if !ok {
		return nil, fmt.Errorf("unsupported policy file type: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	policy, err := parse(path, data)
	if err != nil {
		return nil, err
	}

	l.logger.Debug().Str("path", path).Str("policy", policy.Name).Msg("Policy loaded")
	return policy, nil
}

// parseRegoFile names the policy after its file and reads description and
// severity from the leading comment block.
func parseRegoFile(path string, data []byte) (*Policy, error) {
	p := &Policy{
		Name:    strings.TrimSuffix(filepath.Base(path), ".rego"),
		Rego:    string(data),
		Enabled: true,
		Source:  path,
	}
	p.Description, p.Severity = parseHeader(p.Rego)
	return p, checkSeverity(p)
}

func parseJSONFile(path string, data []byte) (*Policy, error) {
	p := &Policy{Enabled: true}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%s: decode policy: %w", path, err)
	}
	switch {
	case p.Name == "":
		return nil, fmt.Errorf("%s: policy name is required", path)
	case p.Rego == "":
		return nil, fmt.Errorf("%s: policy rego is required", path)
	}
	p.Source = path
	return p, checkSeverity(p)
}

// checkSeverity defaults an empty severity to warning.
func checkSeverity(p *Policy) error {
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	if !p.Severity.Valid() {
		return fmt.Errorf("%s: unknown severity %q", p.Source, p.Severity)
	}
	return nil
}

// parseHeader reads the leading comment block of a Rego file. A
// "severity: <level>" line sets the severity; other lines form the
// description.
func parseHeader(content string) (string, Severity) {
	var (
		description strings.Builder
		severity    Severity
	)

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" && (description.Len() > 0 || severity != "") {
				break
			}
			continue
		}

		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if rest, ok := strings.CutPrefix(comment, "severity:"); ok {
			severity = Severity(strings.ToLower(strings.TrimSpace(rest)))
			continue
		}
		if comment != "" {
			if description.Len() > 0 {
				description.WriteString(" ")
			}
			description.WriteString(comment)
		}
	}

	return description.String(), severity
}
