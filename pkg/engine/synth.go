package engine

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Synthesizer turns resolved plays into playbook and inventory artifacts.
type Synthesizer struct {
	writer  ArtifactWriter
	checker PlayChecker
	logger  zerolog.Logger
}

// SynthOption configures a Synthesizer.
type SynthOption func(*Synthesizer)

// WithPlayChecker gates every resolved play through checker before writing.
func WithPlayChecker(checker PlayChecker) SynthOption {
	return func(s *Synthesizer) {
		s.checker = checker
	}
}

// WithSynthLogger sets the logger used for synthesis diagnostics.
func WithSynthLogger(logger zerolog.Logger) SynthOption {
	return func(s *Synthesizer) {
		s.logger = logger
	}
}

// NewSynthesizer creates a synthesizer writing through writer.
func NewSynthesizer(writer ArtifactWriter, opts ...SynthOption) *Synthesizer {
	s := &Synthesizer{
		writer: writer,
		logger: log.Logger.With().Str("component", "synth").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reset clears and recreates the output directories.
func (s *Synthesizer) Reset() error {
	if err := s.writer.Reset(); err != nil {
		return NewSynthesisError("failed to reset output directories", err).
			WithCode(ErrCodeResetFailed)
	}
	return nil
}

// Synth flattens the tree under root into one playbook and one inventory per
// leaf. Output directories are reset first; leaves are processed depth-first
// in declared order and the first failure aborts the pass.
func (s *Synthesizer) Synth(ctx context.Context, root *Node, rootName string) ([]*Artifacts, error) {
	if err := CheckUniqueNames(root, rootName); err != nil {
		return nil, err
	}
	if err := s.Reset(); err != nil {
		return nil, err
	}

	artifacts := make([]*Artifacts, 0, root.LeafCount())
	err := root.Walk(rootName, func(name string, leaf *Leaf) error {
		play, err := s.Prepare(ctx, name, leaf)
		if err != nil {
			return err
		}
		art, err := s.SynthLeaf(ctx, name, play)
		if err != nil {
			return err
		}
		artifacts = append(artifacts, art)
		return nil
	})
	if err != nil {
		return artifacts, err
	}

	s.logger.Info().
		Str("root", rootName).
		Int("leaves", len(artifacts)).
		Msg("Synthesized plan")
	return artifacts, nil
}

// Prepare resolves the leaf's play and runs the play checker on it.
func (s *Synthesizer) Prepare(ctx context.Context, name string, leaf *Leaf) (*Play, error) {
	play, err := leaf.Resolve(ctx)
	if err != nil {
		return nil, NewResolutionError("failed to resolve play", err).
			WithLeaf(name).
			WithCode(ErrCodeResolveFailed)
	}
	if s.checker != nil {
		if err := s.checker.CheckPlay(ctx, name, play); err != nil {
			return nil, NewSynthesisError("play rejected by policy", err).
				WithLeaf(name).
				WithCode(ErrCodePolicyDenied)
		}
	}
	return play, nil
}

// SynthLeaf writes the playbook and inventory of one resolved play.
func (s *Synthesizer) SynthLeaf(ctx context.Context, name string, play *Play) (*Artifacts, error) {
	if len(play.Hosts) == 0 {
		s.logger.Warn().Str("leaf", name).Msg("Play has no hosts, writing host-less playbook")
	}

	playbook, err := s.playbook(ctx, name, play)
	if err != nil {
		return nil, err
	}
	inventory, err := s.inventory(ctx, name, play)
	if err != nil {
		return nil, err
	}

	art := &Artifacts{Name: name}
	art.PlaybookJSON, art.PlaybookText, err = s.writer.Write(ArtifactPlaybook, name, playbook)
	if err != nil {
		return nil, NewSynthesisError("failed to write playbook", err).
			WithLeaf(name).
			WithCode(ErrCodeWriteFailed)
	}
	art.InventoryJSON, art.InventoryText, err = s.writer.Write(ArtifactInventory, name, inventory)
	if err != nil {
		return nil, NewSynthesisError("failed to write inventory", err).
			WithLeaf(name).
			WithCode(ErrCodeWriteFailed)
	}

	s.logger.Debug().
		Str("leaf", name).
		Str("playbook", art.PlaybookText).
		Str("inventory", art.InventoryText).
		Msg("Wrote artifacts")
	return art, nil
}

// playbook builds the playbook document: a list holding the single play.
func (s *Synthesizer) playbook(ctx context.Context, name string, play *Play) ([]interface{}, error) {
	hosts := make([]string, 0, len(play.Hosts))
	for i, h := range play.Hosts {
		host, _, err := h.Resolve(ctx)
		if err != nil {
			return nil, NewResolutionError("failed to resolve host", err).
				WithLeaf(name).
				WithCode(ErrCodeHostFailed).
				WithDetail("host_index", i)
		}
		hosts = append(hosts, host)
	}

	doc := Params{
		{Key: "name", Value: play.Name},
		{Key: "hosts", Value: hosts},
	}
	for _, opt := range play.Options {
		switch opt.Key {
		case "name", "hosts", "tasks":
			continue
		}
		doc = append(doc, opt)
	}
	tasks := play.Tasks
	if tasks == nil {
		tasks = []Task{}
	}
	doc = append(doc, Param{Key: "tasks", Value: tasks})

	return []interface{}{doc}, nil
}

// inventory builds the inventory document: all.hosts.<name> = vars.
func (s *Synthesizer) inventory(ctx context.Context, name string, play *Play) (Params, error) {
	hosts := Params{}
	for i, h := range play.Hosts {
		host, vars, err := h.Resolve(ctx)
		if err != nil {
			return nil, NewResolutionError("failed to resolve host", err).
				WithLeaf(name).
				WithCode(ErrCodeHostFailed).
				WithDetail("host_index", i)
		}
		if vars == nil {
			vars = Params{}
		}
		hosts = hosts.Set(host, vars)
	}
	return Params{
		{Key: "all", Value: Params{{Key: "hosts", Value: hosts}}},
	}, nil
}

// CheckUniqueNames verifies that no two leaves under root share a name.
func CheckUniqueNames(root *Node, rootName string) error {
	seen := make(map[string]struct{})
	return root.Walk(rootName, func(name string, _ *Leaf) error {
		if _, dup := seen[name]; dup {
			return NewSynthesisError("duplicate artifact name", nil).
				WithLeaf(name).
				WithCode(ErrCodeDuplicateName)
		}
		seen[name] = struct{}{}
		return nil
	})
}
