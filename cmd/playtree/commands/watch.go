package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/playtree/pkg/policy"
)

const watchDebounce = 500 * time.Millisecond

func newWatchCommand() *cobra.Command {
	var flags synthFlags

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Synthesize again whenever the project changes",
		Long: `Synthesize once, then watch the project file, plan scripts and policy
files and synthesize again after every change.

Changes are debounced so that a burst of saves triggers a single pass. Failed
passes are logged and watching continues. Nothing is executed.`,
		Example: `  # Keep the artifacts of the only root up to date
  playtree watch

  # Watch a named root
  playtree watch --target site`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			// Each pass reloads the project; only the watch set comes from here.
			_ = ws.Close()

			pw, err := newProjectWatcher(ws, ws.logger)
			if err != nil {
				return err
			}
			defer pw.Close()

			pass := func() {
				passWS, err := openWorkspace(cmd)
				if err != nil {
					ws.logger.Error().Err(err).Msg("Failed to load project")
					return
				}
				defer passWS.Close()

				arts, err := synthesize(ctx, passWS, flags)
				if err != nil {
					passWS.logger.Error().Err(err).Msg("Synthesis failed")
					return
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %d leaves synthesized\n", time.Now().Format(time.TimeOnly), len(arts))
			}

			pass()
			return pw.Run(ctx, pass)
		},
	}

	flags.register(cmd)

	return cmd
}

// projectWatcher reports changes to the inputs of a synthesis pass.
type projectWatcher struct {
	watcher     *fsnotify.Watcher
	logger      zerolog.Logger
	projectFile string
	policyRoots []string
	ignored     []string
	debounce    time.Duration
}

func newProjectWatcher(ws *workspace, logger zerolog.Logger) (*projectWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	projectFile, err := filepath.Abs(configPath)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}

	pw := &projectWatcher{
		watcher:     watcher,
		logger:      logger,
		projectFile: projectFile,
		policyRoots: ws.policyPaths(),
		ignored: []string{
			ws.project.Path(ws.project.Output.Playbooks),
			ws.project.Path(ws.project.Output.Inventories),
		},
		debounce: watchDebounce,
	}

	// Editors replace files on save, so parent directories are watched.
	dirs := map[string]bool{
		filepath.Dir(projectFile):                      true,
		filepath.Dir(ws.project.Path(ws.project.Plan)): true,
	}
	for _, root := range pw.policyRoots {
		info, err := os.Stat(root)
		if err != nil {
			logger.Warn().Err(err).Str("path", root).Msg("Failed to stat path for watching")
			continue
		}
		if !info.IsDir() {
			dirs[filepath.Dir(root)] = true
			continue
		}
		err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				dirs[path] = true
			}
			return nil
		})
		if err != nil {
			logger.Warn().Err(err).Str("path", root).Msg("Failed to watch directory")
		}
	}

	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			logger.Warn().Err(err).Str("path", dir).Msg("Failed to watch directory")
		}
	}

	logger.Info().Int("directories", len(dirs)).Msg("Watching project for changes")
	return pw, nil
}

// relevant reports whether a change to path affects synthesis.
func (pw *projectWatcher) relevant(path string) bool {
	for _, dir := range pw.ignored {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return false
		}
	}
	if path == pw.projectFile {
		return true
	}
	if filepath.Ext(path) == ".star" {
		return true
	}
	if !policy.IsPolicyFile(path) {
		return false
	}
	for _, root := range pw.policyRoots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Run calls pass after every debounced burst of relevant changes until ctx
// is done. Passes never overlap.
func (pw *projectWatcher) Run(ctx context.Context, pass func()) error {
	timer := time.NewTimer(pw.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-pw.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !pw.relevant(event.Name) {
				continue
			}
			pw.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Project file changed")
			timer.Reset(pw.debounce)

		case <-timer.C:
			pass()

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return nil
			}
			pw.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// Close stops watching.
func (pw *projectWatcher) Close() error {
	return pw.watcher.Close()
}
