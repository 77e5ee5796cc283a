package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pitabwire/formflow/internal/definition"
	"github.com/pitabwire/formflow/model"
)

// ErrManifestStale is returned by manifest diff when the manifest does not
// match the templates.
var ErrManifestStale = errors.New("manifest is out of date")

func newManifestCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Build or check the template manifest",
	}

	var templatesDir, manifestPath string
	cmd.PersistentFlags().StringVar(&templatesDir, "templates", "", "template directory (default: definitions.templates_dir)")
	cmd.PersistentFlags().StringVar(&manifestPath, "manifest", "", "manifest file (default: <templates>/manifest.json)")

	resolve := func() (string, string, error) {
		dir, path := templatesDir, manifestPath
		if dir == "" {
			cfg, err := opts.loadConfig()
			if err != nil {
				return "", "", err
			}
			dir = cfg.Definitions.TemplatesDir
			if path == "" {
				path = cfg.Definitions.ManifestPath
			}
		}
		if path == "" {
			path = filepath.Join(dir, definition.ManifestFileName)
		}
		return dir, path, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "build",
		Short: "Regenerate the manifest from the template files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, path, err := resolve()
			if err != nil {
				return err
			}
			prev, next, err := compareManifest(dir, path)
			if err != nil {
				return err
			}
			if err := definition.WriteManifest(path, next); err != nil {
				return err
			}
			diff := definition.DiffManifest(prev, next)
			if opts.jsonOut {
				return opts.printJSON(cmd.OutOrStdout(), diff)
			}
			printDiff(cmd.OutOrStdout(), diff)
			printSuccess(cmd.OutOrStdout(), fmt.Sprintf("wrote %s (%d templates)", path, len(next)))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "diff",
		Short: "Show templates whose content no longer matches the manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, path, err := resolve()
			if err != nil {
				return err
			}
			prev, next, err := compareManifest(dir, path)
			if err != nil {
				return err
			}
			diff := definition.DiffManifest(prev, next)
			if opts.jsonOut {
				if err := opts.printJSON(cmd.OutOrStdout(), diff); err != nil {
					return err
				}
			} else {
				printDiff(cmd.OutOrStdout(), diff)
			}
			if !diff.Empty() {
				return ErrManifestStale
			}
			if !opts.jsonOut {
				printSuccess(cmd.OutOrStdout(), "manifest is up to date")
			}
			return nil
		},
	})

	return cmd
}

// compareManifest loads the manifest at path, which may not exist yet, and
// builds the one the templates in dir produce.
func compareManifest(dir, path string) (prev, next model.Manifest, err error) {
	tmpls, err := definition.NewLoader().LoadTemplates(dir)
	if err != nil {
		return nil, nil, err
	}
	next, err = definition.BuildManifest(tmpls)
	if err != nil {
		return nil, nil, err
	}
	prev, err = definition.LoadManifest(path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.Manifest{}, next, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return prev, next, nil
}

func printDiff(w io.Writer, d definition.ManifestDiff) {
	for _, id := range d.Added {
		fmt.Fprintln(w, addedStyle.Render("+ "+id))
	}
	for _, id := range d.Updated {
		fmt.Fprintln(w, updatedStyle.Render("~ "+id))
	}
	for _, id := range d.Removed {
		fmt.Fprintln(w, removedStyle.Render("- "+id))
	}
}
