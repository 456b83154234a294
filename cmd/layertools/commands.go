package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	layertools "github.com/aramperes/spring-boot-layertools"
)

func (a *app) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list [jar]",
		Short:   "List layers from the jar that can be extracted",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := layertools.ListLayers(cmd.Context(), a.cfg.Jar, a.archiveOptions()...)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func (a *app) newClasspathCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "classpath [jar]",
		Short:   "List classpath dependencies from the jar",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := layertools.ListClasspath(cmd.Context(), a.cfg.Jar, a.archiveOptions()...)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}

func (a *app) newExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "extract [jar]",
		Short:   "Extracts layers from the jar for image creation",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: a.setup,
		RunE:    a.runExtract,
	}

	flags := cmd.Flags()
	flags.StringP("destination", "d", ".", "the destination to extract files to")
	flags.StringSlice("layers", nil, "the layers to extract (comma separated); by default, all layers are extracted")
	flags.Bool("fail-fast", false, "stop at the first entry that cannot be extracted")
	flags.Bool("lenient-checksums", false, "keep entries whose checksum does not match, reporting them as warnings")
	flags.Bool("preserve-times", false, "apply entry modification times to extracted files")
	flags.IntP("workers", "w", 0, "extraction workers: <0 serial, 0 one per CPU")

	_ = a.v.BindPFlag("destination", flags.Lookup("destination"))             //nolint:errcheck // flag exists
	_ = a.v.BindPFlag("layers", flags.Lookup("layers"))                       //nolint:errcheck // flag exists
	_ = a.v.BindPFlag("fail_fast", flags.Lookup("fail-fast"))                 //nolint:errcheck // flag exists
	_ = a.v.BindPFlag("lenient_checksums", flags.Lookup("lenient-checksums")) //nolint:errcheck // flag exists
	_ = a.v.BindPFlag("preserve_times", flags.Lookup("preserve-times"))       //nolint:errcheck // flag exists
	_ = a.v.BindPFlag("workers", flags.Lookup("workers"))                     //nolint:errcheck // flag exists
	return cmd
}

func (a *app) runExtract(cmd *cobra.Command, _ []string) error {
	archive, err := layertools.Open(cmd.Context(), a.cfg.Jar, a.archiveOptions()...)
	if err != nil {
		return err
	}
	defer archive.Close()

	slog.Info("extracting", "jar", archive.Path(), "destination", a.cfg.Destination, "layers", archive.Layers())
	report, err := archive.Extract(cmd.Context(), a.cfg.Destination, a.cfg.ExtractOptions()...)
	if report != nil {
		printReport(cmd, report)
	}
	if err != nil {
		if errors.Is(err, layertools.ErrUnknownLayer) {
			return fmt.Errorf("%w (available: %v)", err, archive.Layers())
		}
		return err
	}
	return nil
}

func (a *app) archiveOptions() []layertools.Option {
	return append(a.cfg.ArchiveOptions(), layertools.WithLogger(slog.Default()))
}

// printReport writes one line per failed entry to stderr and logs a
// summary per layer.
func printReport(cmd *cobra.Command, report *layertools.Report) {
	for _, layer := range report.Layers {
		l := report.PerLayer[layer]
		slog.Info("layer extracted", "layer", layer, "files", l.Files, "bytes", l.Bytes, "digest", l.Digest)
	}
	for _, w := range report.Warnings {
		slog.Warn("entry extracted with warning", "entry", w.Name, "layer", w.Layer, "kind", w.Kind, "error", w.Err)
	}
	for _, e := range report.Errors {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s\t%s\t%v\n", e.Name, e.Kind, e.Err)
	}
	slog.Info("extraction finished",
		"files", report.Files(),
		"bytes", report.Bytes(),
		"failed", len(report.Errors),
		"skipped", report.Skipped,
		"duration", report.Duration,
	)
}
