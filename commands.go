package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"chunkup/pkg/config"
	"chunkup/pkg/core"
)

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload [file...]",
		Short: "Compress, upload and extract files",
		Long: `Compress each file in parallel chunks, persist the artifact under the
configured output path and extract it into its "extracted" subdirectory.

Without arguments a warning is reported, since no file was selected.
More than one file requires "multiple: true" in the configuration; each
file is an independent run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e := current
			if len(args) > 1 && !e.cfg.Multiple {
				return fmt.Errorf("%d files given but multiple uploads are disabled", len(args))
			}
			if len(args) == 0 {
				args = []string{""}
			}

			e.log.Debug("upload", "files", len(args), "cpus", runtime.NumCPU())
			sink := e.sink(cmd)
			var failed int
			for _, path := range args {
				start := time.Now()
				result, err := e.uploader.Upload(cmd.Context(), path, sink)
				if err != nil {
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s in %s (run %s)\n",
					result.Name,
					humanize.IBytes(uint64(result.SourceSize)),
					humanize.IBytes(uint64(result.CompressedSize)),
					time.Since(start).Round(time.Millisecond),
					result.RunID)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d uploads did not complete", failed, len(args))
			}
			return nil
		},
	}
}

func newCompressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compress input [output]",
		Short: "Compress a file without uploading it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := current
			output := ""
			if len(args) == 2 {
				output = args[1]
			} else {
				var err error
				if output, err = e.uploader.CompressedOutputPath(args[0]); err != nil {
					return err
				}
			}

			start := time.Now()
			artifact, err := e.uploader.Compress(cmd.Context(), args[0], output, e.sink(cmd))
			if err != nil {
				return err
			}
			ratio := 0.0
			if artifact.SourceSize > 0 {
				ratio = float64(artifact.Size()) / float64(artifact.SourceSize) * 100
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s (%.1f%%, %d chunks) in %s\n",
				output,
				humanize.IBytes(uint64(artifact.SourceSize)),
				humanize.IBytes(uint64(artifact.Size())),
				ratio, artifact.ChunkCount,
				time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func newDecompressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decompress input [output]",
		Short: "Extract a compressed artifact",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := current
			output := ""
			if len(args) == 2 {
				output = args[1]
			} else {
				var err error
				if output, err = e.uploader.DecompressedOutputPath(args[0]); err != nil {
					return err
				}
			}

			res, err := e.uploader.Decompress(cmd.Context(), args[0], output, e.sink(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (blake3 %s)\n", res.Path, humanize.IBytes(uint64(res.Written)), res.Digest)
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List completed uploads recorded in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e := current
			if e.uploader.Catalog == nil {
				return fmt.Errorf("no catalog configured (set catalog_path)")
			}
			entries, err := e.uploader.Catalog.List(cmd.Context())
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Run", "Name", "Size", "Compressed", "Codec", "Completed"})
			table.SetAutoWrapText(false)
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetCenterSeparator("")
			table.SetColumnSeparator("")
			table.SetRowSeparator("")
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetTablePadding("  ")
			table.SetNoWhiteSpace(true)

			for _, entry := range entries {
				table.Append([]string{
					entry.RunID,
					entry.Name,
					humanize.IBytes(uint64(entry.SourceSize)),
					humanize.IBytes(uint64(entry.CompressedSize)),
					entry.Codec,
					humanize.Time(entry.CompletedAt),
				})
			}
			table.Render()
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init path",
		Short: "Write the default configuration to path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", args[0])
			}
			if err := config.Save(config.Default(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Wrote", args[0])
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if _, err := core.ParseCodec(cfg.Codec); err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
