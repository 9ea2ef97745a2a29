package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AlecAivazis/survey/v2"
	"github.com/goliatone/go-cardgen/internal/batch"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newBatchCmd(debug *bool) *cobra.Command {
	var (
		outputDir string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "batch <csv-file> <transform-config>",
		Short: "Transform a CSV export into attribute documents",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			logger, err := newLogger(*debug)
			if err != nil {
				return err
			}
			defer logger.Sync()

			configData, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			cfg, err := batch.ParseConfig(configData)
			if err != nil {
				return err
			}

			csvFile, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer csvFile.Close()

			rows, err := batch.Load(csvFile)
			if err != nil {
				return err
			}
			logger.Info("loaded CSV rows", zap.Int("rows", len(rows)), zap.String("file", args[0]))

			tr := batch.NewTransformer(logger)
			docs, err := tr.Combine(tr.Cleanse(rows, cfg.ColumnTypes), cfg)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return err
			}
			written := 0
			for _, doc := range docs {
				target := filepath.Join(outputDir, doc.Filename)
				if !force && fileExists(target) && !confirmOverwrite(doc.Filename) {
					logger.Info("skipped existing document", zap.String("file", doc.Filename))
					continue
				}
				data, err := json.MarshalIndent(doc.Data, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(target, data, 0o644); err != nil {
					return err
				}
				written++
			}

			fmt.Printf("Wrote %d of %d documents to %s\n", written, len(docs), outputDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "mock_personstore", "output directory for attribute documents")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing documents without asking")
	return cmd
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func confirmOverwrite(name string) bool {
	overwrite := false
	prompt := &survey.Confirm{
		Message: fmt.Sprintf("%s already exists. Overwrite?", name),
	}
	if err := survey.AskOne(prompt, &overwrite); err != nil {
		return false
	}
	return overwrite
}
