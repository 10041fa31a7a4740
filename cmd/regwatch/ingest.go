/*
Copyright 2026 Zestminds.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/alerts"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/connectors"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/ingestion"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/metrics"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/storage"
)

var (
	ingestFile       string
	ingestBatchSize  int
	ingestNoValidate bool
)

var ingestCmd = &cobra.Command{
	Use:       "ingest {bulk|recent}",
	Short:     "Run a one-shot ingestion from a source file",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"bulk", "recent"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		if ingestFile == "" {
			return fmt.Errorf("--file is required")
		}
		recs, err := connectors.ParseFile(ingestFile)
		if err != nil {
			return err
		}

		gw, err := storage.Open(cfg.Database.DSN(), storage.Config{
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			IdleTimeout: cfg.Database.IdleTimeout,
		}, logger)
		if err != nil {
			return err
		}
		defer func() { _ = gw.Close(cmd.Context()) }()

		engine := ingestion.NewEngine(gw, alerts.NewService(gw, logger), metrics.New("regwatch"), logger)

		opts := ingestion.DefaultOptions()
		if ingestBatchSize > 0 {
			opts.BatchSize = ingestBatchSize
		}
		opts.Validate = !ingestNoValidate

		result, err := engine.Ingest(cmd.Context(), recs, ingestion.SourceType(args[0]), opts)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "source file (.csv, .jsonl, .ndjson)")
	ingestCmd.Flags().IntVar(&ingestBatchSize, "batch-size", 0, "records per batch (default 100)")
	ingestCmd.Flags().BoolVar(&ingestNoValidate, "no-validate", false, "skip the validation gate")
}
