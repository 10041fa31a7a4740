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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zestmindsdev/reliable-ingestion-pipeline/migrations"
	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/storage"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate {up|status}",
	Short:     "Apply or inspect database migrations",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "status"},
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

		gw, err := storage.Open(cfg.Database.DSN(), storage.Config{
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		}, logger)
		if err != nil {
			return err
		}
		defer func() { _ = gw.Close(cmd.Context()) }()

		switch args[0] {
		case "up":
			if err := migrations.Up(gw.DB()); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		default:
			return migrations.Status(gw.DB())
		}
	},
}
