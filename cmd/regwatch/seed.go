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

	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/storage"
)

// seedUsers covers all three plans so quota behavior is exercisable out of
// the box.
var seedUsers = []struct {
	email string
	plan  string
}{
	{"starter@example.com", "starter"},
	{"pro@example.com", "pro"},
	{"team@example.com", "team"},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert demo users for local development",
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

		for _, u := range seedUsers {
			_, err := gw.Exec(cmd.Context(),
				"INSERT INTO users (email, plan) VALUES ($1, $2) ON CONFLICT (email) DO NOTHING",
				u.email, u.plan)
			if err != nil {
				return fmt.Errorf("seeding user %s: %w", u.email, err)
			}
			fmt.Printf("seeded %s (%s)\n", u.email, u.plan)
		}
		return nil
	},
}
