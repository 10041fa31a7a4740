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

package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/config"
)

var _ = Describe("Load", func() {
	It("returns validated defaults when no file or environment is present", func() {
		cfg, err := config.Load("")
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Port).To(Equal(8080))
		Expect(cfg.Database.MaxConns).To(Equal(20))
		Expect(cfg.Database.MinConns).To(Equal(2))
		Expect(cfg.Database.IdleTimeout).To(Equal(30 * time.Second))
		Expect(cfg.Database.ConnectTimeout).To(Equal(5 * time.Second))
	})

	It("overlays a YAML file onto the defaults", func() {
		path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
		Expect(os.WriteFile(path, []byte(`
port: 9090
database:
  host: db.internal
  name: regdata
`), 0o600)).To(Succeed())

		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Port).To(Equal(9090))
		Expect(cfg.Database.Host).To(Equal("db.internal"))
		Expect(cfg.Database.Name).To(Equal("regdata"))
		// Untouched keys keep their defaults.
		Expect(cfg.Database.User).To(Equal("postgres"))
	})

	It("lets the environment win over the file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
		Expect(os.WriteFile(path, []byte("port: 9090\n"), 0o600)).To(Succeed())

		GinkgoT().Setenv("PORT", "3000")
		GinkgoT().Setenv("DB_HOST", "envhost")
		GinkgoT().Setenv("DB_POOL_MAX", "40")

		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Port).To(Equal(3000))
		Expect(cfg.Database.Host).To(Equal("envhost"))
		Expect(cfg.Database.MaxConns).To(Equal(40))
	})

	It("accepts durations as Go strings or bare seconds", func() {
		GinkgoT().Setenv("DB_IDLE_TIMEOUT", "45s")
		GinkgoT().Setenv("DB_CONNECT_TIMEOUT", "10")

		cfg, err := config.Load("")
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Database.IdleTimeout).To(Equal(45 * time.Second))
		Expect(cfg.Database.ConnectTimeout).To(Equal(10 * time.Second))
	})

	It("rejects an out-of-range port", func() {
		GinkgoT().Setenv("PORT", "70000")

		_, err := config.Load("")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("invalid configuration"))
	})

	It("rejects a pool minimum above the maximum", func() {
		GinkgoT().Setenv("DB_POOL_MAX", "2")
		GinkgoT().Setenv("DB_POOL_MIN", "8")

		_, err := config.Load("")
		Expect(err).To(HaveOccurred())
	})

	It("rejects an unknown environment name", func() {
		GinkgoT().Setenv("APP_ENV", "staging")

		_, err := config.Load("")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Database DSN", func() {
	It("renders the pgx connection string", func() {
		db := config.Database{
			Host:           "localhost",
			Port:           5432,
			Name:           "ingestion",
			User:           "postgres",
			Password:       "secret",
			ConnectTimeout: 5 * time.Second,
		}
		Expect(db.DSN()).To(Equal(
			"host=localhost port=5432 dbname=ingestion user=postgres password=secret sslmode=disable connect_timeout=5",
		))
	})
})

var _ = Describe("IsDevelopment", func() {
	It("is true only for the development environment", func() {
		dev := config.Config{Env: "development"}
		prod := config.Config{Env: "production"}

		Expect(dev.IsDevelopment()).To(BeTrue())
		Expect(prod.IsDevelopment()).To(BeFalse())
	})
})
