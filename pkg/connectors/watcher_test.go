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

package connectors

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/canonical"
)

var _ = DescribeTable("classifyFile",
	func(name, wantSource string, wantOK bool) {
		source, ok := classifyFile(name)
		Expect(ok).To(Equal(wantOK))
		Expect(source).To(Equal(wantSource))
	},
	Entry("bulk csv", "/drop/bulk.csv", "bulk", true),
	Entry("bulk with suffix", "/drop/bulk_2024-01-10.csv", "bulk", true),
	Entry("recent jsonl", "/drop/recent.jsonl", "recent", true),
	Entry("recent ndjson", "/drop/recent-feed.ndjson", "recent", true),
	Entry("case-insensitive prefix", "/drop/Bulk.CSV", "bulk", true),
	Entry("unknown prefix", "/drop/notes.csv", "", false),
	Entry("unsupported extension", "/drop/bulk.txt", "", false),
	Entry("partial upload suffix", "/drop/bulk.csv.part", "", false),
)

// ingestRecorder captures watcher-triggered ingests.
type ingestRecorder struct {
	mu    sync.Mutex
	calls []recordedIngest
}

type recordedIngest struct {
	source  string
	records []canonical.Record
}

func (r *ingestRecorder) ingest(_ context.Context, source string, records []canonical.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedIngest{source: source, records: records})
	return nil
}

func (r *ingestRecorder) snapshot() []recordedIngest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedIngest(nil), r.calls...)
}

var _ = Describe("Watcher", func() {
	var (
		dir      string
		recorder *ingestRecorder
		watcher  *Watcher
		cancel   context.CancelFunc
		done     chan struct{}
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		recorder = &ingestRecorder{}
		watcher = NewWatcher(dir, recorder.ingest, zap.NewNop())
		watcher.settle = 50 * time.Millisecond

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan struct{})
		go func() {
			defer close(done)
			_ = watcher.Run(ctx)
		}()
		// Give fsnotify a beat to register the directory.
		time.Sleep(50 * time.Millisecond)
	})

	AfterEach(func() {
		cancel()
		Eventually(done).Should(BeClosed())
	})

	It("ingests a dropped bulk file after writes settle", func() {
		content := "source_key,published_at,title,entity_name,region,record_id,status\n" +
			"TX-001,2024-01-10,T,Acme Energy LLC,TX,R1,open\n"
		Expect(os.WriteFile(filepath.Join(dir, "bulk.csv"), []byte(content), 0o600)).To(Succeed())

		Eventually(recorder.snapshot, 2*time.Second, 20*time.Millisecond).Should(HaveLen(1))
		got := recorder.snapshot()[0]
		Expect(got.source).To(Equal("bulk"))
		Expect(got.records).To(HaveLen(1))
		Expect(got.records[0].SourceKey).To(Equal("TX-001"))
	})

	It("ignores files it cannot classify", func() {
		Expect(os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o600)).To(Succeed())

		Consistently(recorder.snapshot, 300*time.Millisecond, 50*time.Millisecond).Should(BeEmpty())
	})

	It("debounces repeated writes into a single ingest", func() {
		path := filepath.Join(dir, "recent.jsonl")
		line := `{"source_key":"TX-002","published_at":"2024-01-10","title":"T","entity_name":"E","region":"TX","record_id":"R2","status":"open"}` + "\n"

		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
		Expect(err).NotTo(HaveOccurred())
		for i := 0; i < 3; i++ {
			_, err = f.WriteString(line)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.Sync()).To(Succeed())
			time.Sleep(10 * time.Millisecond)
		}
		Expect(f.Close()).To(Succeed())

		Eventually(recorder.snapshot, 2*time.Second, 20*time.Millisecond).Should(HaveLen(1))
		Consistently(recorder.snapshot, 300*time.Millisecond, 50*time.Millisecond).Should(HaveLen(1))
		Expect(recorder.snapshot()[0].records).To(HaveLen(3))
	})
})
