package telemetry

import (
	"expvar"
	"sync"
	"time"
)

var (
	initOnce sync.Once

	retrievalTotal     *expvar.Map
	retrievalLatencyMS *expvar.Int

	ingestBatchTotal *expvar.Int
	ingestChunkTotal *expvar.Int

	chatTotal     *expvar.Int
	chatLatencyMS *expvar.Int
)

func ensureInit() {
	initOnce.Do(func() {
		retrievalTotal = expvar.NewMap("chatdoc_retrieval_total")
		retrievalLatencyMS = expvar.NewInt("chatdoc_retrieval_latency_ms")

		ingestBatchTotal = expvar.NewInt("chatdoc_ingest_batches_total")
		ingestChunkTotal = expvar.NewInt("chatdoc_ingest_chunks_total")

		chatTotal = expvar.NewInt("chatdoc_chat_total")
		chatLatencyMS = expvar.NewInt("chatdoc_chat_latency_ms")
	})
}

// RecordRetrieval counts one retrieval call per strategy and accumulates
// latency. Counters are exposed via /debug/vars.
func RecordRetrieval(strategy string, duration time.Duration) {
	ensureInit()
	retrievalTotal.Add(strategy, 1)
	retrievalLatencyMS.Add(duration.Milliseconds())
}

// RecordIngest counts one accepted insert batch and its chunk count.
func RecordIngest(chunks int) {
	ensureInit()
	ingestBatchTotal.Add(1)
	ingestChunkTotal.Add(int64(chunks))
}

// RecordChat counts one completed chat round trip.
func RecordChat(duration time.Duration) {
	ensureInit()
	chatTotal.Add(1)
	chatLatencyMS.Add(duration.Milliseconds())
}
