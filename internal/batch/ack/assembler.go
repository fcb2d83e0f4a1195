package ack

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"sync"

	"github.com/ehr/ehr/internal/audit"
	"github.com/ehr/ehr/internal/platform/objectstore"
	"github.com/ehr/ehr/internal/platform/shardstream"
)

// defaultBatchSize bounds how many buffered rows accumulate between object
// writes, trading ACK latency for fewer PUTs on a large file (spec.md §4.6,
// "in large batches to minimise object writes").
const defaultBatchSize = 500

// CompletionFunc is called once a file's last row has been acknowledged, so
// C10 can release the next queued file for the same partition.
type CompletionFunc func(ctx context.Context, queueName string)

// Assembler buffers ack rows per file and finalises the audit entry once
// every row for that file has been seen.
type Assembler struct {
	objects      objectstore.Store
	audit        audit.Store
	bucket       string
	batchSize    int
	onCompletion CompletionFunc

	mu        sync.Mutex
	buffers   map[string][]row // keyed by file_key
	processed map[string]int   // keyed by message_id
	unhandled map[string]bool  // keyed by message_id; true once any row saw an UNHANDLED diagnostic
}

func NewAssembler(objects objectstore.Store, auditStore audit.Store, bucket string, onCompletion CompletionFunc) *Assembler {
	return &Assembler{
		objects:      objects,
		audit:        auditStore,
		bucket:       bucket,
		batchSize:    defaultBatchSize,
		onCompletion: onCompletion,
		buffers:      make(map[string][]row),
		processed:    make(map[string]int),
		unhandled:    make(map[string]bool),
	}
}

// Record appends one row's outcome to its file's buffer, flushing to the
// object store on batch boundaries or on the file's last row, and
// finalising the audit entry once the record count is reached. Whether the
// file completes Processed or Failed depends on every row seen so far, not
// just the row that happens to trigger completion.
func (a *Assembler) Record(ctx context.Context, env shardstream.Envelope, delivered bool, createdAtFormatted string) error {
	r := rowFromOutcome(env, delivered, createdAtFormatted)

	a.mu.Lock()
	a.buffers[env.FileKey] = append(a.buffers[env.FileKey], r)
	a.processed[env.MessageID]++
	count := a.processed[env.MessageID]
	if isUnhandled(env) {
		a.unhandled[env.MessageID] = true
	}
	anyUnhandled := a.unhandled[env.MessageID]
	bufferLen := len(a.buffers[env.FileKey])
	a.mu.Unlock()

	entry, err := a.audit.Get(ctx, env.MessageID)
	if err != nil {
		return err
	}
	isLastRow := entry.RecordCount != nil && count >= *entry.RecordCount

	if bufferLen >= a.batchSize || isLastRow {
		if err := a.flush(ctx, env.FileKey, createdAtFormatted); err != nil {
			return err
		}
	}
	if !isLastRow {
		return nil
	}
	return a.complete(ctx, env.MessageID, env.Partition, anyUnhandled)
}

// flush writes the full accumulated buffer for fileKey as a pipe-delimited
// CSV, overwriting the previous object (object stores have no append).
func (a *Assembler) flush(ctx context.Context, fileKey, createdAtFormatted string) error {
	a.mu.Lock()
	rows := append([]row(nil), a.buffers[fileKey]...)
	a.mu.Unlock()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = '|'
	if err := w.Write(rowHeaders); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write(r.values()); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	return a.objects.Put(ctx, a.bucket, ackObjectKey(fileKey, createdAtFormatted), buf.Bytes())
}

// complete transitions the audit entry to Processed/Failed and signals C10.
// A row-level business failure (validation, mismatch) still completes the
// file as Processed; only an UNHANDLED-class diagnostic marks it Failed.
func (a *Assembler) complete(ctx context.Context, messageID, queueName string, anyUnhandled bool) error {
	to := audit.StatusProcessed
	if anyUnhandled {
		to = audit.StatusFailed
	}
	if _, err := a.audit.TransitionStatus(ctx, messageID, audit.StatusProcessing, to); err != nil {
		return err
	}
	if a.onCompletion != nil {
		a.onCompletion(ctx, queueName)
	}
	return nil
}

func ackObjectKey(fileKey, createdAtFormatted string) string {
	base := strings.TrimSuffix(fileKey, ".csv")
	return "ack/" + base + "_InfAck_" + createdAtFormatted + ".csv"
}
