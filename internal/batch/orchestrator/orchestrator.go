// Package orchestrator implements C10: it glues C1/C3/C5/C6/C7/C8/C9
// together, owning per-partition flow control (spec.md §4.7) — at most one
// file in state Processing per partition, the next queued file released
// only once C8 finishes the current one, and a watchdog that fails a file
// stuck in Processing beyond a configured timeout.
package orchestrator

import (
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/ehr/ehr/internal/audit"
	"github.com/ehr/ehr/internal/batch/ack"
	"github.com/ehr/ehr/internal/batch/filename"
	"github.com/ehr/ehr/internal/batch/forwarder"
	"github.com/ehr/ehr/internal/batch/rowprocessor"
	"github.com/ehr/ehr/internal/convert"
	"github.com/ehr/ehr/internal/delta"
	"github.com/ehr/ehr/internal/domain/immunization"
	"github.com/ehr/ehr/internal/platform/objectstore"
	"github.com/ehr/ehr/internal/platform/refcache"
	"github.com/ehr/ehr/internal/platform/shardstream"
)

// deltaOperations maps a row's resolved ACTION_FLAG (NEW/UPDATE/DELETE, the
// convert package's naming) to the delta projection's Operation vocabulary
// (CREATE/UPDATE/DELETE, spec.md §3's delta-entry shape) — the two enums
// name the same three actions differently and C10 is where they meet.
var deltaOperations = map[string]string{
	string(convert.ActionNew):    "CREATE",
	string(convert.ActionUpdate): "UPDATE",
	string(convert.ActionDelete): "DELETE",
}

// Config bounds how much of the shard stream a single drain pass consumes
// and how long a file may sit in Processing before the watchdog reclaims
// its partition.
type Config struct {
	PollBatchSize   int32
	WatchdogTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{PollBatchSize: 50, WatchdogTimeout: 15 * time.Minute}
}

// Orchestrator is C10.
type Orchestrator struct {
	objects       objectstore.Store
	audit         audit.Store
	cache         refcache.Cache
	forwarder     *forwarder.Forwarder
	stream        shardstream.Stream
	immunizations *immunization.Service
	projector     *delta.Projector
	assembler     *ack.Assembler
	sourceBucket  string
	cfg           Config
}

func New(
	objects objectstore.Store,
	auditStore audit.Store,
	cache refcache.Cache,
	fwd *forwarder.Forwarder,
	stream shardstream.Stream,
	immunizations *immunization.Service,
	projector *delta.Projector,
	assembler *ack.Assembler,
	sourceBucket string,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		objects:       objects,
		audit:         auditStore,
		cache:         cache,
		forwarder:     fwd,
		stream:        stream,
		immunizations: immunizations,
		projector:     projector,
		assembler:     assembler,
		sourceBucket:  sourceBucket,
		cfg:           cfg,
	}
}

// Dispatch advances queueName's partition by one file (spec.md §4.7): if a
// file is already Processing it is a no-op; otherwise it claims the oldest
// Queued entry and drives it through C5/C6/C7/C8/C9 to completion. Call
// this once per file-arrival or ACK-completion signal for the partition.
func (o *Orchestrator) Dispatch(ctx context.Context, queueName string) error {
	inFlight, err := o.audit.ProcessingForPartition(ctx, queueName)
	if err != nil {
		return err
	}
	if inFlight != nil {
		return nil
	}

	queued, err := o.audit.QueuedForPartition(ctx, queueName)
	if err != nil {
		return err
	}
	if len(queued) == 0 {
		return nil
	}
	next := queued[0]

	ok, err := o.audit.TransitionStatus(ctx, next.MessageID, audit.StatusQueued, audit.StatusProcessing)
	if err != nil {
		return err
	}
	if !ok {
		// Another worker claimed it first; nothing to do this round.
		return nil
	}
	return o.processFile(ctx, next)
}

// Watchdog fails any entry that has sat in Processing beyond cfg's timeout
// and releases its partition, per spec.md §4.7/§5 ("a crashed file stuck in
// Processing beyond a configured watchdog is marked Failed and its
// successor is promoted").
func (o *Orchestrator) Watchdog(ctx context.Context, queueName string) error {
	entry, err := o.audit.ProcessingForPartition(ctx, queueName)
	if err != nil || entry == nil {
		return err
	}
	if time.Since(entry.Timestamp) < o.cfg.WatchdogTimeout {
		return nil
	}
	if _, err := o.audit.TransitionStatus(ctx, entry.MessageID, audit.StatusProcessing, audit.StatusFailed); err != nil {
		return err
	}
	return o.Dispatch(ctx, queueName)
}

func (o *Orchestrator) processFile(ctx context.Context, entry *audit.Entry) error {
	content, err := o.objects.Get(ctx, o.sourceBucket, entry.Filename)
	if err != nil {
		return o.fail(ctx, entry, fmt.Sprintf("reading source object: %s", err))
	}
	rows, err := parsePipeRows(content)
	if err != nil {
		return o.fail(ctx, entry, fmt.Sprintf("parsing CSV: %s", err))
	}
	if len(rows) == 0 {
		return o.notProcessed(ctx, entry, audit.ReasonEmpty)
	}
	if err := o.audit.SetRecordCount(ctx, entry.MessageID, len(rows)); err != nil {
		return err
	}

	// A re-run of C3 here (not just at arrival) is what lets this check see
	// the file's actual required operations, derived from its ACTION_FLAG
	// column. Both of C3's failure modes are an authorisation rejection, not
	// an infrastructure fault, so spec.md §7 routes them to NotProcessed
	// rather than Failed.
	meta, err := filename.ParseAndAuthorise(ctx, o.cache, entry.Filename, requiredOperations(rows))
	if err != nil {
		return o.notProcessed(ctx, entry, audit.ReasonUnauthorised)
	}

	fc := rowprocessor.FileContext{
		FileKey:     entry.Filename,
		MessageID:   entry.MessageID,
		Supplier:    meta.Supplier,
		VaccineType: meta.VaccineType,
	}
	if err := o.forwarder.ForwardFile(ctx, fc, rows); err != nil {
		return o.fail(ctx, entry, fmt.Sprintf("forwarding rows: %s", err))
	}

	createdAt := entry.Timestamp.UTC().Format("20060102150405")
	return o.drain(ctx, entry, createdAt, len(rows))
}

// drain polls the shard stream for entry's partition until every row has
// produced an ACK, applying each envelope's mutation to C7/C9 before
// recording its outcome with C8. A row-level diagnostic still reaches C8 —
// it is not delivered, but it is accounted for.
func (o *Orchestrator) drain(ctx context.Context, entry *audit.Entry, createdAt string, total int) error {
	seen := 0
	for seen < total {
		if err := ctx.Err(); err != nil {
			return err
		}
		envs, err := o.stream.Poll(ctx, entry.QueueName, int32(o.cfg.PollBatchSize))
		if err != nil {
			return err
		}
		if len(envs) == 0 {
			continue
		}
		for _, env := range envs {
			if env.MessageID != entry.MessageID {
				continue
			}
			delivered := o.mutate(ctx, env)
			if err := o.assembler.Record(ctx, env, delivered, createdAt); err != nil {
				return err
			}
			seen++
		}
	}
	return nil
}

// mutate applies one envelope's action to the CRUD engine and, on success,
// projects the delta row. A row carrying any diagnostic was never
// validated, so it is never delivered. Identifier resolution for
// UPDATE/DELETE follows spec.md §4.5's identifier-indexed model: a batch
// row only ever carries the resource's identifier, never the store's
// internal id, so C10 resolves the id via FindByIdentifier first.
func (o *Orchestrator) mutate(ctx context.Context, env shardstream.Envelope) bool {
	if len(env.Diagnostics) > 0 || env.FHIRResource == nil {
		return false
	}

	var (
		immsID string
		err    error
	)
	switch convert.Action(env.Action) {
	case convert.ActionNew:
		var rec *immunization.Record
		rec, err = o.immunizations.Create(ctx, env.FHIRResource)
		if rec != nil {
			immsID = rec.ID.String()
		}
	case convert.ActionUpdate:
		immsID, err = o.updateByIdentifier(ctx, env.FHIRResource)
	case convert.ActionDelete:
		immsID, err = o.deleteByIdentifier(ctx, env.FHIRResource)
	default:
		return false
	}
	if err != nil {
		return false
	}

	// Best-effort per spec.md §4.8: the mutation already committed, so a
	// delta write failure never undoes it. The error is discarded here and
	// is not logged.
	_ = o.projector.Project(ctx, immsID, deltaOperations[env.Action], env.Supplier, env.VaccineType, env.FHIRResource)
	return true
}

func (o *Orchestrator) updateByIdentifier(ctx context.Context, resource []byte) (string, error) {
	imms, convErr := convert.FromJSON(resource)
	if convErr != nil || len(imms.Identifier) == 0 {
		return "", fmt.Errorf("orchestrator: resource has no identifier to update by")
	}
	existing, err := o.immunizations.FindByIdentifier(ctx, imms.Identifier[0].System, imms.Identifier[0].Value)
	if err != nil {
		return "", err
	}
	rec, err := o.immunizations.Update(ctx, existing.ID, resource)
	if err != nil {
		return "", err
	}
	return rec.ID.String(), nil
}

func (o *Orchestrator) deleteByIdentifier(ctx context.Context, resource []byte) (string, error) {
	imms, convErr := convert.FromJSON(resource)
	if convErr != nil || len(imms.Identifier) == 0 {
		return "", fmt.Errorf("orchestrator: resource has no identifier to delete by")
	}
	existing, err := o.immunizations.FindByIdentifier(ctx, imms.Identifier[0].System, imms.Identifier[0].Value)
	if err != nil {
		return "", err
	}
	if err := o.immunizations.Delete(ctx, existing.ID); err != nil {
		return "", err
	}
	return existing.ID.String(), nil
}

// fail and notProcessed both end the partition's single-flight hold outside
// of C8's normal completion path (processFile never reached the forwarder),
// so each promotes the partition's next queued file itself, mirroring
// Watchdog's own post-failure Dispatch call.
func (o *Orchestrator) fail(ctx context.Context, entry *audit.Entry, reason string) error {
	if _, err := o.audit.TransitionStatus(ctx, entry.MessageID, audit.StatusProcessing, audit.StatusFailed); err != nil {
		return err
	}
	if err := o.audit.SetErrorDetails(ctx, entry.MessageID, reason); err != nil {
		return err
	}
	return o.Dispatch(ctx, entry.QueueName)
}

// notProcessed ends the file in the terminal NotProcessed state (spec.md
// §7's InvalidFileKey/VaccineTypePermissions row) rather than Failed — an
// authorisation rejection isn't an infrastructure failure.
func (o *Orchestrator) notProcessed(ctx context.Context, entry *audit.Entry, reason string) error {
	if _, err := o.audit.TransitionStatus(ctx, entry.MessageID, audit.StatusProcessing, audit.StatusNotProcessed); err != nil {
		return err
	}
	if err := o.audit.SetErrorDetails(ctx, entry.MessageID, reason); err != nil {
		return err
	}
	return o.Dispatch(ctx, entry.QueueName)
}

// requiredOperations derives the set of ACTION_FLAG values present in the
// file, for C3's supplier×vaccine-type×operation authorisation check.
func requiredOperations(rows []map[string]string) []string {
	seen := make(map[string]bool)
	var ops []string
	for _, row := range rows {
		op := rowprocessor.NormaliseAction(row["ACTION_FLAG"])
		if op == "" || seen[op] {
			continue
		}
		seen[op] = true
		ops = append(ops, op)
	}
	return ops
}

// parsePipeRows parses a pipe-delimited CSV with a header row (spec.md §6)
// into one map per data row, keyed by column name.
func parsePipeRows(content []byte) ([]map[string]string, error) {
	r := csv.NewReader(strings.NewReader(string(content)))
	r.Comma = '|'
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	header := records[0]

	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
