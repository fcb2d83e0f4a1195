package orchestrator

import (
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/ehr/ehr/internal/audit"
	"github.com/ehr/ehr/internal/batch/ack"
	"github.com/ehr/ehr/internal/batch/forwarder"
	"github.com/ehr/ehr/internal/delta"
	"github.com/ehr/ehr/internal/domain/immunization"
	"github.com/ehr/ehr/internal/platform/objectstore"
	"github.com/ehr/ehr/internal/platform/refcache"
	"github.com/ehr/ehr/internal/platform/retry"
	"github.com/ehr/ehr/internal/platform/shardstream"
)

const sourceBucket = "source-bucket"
const ackBucket = "ack-bucket"
const testFilename = "FLU_Vaccinations_V5_ABC123_20210315T10000000.csv"

func buildPipeCSV(t *testing.T, rows []map[string]string) []byte {
	t.Helper()
	header := []string{
		"ACTION_FLAG", "NHS_NUMBER", "PERSON_FORENAME", "PERSON_SURNAME", "PERSON_DOB",
		"PERSON_GENDER_CODE", "DATE_AND_TIME", "UNIQUE_ID", "UNIQUE_ID_URI",
		"VACCINE_PRODUCT_CODE", "VACCINATION_PROCEDURE_CODE",
	}
	var buf strings.Builder
	w := csv.NewWriter(&buf)
	w.Comma = '|'
	if err := w.Write(header); err != nil {
		t.Fatalf("write header: %v", err)
	}
	for _, row := range rows {
		record := make([]string, len(header))
		for i, col := range header {
			record[i] = row[col]
		}
		if err := w.Write(record); err != nil {
			t.Fatalf("write row: %v", err)
		}
	}
	w.Flush()
	return []byte(buf.String())
}

func validRow(identifier string) map[string]string {
	return map[string]string{
		"ACTION_FLAG":                "NEW",
		"NHS_NUMBER":                 "9000000009",
		"PERSON_FORENAME":            "Sarah",
		"PERSON_SURNAME":             "Taylor",
		"PERSON_DOB":                 "19900101",
		"PERSON_GENDER_CODE":         "2",
		"DATE_AND_TIME":              "20210315T10000000",
		"UNIQUE_ID":                  identifier,
		"UNIQUE_ID_URI":              "https://supplierABC/identifiers/vacc",
		"VACCINE_PRODUCT_CODE":       "39114911000001105",
		"VACCINATION_PROCEDURE_CODE": "6142004",
	}
}

type testRig struct {
	orch       *Orchestrator
	objects    *objectstore.InMemoryStore
	auditStore *audit.InMemoryStore
	immStore   *immunization.InMemoryStore
	immSvc     *immunization.Service
	deltaStore *delta.InMemoryStore
	stream     *shardstream.InMemoryStream
	completed  []string
}

func newRig(t *testing.T, rows []map[string]string) *testRig {
	t.Helper()
	ctx := context.Background()

	objects := objectstore.NewInMemoryStore()
	if err := objects.Put(ctx, sourceBucket, testFilename, buildPipeCSV(t, rows)); err != nil {
		t.Fatalf("seed source object: %v", err)
	}

	cache := refcache.NewInMemoryCache()
	cache.VaccineTypeToDiseases["FLU"] = []string{"6142004"}
	cache.ODSToSupplier["ABC123"] = "ABC"
	cache.Permissions["ABC"] = []string{"FLU_NEW"}

	auditStore := audit.NewInMemoryStore()
	if err := auditStore.Create(ctx, &audit.Entry{
		MessageID: "msg-1",
		Filename:  testFilename,
		QueueName: "ABC_FLU",
		Status:    audit.StatusQueued,
		Timestamp: time.Date(2021, 3, 15, 10, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("create audit entry: %v", err)
	}

	stream := shardstream.NewInMemoryStream()
	fwd := forwarder.New(cache, stream, forwarder.Config{WorkerCount: 4, Retry: retry.Policy{MaxAttempts: 1}})

	immStore := immunization.NewInMemoryStore()
	immSvc := immunization.NewService(immStore, cache)

	deltaStore := delta.NewInMemoryStore()
	projector := delta.NewProjector(deltaStore, retry.Policy{MaxAttempts: 1})

	rig := &testRig{
		orch:       nil,
		objects:    objects,
		auditStore: auditStore,
		immStore:   immStore,
		immSvc:     immSvc,
		deltaStore: deltaStore,
		stream:     stream,
	}
	assembler := ack.NewAssembler(objects, auditStore, ackBucket, func(_ context.Context, queueName string) {
		rig.completed = append(rig.completed, queueName)
	})

	rig.orch = New(objects, auditStore, cache, fwd, stream, immSvc, projector, assembler, sourceBucket, DefaultConfig())
	return rig
}

func TestDispatch_ProcessesQueuedFileEndToEnd(t *testing.T) {
	rig := newRig(t, []map[string]string{validRow("id-0"), validRow("id-1")})
	ctx := context.Background()

	if err := rig.orch.Dispatch(ctx, "ABC_FLU"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, err := rig.auditStore.Get(ctx, "msg-1")
	if err != nil {
		t.Fatalf("get audit entry: %v", err)
	}
	if entry.Status != audit.StatusProcessed {
		t.Fatalf("expected audit entry Processed, got %s", entry.Status)
	}
	if entry.RecordCount == nil || *entry.RecordCount != 2 {
		t.Fatalf("expected record count 2, got %v", entry.RecordCount)
	}
	if len(rig.completed) != 1 || rig.completed[0] != "ABC_FLU" {
		t.Fatalf("expected one completion signal for ABC_FLU, got %v", rig.completed)
	}

	rec, err := rig.immSvc.FindByIdentifier(ctx, "https://supplierABC/identifiers/vacc", "id-0")
	if err != nil {
		t.Fatalf("expected id-0 to have been created: %v", err)
	}
	if rec.NHSNumber != "9000000009" {
		t.Errorf("unexpected NHS number: %s", rec.NHSNumber)
	}

	if len(rig.deltaStore.Records) != 2 {
		t.Fatalf("expected 2 delta records, got %d", len(rig.deltaStore.Records))
	}
	for _, rec := range rig.deltaStore.Records {
		if rec.Operation != "CREATE" {
			t.Errorf("expected delta operation CREATE, got %s", rec.Operation)
		}
	}

	ackContent, err := rig.objects.Get(ctx, ackBucket, "ack/FLU_Vaccinations_V5_ABC123_20210315T10000000_InfAck_20210315100000.csv")
	if err != nil {
		t.Fatalf("expected an ack object: %v", err)
	}
	if !strings.Contains(string(ackContent), "Success") {
		t.Errorf("expected ack rows to report Success, got %s", ackContent)
	}
}

func TestDispatch_IsNoOpWhenAFileIsAlreadyProcessing(t *testing.T) {
	rig := newRig(t, []map[string]string{validRow("id-0")})
	ctx := context.Background()

	if ok, err := rig.auditStore.TransitionStatus(ctx, "msg-1", audit.StatusQueued, audit.StatusProcessing); err != nil || !ok {
		t.Fatalf("setup transition failed: ok=%v err=%v", ok, err)
	}

	if err := rig.orch.Dispatch(ctx, "ABC_FLU"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, err := rig.auditStore.Get(ctx, "msg-1")
	if err != nil {
		t.Fatalf("get audit entry: %v", err)
	}
	if entry.Status != audit.StatusProcessing {
		t.Errorf("expected entry to remain Processing (single-flight per partition), got %s", entry.Status)
	}
}

func TestDispatch_UnauthorisedSupplierIsNotProcessed(t *testing.T) {
	rig := newRig(t, []map[string]string{validRow("id-0")})
	ctx := context.Background()
	rig.orch.cache.(*refcache.InMemoryCache).Permissions["ABC"] = nil

	if err := rig.orch.Dispatch(ctx, "ABC_FLU"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, err := rig.auditStore.Get(ctx, "msg-1")
	if err != nil {
		t.Fatalf("get audit entry: %v", err)
	}
	if entry.Status != audit.StatusNotProcessed {
		t.Errorf("expected NotProcessed for an unauthorised supplier (spec.md §7), got %s", entry.Status)
	}
	if entry.ErrorDetails == nil || *entry.ErrorDetails == "" {
		t.Error("expected error details to be recorded")
	}
}

func TestWatchdog_FailsAStuckFileAndPromotesTheNext(t *testing.T) {
	rig := newRig(t, []map[string]string{validRow("id-0")})
	ctx := context.Background()

	if ok, err := rig.auditStore.TransitionStatus(ctx, "msg-1", audit.StatusQueued, audit.StatusProcessing); err != nil || !ok {
		t.Fatalf("setup transition failed: ok=%v err=%v", ok, err)
	}
	stuck, err := rig.auditStore.Get(ctx, "msg-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	stuck.Timestamp = time.Now().Add(-time.Hour)
	if err := rig.auditStore.Create(ctx, stuck); err != nil {
		t.Fatalf("rewrite stuck entry: %v", err)
	}

	rig.orch.cfg.WatchdogTimeout = time.Minute
	if err := rig.orch.Watchdog(ctx, "ABC_FLU"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, err := rig.auditStore.Get(ctx, "msg-1")
	if err != nil {
		t.Fatalf("get audit entry: %v", err)
	}
	if entry.Status != audit.StatusFailed {
		t.Errorf("expected the stuck entry to be Failed, got %s", entry.Status)
	}
}
