// Package exports renders bibliography and task-board exports asynchronously.
// Jobs are queued in memory, rendered from a store snapshot and written to
// the blob store as CSV or JSON artifacts.
package exports

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"thesisgen/internal/blob"
	"thesisgen/internal/core"
	"thesisgen/pkg/domain"
)

// Kind selects which projection of the project is exported.
type Kind string

const (
	KindBibliography Kind = "bibliography"
	KindTaskBoard    Kind = "task_board"
)

// Format selects the artifact encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Status describes the lifecycle stage of an export request.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Artifact captures a stored export artifact. URL is a presigned download
// link; a driver without presign support yields a key-only artifact.
type Artifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record tracks an export request and its resulting artifacts.
type Record struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	ProjectID   string     `json:"project_id"`
	RequestedBy string     `json:"requested_by,omitempty"`
	Formats     []Format   `json:"formats"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (r Record) copy() Record {
	out := r
	out.Formats = append([]Format(nil), r.Formats...)
	out.Artifacts = append([]Artifact(nil), r.Artifacts...)
	if r.CompletedAt != nil {
		completed := *r.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}

// Input represents an enqueue request for the worker.
type Input struct {
	Kind        Kind
	ProjectID   string
	Formats     []Format
	RequestedBy string
}

// Scheduler queues export requests and exposes status.
type Scheduler interface {
	Enqueue(ctx context.Context, input Input) (Record, error)
	Get(id string) (Record, bool)
	List() []Record
}

// Worker executes exports asynchronously against store snapshots.
type Worker struct {
	store domain.PersistentStore
	blobs blob.Store
	audit core.AuditRecorder
	nowFn func() time.Time

	queue chan string
	mu    sync.RWMutex
	jobs  map[string]*Record

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Scheduler = (*Worker)(nil)

// NewWorker constructs an export worker. A nil audit recorder disables audit
// entries.
func NewWorker(store domain.PersistentStore, blobs blob.Store, audit core.AuditRecorder) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		store:  store,
		blobs:  blobs,
		audit:  audit,
		nowFn:  func() time.Time { return time.Now().UTC() },
		queue:  make(chan string, 32),
		jobs:   make(map[string]*Record),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetNowFunc overrides the clock. Intended for tests.
func (w *Worker) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		w.nowFn = fn
	}
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// Enqueue schedules an export job and returns the queued record.
func (w *Worker) Enqueue(ctx context.Context, input Input) (Record, error) {
	if input.ProjectID == "" {
		return Record{}, fmt.Errorf("project id required")
	}
	switch input.Kind {
	case KindBibliography, KindTaskBoard:
	default:
		return Record{}, fmt.Errorf("unknown export kind %q", input.Kind)
	}

	formats := input.Formats
	if len(formats) == 0 {
		formats = []Format{FormatCSV, FormatJSON}
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{})
	for _, format := range formats {
		if _, duplicate := seen[format]; duplicate {
			continue
		}
		if format != FormatCSV && format != FormatJSON {
			return Record{}, fmt.Errorf("unknown export format %q", format)
		}
		uniq = append(uniq, format)
		seen[format] = struct{}{}
	}

	now := w.nowFn()
	record := Record{
		ID:          newExportID(),
		Kind:        input.Kind,
		ProjectID:   input.ProjectID,
		RequestedBy: input.RequestedBy,
		Formats:     uniq,
		Status:      StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[record.ID] = &record
	queued := record.copy()
	w.mu.Unlock()

	w.recordAudit(ctx, queued, nil)

	select {
	case w.queue <- record.ID:
	default:
		w.fail(record.ID, "export queue full")
		return Record{}, fmt.Errorf("export queue full")
	}
	return queued, nil
}

// Get returns a snapshot of the export record.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return Record{}, false
	}
	return record.copy(), true
}

// List returns snapshots of all known export records.
func (w *Worker) List() []Record {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Record, 0, len(w.jobs))
	for _, record := range w.jobs {
		out = append(out, record.copy())
	}
	return out
}

func (w *Worker) process(id string) {
	record, ok := w.Get(id)
	if !ok {
		return
	}
	w.updateStatus(id, StatusRunning)

	var payloads map[Format][]byte
	err := w.store.View(w.ctx, func(view domain.TransactionView) error {
		var renderErr error
		payloads, renderErr = render(record.Kind, record.Formats, record.ProjectID, view)
		return renderErr
	})
	if err != nil {
		w.fail(id, err.Error())
		return
	}

	artifacts := make([]Artifact, 0, len(record.Formats))
	for _, format := range record.Formats {
		key := fmt.Sprintf("exports/%s/%s/%s.%s", record.ProjectID, record.ID, record.Kind, format)
		info, err := w.blobs.Put(w.ctx, key, bytes.NewReader(payloads[format]), blob.PutOptions{
			ContentType: contentTypeFor(format),
			Metadata:    map[string]string{"kind": string(record.Kind)},
		})
		if err != nil {
			w.fail(id, fmt.Sprintf("store artifact: %v", err))
			return
		}
		url, urlErr := w.blobs.PresignURL(w.ctx, key, blob.SignedURLOptions{Method: "GET"})
		if urlErr != nil {
			url = ""
		}
		artifacts = append(artifacts, Artifact{
			Key:         info.Key,
			Format:      format,
			ContentType: contentTypeFor(format),
			SizeBytes:   info.Size,
			URL:         url,
			CreatedAt:   w.nowFn(),
		})
	}
	w.complete(id, artifacts)
}

func (w *Worker) updateStatus(id string, status Status) {
	now := w.nowFn()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = status
		record.UpdatedAt = now
	}
	w.mu.Unlock()
}

func (w *Worker) complete(id string, artifacts []Artifact) {
	now := w.nowFn()
	w.mu.Lock()
	var snapshot Record
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusSucceeded
		record.Error = ""
		record.Artifacts = artifacts
		record.UpdatedAt = now
		record.CompletedAt = &now
		snapshot = record.copy()
	}
	w.mu.Unlock()
	w.recordAudit(w.ctx, snapshot, nil)
}

func (w *Worker) fail(id, reason string) {
	now := w.nowFn()
	w.mu.Lock()
	var snapshot Record
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
		snapshot = record.copy()
	}
	w.mu.Unlock()
	w.recordAudit(w.ctx, snapshot, fmt.Errorf("%s", reason))
}

func (w *Worker) recordAudit(ctx context.Context, record Record, err error) {
	if w.audit == nil || record.ID == "" {
		return
	}
	status := core.AuditStatusSuccess
	message := ""
	if err != nil {
		status = core.AuditStatusError
		message = err.Error()
	}
	w.audit.Record(ctx, core.AuditEntry{
		Operation: "export_" + string(record.Kind),
		Entity:    "export",
		Action:    domain.Action(record.Status),
		EntityID:  record.ID,
		Status:    status,
		Error:     message,
		Timestamp: record.UpdatedAt,
	})
}

func render(kind Kind, formats []Format, projectID string, view domain.TransactionView) (map[Format][]byte, error) {
	out := make(map[Format][]byte, len(formats))
	for _, format := range formats {
		var payload []byte
		var err error
		switch kind {
		case KindBibliography:
			payload, err = renderBibliography(format, view.ListSources(projectID))
		case KindTaskBoard:
			payload, err = renderTaskBoard(format, view.ListTasks(projectID))
		default:
			err = fmt.Errorf("unknown export kind %q", kind)
		}
		if err != nil {
			return nil, err
		}
		out[format] = payload
	}
	return out, nil
}

func renderBibliography(format Format, sources []domain.Source) ([]byte, error) {
	if format == FormatJSON {
		return json.MarshalIndent(sources, "", "  ")
	}
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	rows := [][]string{{"title", "author", "year", "method", "result", "conclusion"}}
	for _, source := range sources {
		rows = append(rows, []string{
			source.Title, source.Author, source.Year,
			source.Method, source.Result, source.Conclusion,
		})
	}
	if err := writer.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderTaskBoard(format Format, tasks []domain.Task) ([]byte, error) {
	if format == FormatJSON {
		return json.MarshalIndent(tasks, "", "  ")
	}
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	rows := [][]string{{"title", "status", "priority", "created_at"}}
	for _, task := range tasks {
		rows = append(rows, []string{
			task.Title, string(task.Status), string(task.Priority),
			task.CreatedAt.Format(time.RFC3339),
		})
	}
	if err := writer.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func contentTypeFor(format Format) string {
	if format == FormatJSON {
		return "application/json"
	}
	return "text/csv"
}

func newExportID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
