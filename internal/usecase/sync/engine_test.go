package sync

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	stdsync "sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"fieldsync/internal/domain/survey"
	"fieldsync/internal/infrastructure/persistence/sqlite/model"
	sqliterepo "fieldsync/internal/infrastructure/persistence/sqlite/repository"
	"fieldsync/internal/ports"
)

type fakeUploader struct {
	mu    stdsync.Mutex
	calls []string
	delay time.Duration
	fn    func(resp survey.Response) error
}

func (u *fakeUploader) Upload(ctx context.Context, resp survey.Response) error {
	u.mu.Lock()
	u.calls = append(u.calls, resp.ID)
	u.mu.Unlock()

	if u.delay > 0 {
		select {
		case <-time.After(u.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if u.fn != nil {
		return u.fn(resp)
	}
	return nil
}

func (u *fakeUploader) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.calls)
}

func (u *fakeUploader) callIDs() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	ids := make([]string, len(u.calls))
	copy(ids, u.calls)
	return ids
}

type fakeSink struct {
	mu      stdsync.Mutex
	deleted []string
}

func (s *fakeSink) DeleteFiles(_ context.Context, paths []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, paths...)
	return len(paths)
}

type fakeClock struct {
	mu  stdsync.Mutex
	now int64
}

func (c *fakeClock) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now++
	return c.now
}

type mapKV struct {
	mu   stdsync.Mutex
	data map[string]string
}

func newMapKV() *mapKV {
	return &mapKV{data: make(map[string]string)}
}

func (k *mapKV) Get(_ context.Context, key string) (string, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.data[key]
	return v, ok, nil
}

func (k *mapKV) Set(_ context.Context, key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data[key] = value
	return nil
}

func (k *mapKV) Delete(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.data, key)
	return nil
}

// failingRepo lets individual tests break specific store writes.
type failingRepo struct {
	ports.ResponseRepository
	failMarkSynced   bool
	failUpdateStatus bool
}

var errStoreBroken = errors.New("store write failed")

func (r *failingRepo) MarkSynced(ctx context.Context, id string) error {
	if r.failMarkSynced {
		return errStoreBroken
	}
	return r.ResponseRepository.MarkSynced(ctx, id)
}

func (r *failingRepo) UpdateStatus(ctx context.Context, id string, status survey.Status, retryCount int, lastAttemptAt int64) error {
	if r.failUpdateStatus {
		return errStoreBroken
	}
	return r.ResponseRepository.UpdateStatus(ctx, id, status, retryCount, lastAttemptAt)
}

func defaultConfig() Config {
	return Config{
		MaxRetryCount:               5,
		ConsecutiveFailureThreshold: 3,
		Backoff: survey.BackoffSchedule{
			InitialDelay: time.Second,
			MaxDelay:     60 * time.Second,
			MaxExponent:  5,
		},
	}
}

type engineFixture struct {
	engine   *Engine
	repo     ports.ResponseRepository
	uploader *fakeUploader
	sink     *fakeSink
	journal  *mapKV
}

func setupEngine(t *testing.T, cfg Config) *engineFixture {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "responses.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&model.Response{}, &model.SyncKV{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	repo := sqliterepo.NewResponseRepository(db)
	uploader := &fakeUploader{}
	sink := &fakeSink{}
	journal := newMapKV()
	engine := NewEngine(repo, uploader, sink, &fakeClock{}, journal, cfg)

	return &engineFixture{
		engine:   engine,
		repo:     repo,
		uploader: uploader,
		sink:     sink,
		journal:  journal,
	}
}

func insertPending(t *testing.T, repo ports.ResponseRepository, id string, createdAt int64, retryCount int, mediaPaths []string) {
	t.Helper()

	resp := survey.Response{
		ID:          id,
		FarmerID:    "farmer-1",
		CreatedAt:   createdAt,
		AnswersJSON: `{"q1":"yes"}`,
		Status:      survey.StatusPending,
		RetryCount:  retryCount,
		MediaPaths:  mediaPaths,
	}
	if err := repo.InsertOrReplace(context.Background(), resp); err != nil {
		t.Fatalf("InsertOrReplace(%s) error = %v", id, err)
	}
}

func equalIDs(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestSyncAllSucceed(t *testing.T) {
	f := setupEngine(t, defaultConfig())
	ctx := context.Background()

	ids := []string{"response-1", "response-2", "response-3", "response-4", "response-5"}
	for i, id := range ids {
		insertPending(t, f.repo, id, int64(i+1), 0, []string{"/media/" + id + ".jpg"})
	}

	result := f.engine.Sync(ctx)

	if !equalIDs(result.Succeeded, ids) {
		t.Fatalf("Succeeded = %v, want %v", result.Succeeded, ids)
	}
	if len(result.Failed) != 0 || len(result.Pending) != 0 {
		t.Fatalf("Failed = %v, Pending = %v, want both empty", result.Failed, result.Pending)
	}
	if result.Stop != nil {
		t.Fatalf("Stop = %+v, want nil", result.Stop)
	}

	for _, id := range ids {
		row, err := f.repo.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID(%s) error = %v", id, err)
		}
		if row.Status != survey.StatusSynced {
			t.Fatalf("status(%s) = %s, want SYNCED", id, row.Status)
		}
		if len(row.MediaPaths) != 0 {
			t.Fatalf("media paths(%s) = %v, want empty", id, row.MediaPaths)
		}
	}

	if len(f.sink.deleted) != 5 {
		t.Fatalf("sink deletions = %d, want 5", len(f.sink.deleted))
	}
}

func TestSyncPartialFailureEarlyStopAtThresholdOne(t *testing.T) {
	cfg := defaultConfig()
	cfg.ConsecutiveFailureThreshold = 1
	f := setupEngine(t, cfg)
	ctx := context.Background()

	for i := 1; i <= 8; i++ {
		insertPending(t, f.repo, responseID(i), int64(i), 0, nil)
	}
	f.uploader.fn = func(resp survey.Response) error {
		if resp.ID == "response-6" {
			return survey.NewServerError(500, "internal")
		}
		return nil
	}

	result := f.engine.Sync(ctx)

	if !equalIDs(result.Succeeded, []string{"response-1", "response-2", "response-3", "response-4", "response-5"}) {
		t.Fatalf("Succeeded = %v", result.Succeeded)
	}
	if !equalIDs(result.Failed, []string{"response-6"}) {
		t.Fatalf("Failed = %v", result.Failed)
	}
	if !equalIDs(result.Pending, []string{"response-7", "response-8"}) {
		t.Fatalf("Pending = %v", result.Pending)
	}
	if result.Stop == nil || result.Stop.Kind != StopNetworkDegradation || result.Stop.ConsecutiveFailures != 1 {
		t.Fatalf("Stop = %+v, want NetworkDegradation(1)", result.Stop)
	}

	row, err := f.repo.GetByID(ctx, "response-6")
	if err != nil {
		t.Fatalf("GetByID(response-6) error = %v", err)
	}
	if row.Status != survey.StatusFailedRetryable || row.RetryCount != 1 {
		t.Fatalf("response-6 = %+v", row)
	}
	if row.LastAttemptAt == nil {
		t.Fatalf("response-6 last_attempt_at not set")
	}
}

func TestSyncImmediateFatalStopOnNoInternet(t *testing.T) {
	f := setupEngine(t, defaultConfig())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		insertPending(t, f.repo, responseID(i), int64(i), 0, nil)
	}
	calls := 0
	f.uploader.fn = func(survey.Response) error {
		calls++
		if calls >= 3 {
			return survey.ErrNoInternet()
		}
		return nil
	}

	result := f.engine.Sync(ctx)

	if !equalIDs(result.Succeeded, []string{"response-1", "response-2"}) {
		t.Fatalf("Succeeded = %v", result.Succeeded)
	}
	if !equalIDs(result.Failed, []string{"response-3"}) {
		t.Fatalf("Failed = %v", result.Failed)
	}
	if !equalIDs(result.Pending, []string{"response-4", "response-5"}) {
		t.Fatalf("Pending = %v", result.Pending)
	}
	if result.Stop == nil || result.Stop.Kind != StopFatalError {
		t.Fatalf("Stop = %+v, want FatalError", result.Stop)
	}
	var ue *survey.UploadError
	if !errors.As(result.Stop.Err, &ue) || ue.Kind != survey.KindNoInternet {
		t.Fatalf("Stop.Err = %v, want NoInternet", result.Stop.Err)
	}
	if f.uploader.callCount() != 3 {
		t.Fatalf("uploader calls = %d, want 3", f.uploader.callCount())
	}
}

func TestSyncNonRetryableErrorGoesPermanent(t *testing.T) {
	f := setupEngine(t, defaultConfig())
	ctx := context.Background()

	insertPending(t, f.repo, "response-1", 1, 0, nil)
	f.uploader.fn = func(survey.Response) error {
		return survey.NewServerError(400, "bad request")
	}

	result := f.engine.Sync(ctx)

	if !equalIDs(result.Failed, []string{"response-1"}) {
		t.Fatalf("Failed = %v", result.Failed)
	}
	if result.Stop != nil {
		t.Fatalf("Stop = %+v, want nil (4xx does not trip early stop)", result.Stop)
	}

	row, err := f.repo.GetByID(ctx, "response-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if row.Status != survey.StatusFailedPermanent || row.RetryCount != 1 {
		t.Fatalf("response-1 = %+v", row)
	}

	// A permanently failed record is never offered to the uploader again.
	f.uploader.fn = nil
	before := f.uploader.callCount()
	next := f.engine.Sync(ctx)
	if f.uploader.callCount() != before {
		t.Fatalf("uploader calls grew from %d to %d", before, f.uploader.callCount())
	}
	if len(next.Succeeded) != 0 || len(next.Failed) != 0 || len(next.Pending) != 0 {
		t.Fatalf("second drain = %+v, want empty", next)
	}
}

func TestSyncConcurrentCallersCoalesce(t *testing.T) {
	f := setupEngine(t, defaultConfig())
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		insertPending(t, f.repo, responseID(i), int64(i), 0, nil)
	}
	f.uploader.delay = 50 * time.Millisecond

	var wg stdsync.WaitGroup
	var first, second Result

	wg.Add(1)
	go func() {
		defer wg.Done()
		first = f.engine.Sync(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	wg.Add(1)
	go func() {
		defer wg.Done()
		second = f.engine.Sync(ctx)
	}()
	wg.Wait()

	if !equalIDs(first.Succeeded, []string{"response-1", "response-2", "response-3"}) {
		t.Fatalf("first.Succeeded = %v", first.Succeeded)
	}
	if !equalIDs(first.Succeeded, second.Succeeded) ||
		!equalIDs(first.Failed, second.Failed) ||
		!equalIDs(first.Pending, second.Pending) {
		t.Fatalf("results differ: first = %+v, second = %+v", first, second)
	}
	if f.uploader.callCount() != 3 {
		t.Fatalf("uploader calls = %d, want 3 (single drain)", f.uploader.callCount())
	}
}

func TestSyncRetryExhaustion(t *testing.T) {
	f := setupEngine(t, defaultConfig())
	ctx := context.Background()

	resp := survey.Response{
		ID:          "response-1",
		FarmerID:    "farmer-1",
		CreatedAt:   1,
		AnswersJSON: `{}`,
		Status:      survey.StatusFailedRetryable,
		RetryCount:  4,
	}
	if err := f.repo.InsertOrReplace(ctx, resp); err != nil {
		t.Fatalf("InsertOrReplace() error = %v", err)
	}
	f.uploader.fn = func(survey.Response) error {
		return survey.NewServerError(500, "internal")
	}

	result := f.engine.Sync(ctx)

	if !equalIDs(result.Failed, []string{"response-1"}) {
		t.Fatalf("Failed = %v", result.Failed)
	}

	row, err := f.repo.GetByID(ctx, "response-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if row.Status != survey.StatusFailedPermanent || row.RetryCount != 5 {
		t.Fatalf("response-1 = %+v", row)
	}
}

func TestSyncEmptyQueue(t *testing.T) {
	f := setupEngine(t, defaultConfig())

	result := f.engine.Sync(context.Background())

	if len(result.Succeeded) != 0 || len(result.Failed) != 0 || len(result.Pending) != 0 || result.Stop != nil {
		t.Fatalf("Sync() on empty queue = %+v", result)
	}
	if f.uploader.callCount() != 0 {
		t.Fatalf("uploader calls = %d, want 0", f.uploader.callCount())
	}
}

func TestSyncConsecutiveResetOnSuccess(t *testing.T) {
	cfg := defaultConfig()
	cfg.ConsecutiveFailureThreshold = 3
	f := setupEngine(t, cfg)
	ctx := context.Background()

	// fail, fail, success, fail, fail: never three in a row.
	for i := 1; i <= 5; i++ {
		insertPending(t, f.repo, responseID(i), int64(i), 0, nil)
	}
	f.uploader.fn = func(resp survey.Response) error {
		if resp.ID == "response-3" {
			return nil
		}
		return survey.ErrTimeout()
	}

	result := f.engine.Sync(ctx)

	if result.Stop != nil {
		t.Fatalf("Stop = %+v, want nil (success resets the streak)", result.Stop)
	}
	if !equalIDs(result.Succeeded, []string{"response-3"}) {
		t.Fatalf("Succeeded = %v", result.Succeeded)
	}
	if len(result.Failed) != 4 {
		t.Fatalf("Failed = %v", result.Failed)
	}
}

func TestSyncDegradationAfterThresholdTimeouts(t *testing.T) {
	f := setupEngine(t, defaultConfig())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		insertPending(t, f.repo, responseID(i), int64(i), 0, nil)
	}
	f.uploader.fn = func(survey.Response) error {
		return survey.ErrTimeout()
	}

	result := f.engine.Sync(ctx)

	if result.Stop == nil || result.Stop.Kind != StopNetworkDegradation || result.Stop.ConsecutiveFailures != 3 {
		t.Fatalf("Stop = %+v, want NetworkDegradation(3)", result.Stop)
	}
	if !equalIDs(result.Failed, []string{"response-1", "response-2", "response-3"}) {
		t.Fatalf("Failed = %v", result.Failed)
	}
	if !equalIDs(result.Pending, []string{"response-4", "response-5"}) {
		t.Fatalf("Pending = %v", result.Pending)
	}
}

func TestSyncUploadOrderMatchesPendingOrder(t *testing.T) {
	f := setupEngine(t, defaultConfig())
	ctx := context.Background()

	insertPending(t, f.repo, "response-b", 10, 0, nil)
	insertPending(t, f.repo, "response-a", 10, 0, nil)
	insertPending(t, f.repo, "response-z", 5, 0, nil)

	result := f.engine.Sync(ctx)

	want := []string{"response-z", "response-a", "response-b"}
	if !equalIDs(f.uploader.callIDs(), want) {
		t.Fatalf("upload order = %v, want %v", f.uploader.callIDs(), want)
	}
	if !equalIDs(result.Succeeded, want) {
		t.Fatalf("Succeeded = %v, want %v", result.Succeeded, want)
	}
}

func TestSyncSnapshotDisjointness(t *testing.T) {
	cfg := defaultConfig()
	cfg.ConsecutiveFailureThreshold = 2
	f := setupEngine(t, cfg)
	ctx := context.Background()

	total := 10
	for i := 1; i <= total; i++ {
		insertPending(t, f.repo, responseID(i), int64(i), 0, nil)
	}
	f.uploader.fn = func(resp survey.Response) error {
		switch resp.ID {
		case "response-4", "response-5":
			return survey.ErrTimeout()
		default:
			return nil
		}
	}

	result := f.engine.Sync(ctx)

	seen := make(map[string]int)
	for _, id := range result.Succeeded {
		seen[id]++
	}
	for _, id := range result.Failed {
		seen[id]++
	}
	for _, id := range result.Pending {
		seen[id]++
	}
	if len(seen) != total {
		t.Fatalf("snapshot covers %d ids, want %d", len(seen), total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("id %s appears %d times across result sets", id, n)
		}
	}
}

func TestSyncStoreWriteFailureAbortsDrain(t *testing.T) {
	f := setupEngine(t, defaultConfig())
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		insertPending(t, f.repo, responseID(i), int64(i), 0, nil)
	}

	broken := &failingRepo{ResponseRepository: f.repo, failMarkSynced: true}
	engine := NewEngine(broken, f.uploader, f.sink, &fakeClock{}, nil, defaultConfig())

	result := engine.Sync(ctx)

	if result.Stop == nil || result.Stop.Kind != StopFatalError {
		t.Fatalf("Stop = %+v, want FatalError", result.Stop)
	}
	if !errors.Is(result.Stop.Err, errStoreBroken) {
		t.Fatalf("Stop.Err = %v, want wrapped store error", result.Stop.Err)
	}
	if len(result.Succeeded) != 0 {
		t.Fatalf("Succeeded = %v, want empty (write never committed)", result.Succeeded)
	}
	if !equalIDs(result.Pending, []string{"response-1", "response-2", "response-3"}) {
		t.Fatalf("Pending = %v", result.Pending)
	}
}

func TestSyncCancellationSurfacesPartialResult(t *testing.T) {
	f := setupEngine(t, defaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 1; i <= 3; i++ {
		insertPending(t, f.repo, responseID(i), int64(i), 0, nil)
	}
	f.uploader.fn = func(resp survey.Response) error {
		if resp.ID == "response-2" {
			cancel()
			return context.Canceled
		}
		return nil
	}

	result := f.engine.Sync(ctx)

	if result.Stop == nil || result.Stop.Kind != StopCancelled {
		t.Fatalf("Stop = %+v, want Cancelled", result.Stop)
	}
	if !equalIDs(result.Succeeded, []string{"response-1"}) {
		t.Fatalf("Succeeded = %v", result.Succeeded)
	}
	if !equalIDs(result.Pending, []string{"response-2", "response-3"}) {
		t.Fatalf("Pending = %v (interrupted record keeps prior status)", result.Pending)
	}

	row, err := f.repo.GetByID(context.Background(), "response-2")
	if err != nil {
		t.Fatalf("GetByID(response-2) error = %v", err)
	}
	if row.Status != survey.StatusPending || row.RetryCount != 0 {
		t.Fatalf("response-2 = %+v, want untouched PENDING", row)
	}
}

func TestSyncWritesJournal(t *testing.T) {
	f := setupEngine(t, defaultConfig())
	ctx := context.Background()

	insertPending(t, f.repo, "response-1", 1, 0, nil)

	_ = f.engine.Sync(ctx)

	if _, found, _ := f.journal.Get(ctx, journalKeyLastSyncAt); !found {
		t.Fatalf("journal missing %s", journalKeyLastSyncAt)
	}
	if v, _, _ := f.journal.Get(ctx, journalKeyTotalSucceeded); v != "1" {
		t.Fatalf("journal %s = %q, want 1", journalKeyTotalSucceeded, v)
	}
	if v, _, _ := f.journal.Get(ctx, journalKeyLastStopReason); v != "none" {
		t.Fatalf("journal %s = %q, want none", journalKeyLastStopReason, v)
	}
}

func TestNextDelayIsAdvisoryBackoff(t *testing.T) {
	f := setupEngine(t, defaultConfig())

	if got := f.engine.NextDelay(0); got != time.Second {
		t.Fatalf("NextDelay(0) = %v, want 1s", got)
	}
	if got := f.engine.NextDelay(10); got != 32*time.Second {
		t.Fatalf("NextDelay(10) = %v, want 32s (capped exponent)", got)
	}
}

func responseID(i int) string {
	return "response-" + strconv.Itoa(i)
}
