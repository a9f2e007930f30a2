package backup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/starchart/internal/database"
	"github.com/dukerupert/starchart/internal/model"
	"github.com/dukerupert/starchart/internal/store"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	getErr  error
	delErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3NotFound{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader(string(data))),
	}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.delErr != nil {
		return nil, m.delErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type s3NotFound struct{}

func (e *s3NotFound) Error() string { return "NoSuchKey" }

var testS3 = S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret", Region: "us-east-1"}

// setupManager opens a file-backed chart database so VACUUM INTO has a real
// source, and swaps the S3 client for a mock.
func setupManager(t *testing.T) (*Manager, *mockS3Client, *store.ChartStore) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "chart.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cs := store.NewChartStore(db)
	if err := cs.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	m := NewManager(Config{S3: testS3, Passphrase: "hunter2"}, db, store.NewBackupStore(db), nil, slog.New(slog.DiscardHandler))
	mock := newMockS3()
	m.client = mock
	return m, mock, cs
}

func TestManagerStateLifecycle(t *testing.T) {
	// Without S3 config -> disabled
	m := NewManager(Config{}, nil, nil, nil, slog.New(slog.DiscardHandler))
	if m.Status().State != StateDisabled {
		t.Errorf("state = %q, want %q", m.Status().State, StateDisabled)
	}

	// Credentials without a passphrase stay disabled
	m2 := NewManager(Config{S3: testS3}, nil, nil, nil, slog.New(slog.DiscardHandler))
	if m2.Status().State != StateDisabled {
		t.Errorf("state = %q, want %q", m2.Status().State, StateDisabled)
	}

	m3 := NewManager(Config{S3: testS3, Passphrase: "p"}, nil, nil, nil, slog.New(slog.DiscardHandler))
	if m3.Status().State != StateIdle {
		t.Errorf("state = %q, want %q", m3.Status().State, StateIdle)
	}
}

func TestManagerStatusCallback(t *testing.T) {
	var received []Status
	var mu sync.Mutex
	cb := func(s Status) {
		mu.Lock()
		received = append(received, s)
		mu.Unlock()
	}

	m := NewManager(Config{S3: testS3, Passphrase: "p"}, nil, nil, cb, slog.New(slog.DiscardHandler))

	m.setStatus(Status{State: StateRunning, InProgress: true})
	m.setStatus(Status{State: StateIdle})

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("received %d callbacks, want 2", len(received))
	}
	if received[0].State != StateRunning {
		t.Errorf("first callback state = %q, want %q", received[0].State, StateRunning)
	}
	if received[1].State != StateIdle {
		t.Errorf("second callback state = %q, want %q", received[1].State, StateIdle)
	}
}

func TestManagerStopSafety(t *testing.T) {
	m := NewManager(Config{S3: testS3, Passphrase: "p"}, nil, nil, nil, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	m.Stop()

	// Double stop should not panic
	m.Stop()
}

func TestManagerDisabledNoStart(t *testing.T) {
	m := NewManager(Config{}, nil, nil, nil, slog.New(slog.DiscardHandler))
	m.Start(context.Background())
	m.Stop()

	if _, err := m.RunNow(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("RunNow error = %v, want ErrNotConfigured", err)
	}
	if err := m.Cleanup(context.Background()); err != nil {
		t.Errorf("Cleanup on disabled manager: %v", err)
	}
}

func TestRunNowUploadsEncryptedSnapshot(t *testing.T) {
	m, mock, _ := setupManager(t)

	id, err := m.RunNow(context.Background())
	if err != nil {
		t.Fatalf("run backup: %v", err)
	}

	record, err := m.backupStore.GetByID(id)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Status != model.BackupStatusCompleted {
		t.Errorf("status = %q, want %q", record.Status, model.BackupStatusCompleted)
	}

	data, ok := mock.objects[record.S3Key]
	if !ok {
		t.Fatalf("object %q not uploaded", record.S3Key)
	}
	if record.SizeBytes != int64(len(data)) {
		t.Errorf("size_bytes = %d, want %d", record.SizeBytes, len(data))
	}
	if strings.HasPrefix(string(data), "SQLite format 3") {
		t.Error("uploaded object is not encrypted")
	}

	plain, err := Decrypt(data, "hunter2")
	if err != nil {
		t.Fatalf("decrypt upload: %v", err)
	}
	if !strings.HasPrefix(string(plain), "SQLite format 3") {
		t.Error("decrypted object is not a SQLite database")
	}

	st := m.Status()
	if st.State != StateIdle || st.LastBackup == nil {
		t.Errorf("status = %+v, want idle with last backup", st)
	}
}

func TestRunNowUploadFailure(t *testing.T) {
	m, mock, _ := setupManager(t)
	mock.putErr = errors.New("bucket gone")

	if _, err := m.RunNow(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	list, err := m.backupStore.List(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("records = %d, want 1", len(list))
	}
	if list[0].Status != model.BackupStatusFailed {
		t.Errorf("status = %q, want %q", list[0].Status, model.BackupStatusFailed)
	}
	if !strings.Contains(list[0].ErrorMessage, "bucket gone") {
		t.Errorf("error_message = %q, want it to mention the upload error", list[0].ErrorMessage)
	}
	if m.Status().State != StateError {
		t.Errorf("state = %q, want %q", m.Status().State, StateError)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	m, _, cs := setupManager(t)

	if _, err := cs.UpdatePoints(7); err != nil {
		t.Fatalf("update points: %v", err)
	}
	id, err := m.RunNow(context.Background())
	if err != nil {
		t.Fatalf("run backup: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "restored.db")
	if err := m.Restore(context.Background(), id, dest); err != nil {
		t.Fatalf("restore: %v", err)
	}

	db, err := database.Open(dest)
	if err != nil {
		t.Fatalf("open restored: %v", err)
	}
	defer db.Close()

	state, err := store.NewChartStore(db).GetCurrentData()
	if err != nil {
		t.Fatalf("read restored: %v", err)
	}
	if state.Points != 7 {
		t.Errorf("restored points = %d, want 7", state.Points)
	}
}

func TestRestoreWrongPassphrase(t *testing.T) {
	m, _, _ := setupManager(t)

	id, err := m.RunNow(context.Background())
	if err != nil {
		t.Fatalf("run backup: %v", err)
	}

	m.cfg.Passphrase = "wrong"
	dest := filepath.Join(t.TempDir(), "restored.db")
	if err := m.Restore(context.Background(), id, dest); err == nil {
		t.Fatal("expected error with wrong passphrase")
	}
}

func TestRestoreUnknownBackup(t *testing.T) {
	m, _, _ := setupManager(t)
	if err := m.Restore(context.Background(), 999, filepath.Join(t.TempDir(), "x.db")); err == nil {
		t.Fatal("expected error for unknown backup id")
	}
}

func TestCleanupRemovesExpired(t *testing.T) {
	m, mock, _ := setupManager(t)

	if _, err := m.RunNow(context.Background()); err != nil {
		t.Fatalf("run backup: %v", err)
	}
	if mock.count() != 1 {
		t.Fatalf("objects = %d, want 1", mock.count())
	}

	// Within retention: nothing removed.
	if err := m.Cleanup(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if mock.count() != 1 {
		t.Errorf("objects after cleanup = %d, want 1", mock.count())
	}

	// Push the record outside the window.
	if _, err := m.db.Exec(`UPDATE backups SET created_at = ?`, time.Now().UTC().AddDate(0, 0, -60)); err != nil {
		t.Fatalf("age record: %v", err)
	}
	if err := m.Cleanup(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if mock.count() != 0 {
		t.Errorf("objects after expiry = %d, want 0", mock.count())
	}
	list, _ := m.backupStore.List(10)
	if len(list) != 0 {
		t.Errorf("records after expiry = %d, want 0", len(list))
	}
}

func TestCleanupTolerantOfDeleteErrors(t *testing.T) {
	m, mock, _ := setupManager(t)

	if _, err := m.RunNow(context.Background()); err != nil {
		t.Fatalf("run backup: %v", err)
	}
	if _, err := m.db.Exec(`UPDATE backups SET created_at = ?`, time.Now().UTC().AddDate(0, 0, -60)); err != nil {
		t.Fatalf("age record: %v", err)
	}
	mock.delErr = errors.New("denied")

	if err := m.Cleanup(context.Background()); err != nil {
		t.Errorf("cleanup should log delete errors, got %v", err)
	}
}
