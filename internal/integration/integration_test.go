package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"lms-attempt-service/internal/app"
	"lms-attempt-service/internal/domain"
	pgstore "lms-attempt-service/internal/infra/postgres"
	pgmigrations "lms-attempt-service/internal/infra/postgres/migrations"
	infraredis "lms-attempt-service/internal/infra/redis"
	"lms-attempt-service/internal/lms"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

// TestDraftResumeEndToEnd drives a draft session against a real LMS
// stub and a Postgres-backed snapshot store: work saved before a
// detach must survive a process restart and win over the older server
// copy on reload.
func TestDraftResumeEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	applyMigrations(t, ctx, pgURL)

	lmsServer := newLMSStub()
	defer lmsServer.Close()

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	client := lms.NewClient(lms.Config{BaseURL: lmsServer.URL, Timeout: 5 * time.Second})
	store := pgstore.NewSnapshotStore(pool)

	drafts := app.NewDraftService(client, store, app.Options{})
	session, err := drafts.Open(ctx, "a1", "u1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := session.SetText("written offline, cached locally"); err != nil {
		t.Fatalf("set text: %v", err)
	}
	if err := session.SaveDraft(ctx); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	drafts.Close("a1", "u1")

	// A new service instance simulates a restart; the snapshot row in
	// Postgres is newer than the server copy and must be restored.
	drafts = app.NewDraftService(client, store, app.Options{})
	session, err = drafts.Open(ctx, "a1", "u1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer drafts.Close("a1", "u1")

	if got := session.State().Text; got != "written offline, cached locally" {
		t.Fatalf("expected cached draft restored after restart, got %q", got)
	}
}

// TestQuizCacheSharedThroughRedis checks that concurrent session opens
// against a Redis-backed quiz cache hit upstream exactly once.
func TestQuizCacheSharedThroughRedis(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	lmsServer := newLMSStub()
	defer lmsServer.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	client := lms.NewClient(lms.Config{BaseURL: lmsServer.URL, Timeout: 5 * time.Second})
	quizzes := infraredis.NewQuizRepository(redisClient, client, 5*time.Minute)

	first, err := quizzes.GetQuiz(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if len(first.Questions) != 1 {
		t.Fatalf("expected seeded quiz, got %+v", first)
	}
	if _, err := quizzes.GetQuiz(ctx, "quiz-1"); err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if got := atomic.LoadInt64(&lmsServer.quizFetches); got != 1 {
		t.Fatalf("expected 1 upstream quiz fetch, got %d", got)
	}
}

// lmsStub is a minimal upstream LMS over httptest.
type lmsStub struct {
	*httptest.Server
	quizFetches int64
}

func newLMSStub() *lmsStub {
	stub := &lmsStub{}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /assignments/a1", func(w http.ResponseWriter, r *http.Request) {
		assignment := domain.Assignment{
			ID:    "a1",
			Title: "Essay",
			Submission: &domain.Submission{
				Content:   "stale server copy",
				Status:    domain.DraftEditable,
				UpdatedAt: time.Now().Add(-time.Hour),
			},
		}
		_ = json.NewEncoder(w).Encode(assignment)
	})
	mux.HandleFunc("POST /assignments", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /quizzes/quiz-1", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&stub.quizFetches, 1)
		_ = json.NewEncoder(w).Encode(sampleQuiz())
	})

	stub.Server = httptest.NewServer(mux)
	return stub
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:              "quiz-1",
		Title:           "Numbers",
		DurationMinutes: 30,
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3", Correct: false},
					{ID: "o2", Text: "4", Correct: true},
					{ID: "o3", Text: "5", Correct: false},
				},
				Points: 1,
			},
		},
	}
}

func applyMigrations(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "lms", "POSTGRES_PASSWORD": "lmspass", "POSTGRES_DB": "lmsdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://lms:lmspass@%s:%s/lmsdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
