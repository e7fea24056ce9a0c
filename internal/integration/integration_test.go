package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"mathfluency-service/internal/domain"
	infrapg "mathfluency-service/internal/infra/postgres"
	pgmigrations "mathfluency-service/internal/infra/postgres/migrations"
	infraredis "mathfluency-service/internal/infra/redis"
	"mathfluency-service/internal/problem"
	"mathfluency-service/internal/quiz"
)

type nopGateway struct{}

func (nopGateway) Broadcast(string, string, any) {}
func (nopGateway) Send(string, string, any)      {}

func TestQuizSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateDB(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	attempts := infrapg.NewAttemptStore(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	sessionStore := infraredis.NewSessionStore(redisClient, 5*time.Minute)

	deps := quiz.Deps{
		Problems: problem.NewFixedSource([]domain.Problem{
			{ID: "q1", Text: "3 + 4", Answer: 7},
			{ID: "q2", Text: "2 + 2", Answer: 4},
		}),
		Attempts: attempts,
		Results:  sessionStore,
		Gateway:  nopGateway{},
	}
	defaults := quiz.Options{Operation: "addition", Level: 1, QuestionWindow: 30 * time.Second}
	registry := quiz.NewRegistry(defaults, time.Minute, deps, sessionStore)

	session := registry.GetOrCreate(ctx, "quiz-1", quiz.Options{})

	if err := redisClient.Get(ctx, "quiz:session:quiz-1").Err(); err != nil {
		t.Fatalf("expected liveness key after creation: %v", err)
	}

	if err := session.Join("t1", "teacher-1", "Ms. Rivera", domain.RoleTeacher); err != nil {
		t.Fatalf("teacher join: %v", err)
	}
	if err := session.Join("s1", "u1", "Alice", domain.RoleStudent); err != nil {
		t.Fatalf("student join: %v", err)
	}
	if err := session.Start(ctx, "t1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := session.SubmitAnswer(ctx, "s1", "q1", 7, 2*time.Second); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := session.End("t1"); err != nil {
		t.Fatalf("end: %v", err)
	}

	// attempt persistence is fire-and-forget, so poll
	waitFor(t, 5*time.Second, func() bool {
		var count int
		if err := pool.QueryRow(ctx, `SELECT count(*) FROM quiz_attempts WHERE quiz_id='quiz-1' AND user_id='u1'`).Scan(&count); err != nil {
			return false
		}
		return count == 1
	}, "attempt row in postgres")

	waitFor(t, 5*time.Second, func() bool {
		lb, err := sessionStore.LoadLeaderboard(ctx, "quiz-1")
		if err != nil {
			return false
		}
		return len(lb.Entries) == 1 && lb.Entries[0].UserID == "u1" && lb.Entries[0].Score > 0
	}, "final leaderboard in redis")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func migrateDB(t *testing.T, ctx context.Context, dsn string) {
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
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
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
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
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
