// Integration tests use testcontainers-go to spin up a PostgreSQL container.
package service

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"dice-wager-bot/internal/model"
	"dice-wager-bot/internal/pkg/db"
	"dice-wager-bot/internal/pkg/lock"
	"dice-wager-bot/internal/repository"
	"dice-wager-bot/internal/scheduler"
	"dice-wager-bot/internal/wager"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx, pool))

	return pool, func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type services struct {
	users    *repository.UserRepository
	txs      *repository.TransactionRepository
	sessions *repository.SessionRepository
	ledger   *LedgerService
	accounts *AccountService
	archive  *ArchiveService
}

func newServices(pool *pgxpool.Pool) *services {
	users := repository.NewUserRepository(pool)
	txs := repository.NewTransactionRepository(pool)
	sessions := repository.NewSessionRepository(pool)
	userLock := lock.NewUserLock()

	return &services{
		users:    users,
		txs:      txs,
		sessions: sessions,
		ledger:   NewLedgerService(pool, users, txs, userLock, 5*time.Second),
		accounts: NewAccountService(pool, users, txs, sessions, userLock, AccountOptions{
			InitialBalance: dec("100"),
			DailyReward:    dec("50"),
			DailyCooldown:  24 * time.Hour,
			LockTimeout:    5 * time.Second,
		}),
		archive: NewArchiveService(pool, sessions, users),
	}
}

func TestAccountService_EnsureUser(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newServices(pool)
	ctx := context.Background()

	user, created, err := svc.accounts.EnsureUser(ctx, 1, "alice")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, dec("100").Equal(user.Balance))

	user, created, err = svc.accounts.EnsureUser(ctx, 1, "alice2")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "alice2", user.Username)
	assert.True(t, dec("100").Equal(user.Balance), "existing users keep their balance")

	journal, err := svc.accounts.Transactions(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, journal, 1)
	assert.Equal(t, model.TxTypeInitial, journal[0].Type)
}

func TestAccountService_ClaimDaily(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newServices(pool)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	svc.accounts.now = func() time.Time { return now }

	_, _, err := svc.accounts.EnsureUser(ctx, 1, "alice")
	require.NoError(t, err)

	claim, err := svc.accounts.ClaimDaily(ctx, 1)
	require.NoError(t, err)
	assert.True(t, dec("50").Equal(claim.Amount))
	assert.True(t, dec("150").Equal(claim.Balance))

	now = now.Add(23 * time.Hour)
	claim, err = svc.accounts.ClaimDaily(ctx, 1)
	assert.ErrorIs(t, err, ErrDailyAlreadyClaimed)
	require.NotNil(t, claim)
	assert.Equal(t, time.Hour, claim.Remaining)

	now = now.Add(time.Hour)
	_, err = svc.accounts.ClaimDaily(ctx, 1)
	require.NoError(t, err)

	user, err := svc.accounts.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.True(t, dec("200").Equal(user.Balance))

	_, err = svc.accounts.ClaimDaily(ctx, 404)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestLedgerService_Movements(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newServices(pool)
	ctx := context.Background()

	_, _, err := svc.accounts.EnsureUser(ctx, 1, "alice")
	require.NoError(t, err)

	require.NoError(t, svc.ledger.Reserve(ctx, 1, dec("40"), "S1"))
	require.NoError(t, svc.ledger.Release(ctx, 1, dec("10"), "S1"))
	require.NoError(t, svc.ledger.Capture(ctx, 1, dec("30"), "S1"))
	require.NoError(t, svc.ledger.Credit(ctx, 1, dec("55.20"), "S1"))

	user, err := svc.users.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, dec("125.20").Equal(user.Balance))
	assert.True(t, user.Reserved.IsZero())

	journal, err := svc.txs.GetByReference(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, journal, 4)
	types := []string{journal[0].Type, journal[1].Type, journal[2].Type, journal[3].Type}
	assert.Equal(t, []string{model.TxTypeReserve, model.TxTypeRelease, model.TxTypeCapture, model.TxTypeCredit}, types)
}

func TestLedgerService_Errors(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newServices(pool)
	ctx := context.Background()

	_, _, err := svc.accounts.EnsureUser(ctx, 1, "alice")
	require.NoError(t, err)

	tests := []struct {
		name    string
		op      func() error
		wantErr error
	}{
		{"reserve over balance", func() error { return svc.ledger.Reserve(ctx, 1, dec("100.01"), "S") }, wager.ErrInsufficientFunds},
		{"reserve unknown user", func() error { return svc.ledger.Reserve(ctx, 2, dec("1"), "S") }, wager.ErrInsufficientFunds},
		{"release unheld", func() error { return svc.ledger.Release(ctx, 1, dec("1"), "S") }, wager.ErrStakeNotHeld},
		{"capture unheld", func() error { return svc.ledger.Capture(ctx, 1, dec("1"), "S") }, wager.ErrStakeNotHeld},
		{"credit unknown user", func() error { return svc.ledger.Credit(ctx, 2, dec("1"), "S") }, ErrUserNotFound},
		{"zero amount", func() error { return svc.ledger.Credit(ctx, 1, decimal.Zero, "S") }, ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.op(), tt.wantErr)
		})
	}

	journal, err := svc.txs.GetByReference(ctx, "S")
	require.NoError(t, err)
	assert.Empty(t, journal, "failed movements must not be journaled")
}

// TestEngineOverPostgres plays a full match against the database-backed
// ledger and archive.
func TestEngineOverPostgres(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newServices(pool)
	ctx := context.Background()

	for _, id := range []int64{1, 2} {
		_, _, err := svc.accounts.EnsureUser(ctx, id, "player")
		require.NoError(t, err)
	}

	engine := wager.NewEngine(wager.DefaultConfig(), svc.ledger, scheduler.NewManual(time.Now()), wager.WithArchive(svc.archive))

	id, code, err := engine.CreateMatch(ctx, 1, "alice", dec("15"))
	require.NoError(t, err)
	_, err = engine.JoinMatch(ctx, code, 2, "bob")
	require.NoError(t, err)

	for _, v := range []int{1, 2, 3} {
		_, err = engine.RollDice(ctx, id, 1, v)
		require.NoError(t, err)
	}
	var snap wager.SessionSnapshot
	for _, v := range []int{6, 6, 6} {
		snap, err = engine.RollDice(ctx, id, 2, v)
		require.NoError(t, err)
	}
	require.Equal(t, wager.StateFinished, snap.State)

	alice, err := svc.users.GetByID(ctx, 1)
	require.NoError(t, err)
	bob, err := svc.users.GetByID(ctx, 2)
	require.NoError(t, err)

	assert.True(t, dec("85").Equal(alice.Balance))
	assert.True(t, dec("112.60").Equal(bob.Balance))
	assert.True(t, alice.Reserved.IsZero())
	assert.True(t, bob.Reserved.IsZero())
	assert.Equal(t, 1, bob.GamesWon)
	assert.Equal(t, 1, alice.GamesPlayed)

	rec, err := svc.sessions.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, dec("2.40").Equal(rec.Commission))

	// Recording again is idempotent.
	require.NoError(t, svc.archive.Record(ctx, snap))
	bob, _ = svc.users.GetByID(ctx, 2)
	assert.Equal(t, 1, bob.GamesPlayed)

	history, err := svc.accounts.History(ctx, 1, 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, id, history[0].ID)
}

func TestSessionRecordFromSnapshot(t *testing.T) {
	finished := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name       string
		snap       wager.SessionSnapshot
		wantWinner bool
		wantReason bool
	}{
		{
			name:       "finished with winner",
			snap:       wager.SessionSnapshot{ID: "A", State: wager.StateFinished, WinnerID: 2},
			wantWinner: true,
		},
		{
			name: "tie",
			snap: wager.SessionSnapshot{ID: "B", State: wager.StateFinished, Tie: true},
		},
		{
			name:       "cancelled",
			snap:       wager.SessionSnapshot{ID: "C", State: wager.StateCancelled, CancelReason: "creator cancelled"},
			wantReason: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := SessionRecordFromSnapshot(tt.snap, finished)
			assert.Equal(t, tt.wantWinner, rec.WinnerID != nil)
			assert.Equal(t, tt.wantReason, rec.CancelReason != nil)
			assert.Equal(t, finished, rec.FinishedAt)
			assert.NotNil(t, rec.Participants)
		})
	}
}

func TestAccountService_AdminCredit(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newServices(pool)
	ctx := context.Background()

	_, _, err := svc.accounts.EnsureUser(ctx, 1, "alice")
	require.NoError(t, err)

	user, err := svc.accounts.AdminCredit(ctx, 99, 1, dec("12.34"))
	require.NoError(t, err)
	assert.True(t, dec("112.34").Equal(user.Balance))

	_, err = svc.accounts.AdminCredit(ctx, 99, 1, dec("-1"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.accounts.AdminCredit(ctx, 99, 404, dec("1"))
	assert.ErrorIs(t, err, ErrUserNotFound)

	journal, err := svc.accounts.Transactions(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, journal, 1)
	assert.Equal(t, model.TxTypeAdmin, journal[0].Type)
}

// TestLedgerService_ReleaseOrphanedStakes simulates a crash with stakes still
// held: sessions are gone after restart, so every reserve must come back.
func TestLedgerService_ReleaseOrphanedStakes(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newServices(pool)
	ctx := context.Background()

	for id, name := range map[int64]string{1: "alice", 2: "bob", 3: "carol"} {
		_, _, err := svc.accounts.EnsureUser(ctx, id, name)
		require.NoError(t, err)
	}

	require.NoError(t, svc.ledger.Reserve(ctx, 1, dec("10"), "LIVE1"))
	require.NoError(t, svc.ledger.Reserve(ctx, 1, dec("5"), "LIVE2"))
	require.NoError(t, svc.ledger.Reserve(ctx, 2, dec("10"), "LIVE1"))
	require.NoError(t, svc.ledger.Reserve(ctx, 3, dec("20"), "DONE"))
	require.NoError(t, svc.ledger.Capture(ctx, 3, dec("20"), "DONE"))

	refunded, total, err := svc.ledger.ReleaseOrphanedStakes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, refunded)
	assert.True(t, dec("25").Equal(total), "got %s", total)

	for _, id := range []int64{1, 2} {
		user, err := svc.users.GetByID(ctx, id)
		require.NoError(t, err)
		assert.True(t, dec("100").Equal(user.Balance), "user %d balance %s", id, user.Balance)
		assert.True(t, user.Reserved.IsZero())
	}
	carol, err := svc.users.GetByID(ctx, 3)
	require.NoError(t, err)
	assert.True(t, dec("80").Equal(carol.Balance))

	journal, err := svc.txs.GetByReference(ctx, "LIVE1")
	require.NoError(t, err)
	require.Len(t, journal, 4)
	for _, entry := range journal[2:] {
		assert.Equal(t, model.TxTypeRelease, entry.Type)
		assert.True(t, dec("10").Equal(entry.Amount))
		require.NotNil(t, entry.Description)
		assert.Equal(t, RestartReleaseNote, *entry.Description)
	}

	refunded, total, err = svc.ledger.ReleaseOrphanedStakes(ctx)
	require.NoError(t, err)
	assert.Zero(t, refunded)
	assert.True(t, total.IsZero())
}

func TestLedgerService_ReleaseOrphanedStakesUnattributed(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newServices(pool)
	ctx := context.Background()

	_, _, err := svc.accounts.EnsureUser(ctx, 1, "alice")
	require.NoError(t, err)
	_, err = svc.users.Reserve(ctx, 1, dec("12.50"))
	require.NoError(t, err)

	refunded, total, err := svc.ledger.ReleaseOrphanedStakes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, refunded)
	assert.True(t, dec("12.50").Equal(total))

	txs, err := svc.accounts.Transactions(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.TxTypeRelease, txs[0].Type)
	assert.Nil(t, txs[0].Reference)
	assert.True(t, dec("12.50").Equal(txs[0].Amount))
}
