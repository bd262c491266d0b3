package usage

import (
	"context"
	"sync"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/suPer8Hu/roomtalk/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	// sqlite has a single writer; serialize connections so parallel
	// increments contend on the upsert, not on the driver
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.User{}, &models.Subscription{}, &Record{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestLedger(t *testing.T, db *gorm.DB) *Ledger {
	t.Helper()
	return NewLedger(db, Limits{Basic: 5, Pro: 1000}, zerolog.Nop())
}

func seedUser(t *testing.T, db *gorm.DB, email string) uint64 {
	t.Helper()
	u := models.User{Email: email, Username: email, PasswordHash: "x"}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u.ID
}

func TestCanConsumeUnknownUser(t *testing.T) {
	db := openTestDB(t)
	l := newTestLedger(t, db)

	d := l.CanConsume(context.Background(), 999)
	if d.Allowed {
		t.Fatalf("expected denial for unknown user")
	}
	if d.Reason != ReasonNotFound {
		t.Fatalf("expected reason %s, got %s", ReasonNotFound, d.Reason)
	}
}

func TestCanConsumeInactiveSubscription(t *testing.T) {
	db := openTestDB(t)
	l := newTestLedger(t, db)
	uid := seedUser(t, db, "a@example.com")

	sub := models.Subscription{UserID: uid, Tier: models.TierPro, Status: models.SubscriptionPastDue}
	if err := db.Create(&sub).Error; err != nil {
		t.Fatalf("seed sub: %v", err)
	}

	d := l.CanConsume(context.Background(), uid)
	if d.Allowed || d.Reason != ReasonInactiveSubscription {
		t.Fatalf("expected inactive-subscription denial, got %+v", d)
	}
}

func TestCanConsumeDefaultsToBasicTier(t *testing.T) {
	db := openTestDB(t)
	l := newTestLedger(t, db)
	uid := seedUser(t, db, "b@example.com")

	// no subscription row at all: basic limits apply
	for i := 0; i < 5; i++ {
		if _, err := l.RecordConsumption(context.Background(), uid); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	d := l.CanConsume(context.Background(), uid)
	if d.Allowed || d.Reason != ReasonDailyLimitExceeded {
		t.Fatalf("expected daily-limit denial at count 5/5, got %+v", d)
	}
}

func TestCanConsumeProTierUnderLimit(t *testing.T) {
	db := openTestDB(t)
	l := newTestLedger(t, db)
	uid := seedUser(t, db, "c@example.com")

	sub := models.Subscription{UserID: uid, Tier: models.TierPro, Status: models.SubscriptionActive}
	if err := db.Create(&sub).Error; err != nil {
		t.Fatalf("seed sub: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := l.RecordConsumption(context.Background(), uid); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	d := l.CanConsume(context.Background(), uid)
	if !d.Allowed {
		t.Fatalf("pro tier at count 10 should be allowed, got %+v", d)
	}
}

func TestRecordConsumptionReturnsNewCount(t *testing.T) {
	db := openTestDB(t)
	l := newTestLedger(t, db)
	uid := seedUser(t, db, "d@example.com")

	for want := 1; want <= 3; want++ {
		got, err := l.RecordConsumption(context.Background(), uid)
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if got != want {
			t.Fatalf("expected count %d, got %d", want, got)
		}
	}
}

func TestRecordConsumptionParallelNoLostUpdates(t *testing.T) {
	db := openTestDB(t)
	l := newTestLedger(t, db)
	uid := seedUser(t, db, "e@example.com")

	const m = 20
	var wg sync.WaitGroup
	wg.Add(m)
	errs := make(chan error, m)
	for i := 0; i < m; i++ {
		go func() {
			defer wg.Done()
			if _, err := l.RecordConsumption(context.Background(), uid); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("parallel record: %v", err)
	}

	var rec Record
	if err := db.Where("user_id = ?", uid).First(&rec).Error; err != nil {
		t.Fatalf("read record: %v", err)
	}
	if rec.Count != m {
		t.Fatalf("expected count %d after %d parallel increments, got %d", m, m, rec.Count)
	}
}
