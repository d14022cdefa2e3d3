package ledger

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/learnkins/learnkins/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Transaction{},
		&models.DailyClaim{},
		&models.ShopItem{},
		&models.Purchase{},
		&models.QuizResult{},
		&models.ActivityDay{},
	))
	return db
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewService(db, 5), db
}

func createUser(t *testing.T, db *gorm.DB, username string, balance int) uint {
	t.Helper()
	user := models.User{Username: username, Balance: balance}
	require.NoError(t, db.Create(&user).Error)
	return user.ID
}

func createItem(t *testing.T, db *gorm.DB, item models.ShopItem) uint {
	t.Helper()
	require.NoError(t, db.Create(&item).Error)
	return item.ID
}

func txCount(t *testing.T, db *gorm.DB, userID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Transaction{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

func TestAwardRejectsNonPositiveAmount(t *testing.T) {
	svc, db := newTestService(t)
	userID := createUser(t, db, "mina", 0)

	for _, amount := range []int{0, -1, -25} {
		_, _, err := svc.Award(userID, amount, "quiz", nil)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}
	assert.EqualValues(t, 0, txCount(t, db, userID))
}

func TestAwardUnknownUser(t *testing.T) {
	svc, _ := newTestService(t)
	_, _, err := svc.Award(9999, 10, "quiz", nil)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAwardThenRedeemRoundTrip(t *testing.T) {
	svc, db := newTestService(t)
	userID := createUser(t, db, "mina", 40)

	balance, awardTx, err := svc.Award(userID, 15, "quiz_completion", Meta{"quiz_id": "q-7"})
	require.NoError(t, err)
	assert.Equal(t, 55, balance)
	assert.Equal(t, 15, awardTx.Amount)
	assert.Equal(t, models.TxTypeAward, awardTx.Type)
	assert.NotEmpty(t, awardTx.Reference)

	balance, redeemTx, err := svc.Redeem(userID, 15, "avatar frame", nil)
	require.NoError(t, err)
	assert.Equal(t, 40, balance)
	assert.Equal(t, -15, redeemTx.Amount)
	assert.Equal(t, models.TxTypeRedeem, redeemTx.Type)

	// Exactly two entries whose amounts sum to zero.
	assert.EqualValues(t, 2, txCount(t, db, userID))
	assert.Zero(t, awardTx.Amount+redeemTx.Amount)
}

func TestRedeemInsufficientBalanceLeavesNoTrace(t *testing.T) {
	svc, db := newTestService(t)
	userID := createUser(t, db, "mina", 10)

	_, _, err := svc.Redeem(userID, 11, "too much", nil)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	balance, err := svc.Balance(userID)
	require.NoError(t, err)
	assert.Equal(t, 10, balance)
	assert.EqualValues(t, 0, txCount(t, db, userID))
}

func TestRedeemSanitizesReason(t *testing.T) {
	svc, db := newTestService(t)
	userID := createUser(t, db, "mina", 50)

	_, record, err := svc.Redeem(userID, 5, `<script>alert(1)</script>sticker pack`, nil)
	require.NoError(t, err)
	assert.Equal(t, "sticker pack", record.Reason)
	_ = db
}

func TestClaimDailyTwoDayScenario(t *testing.T) {
	svc, db := newTestService(t)
	userID := createUser(t, db, "mina", 0)

	day1 := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return day1 }

	res, err := svc.ClaimDaily(userID)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Balance)
	assert.Equal(t, 5, res.TokensEarned)
	assert.Equal(t, 1, res.Streak)

	// Second claim later the same calendar day must fail with no state change.
	svc.now = func() time.Time { return day1.Add(10 * time.Hour) }
	_, err = svc.ClaimDaily(userID)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	balance, err := svc.Balance(userID)
	require.NoError(t, err)
	assert.Equal(t, 5, balance)

	// Next calendar day: streak increments.
	svc.now = func() time.Time { return day1.AddDate(0, 0, 1) }
	res, err = svc.ClaimDaily(userID)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Balance)
	assert.Equal(t, 2, res.Streak)

	var user models.User
	require.NoError(t, db.First(&user, userID).Error)
	assert.Equal(t, 2, user.StreakCurrent)
	assert.Equal(t, 2, user.StreakLongest)
	assert.Equal(t, "2025-03-11", user.LastClaimDate)
}

func TestClaimDailyStreakResetsAfterGap(t *testing.T) {
	svc, db := newTestService(t)
	userID := createUser(t, db, "mina", 0)

	day := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return day }
	_, err := svc.ClaimDaily(userID)
	require.NoError(t, err)

	svc.now = func() time.Time { return day.AddDate(0, 0, 1) }
	res, err := svc.ClaimDaily(userID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Streak)

	// Skip two days: streak resets but the longest streak is retained.
	svc.now = func() time.Time { return day.AddDate(0, 0, 4) }
	res, err = svc.ClaimDaily(userID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Streak)

	var user models.User
	require.NoError(t, db.First(&user, userID).Error)
	assert.Equal(t, 1, user.StreakCurrent)
	assert.Equal(t, 2, user.StreakLongest)
}

func TestClaimDailyCrossesMidnightNotHours(t *testing.T) {
	svc, db := newTestService(t)
	userID := createUser(t, db, "mina", 0)

	// 23:30 claim followed by a 00:30 claim is two calendar days even though
	// only an hour elapsed.
	svc.now = func() time.Time { return time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC) }
	_, err := svc.ClaimDaily(userID)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Date(2025, 3, 11, 0, 30, 0, 0, time.UTC) }
	res, err := svc.ClaimDaily(userID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Streak)
	_ = db
}

func TestPurchaseInsufficientDiamonds(t *testing.T) {
	svc, db := newTestService(t)
	userID := createUser(t, db, "mina", 20)
	itemID := createItem(t, db, models.ShopItem{Name: "Galaxy Theme", Price: 30, Stock: 5, ItemType: models.ItemTypePermanent, Active: true})

	_, err := svc.Purchase(userID, itemID)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// Balance, stock, and record counts all unchanged.
	balance, err := svc.Balance(userID)
	require.NoError(t, err)
	assert.Equal(t, 20, balance)

	var item models.ShopItem
	require.NoError(t, db.First(&item, itemID).Error)
	assert.Equal(t, 5, item.Stock)

	var purchases int64
	require.NoError(t, db.Model(&models.Purchase{}).Count(&purchases).Error)
	assert.EqualValues(t, 0, purchases)
	assert.EqualValues(t, 0, txCount(t, db, userID))
}

func TestPurchaseLastUnitCannotSellTwice(t *testing.T) {
	svc, db := newTestService(t)
	alice := createUser(t, db, "alice", 100)
	bob := createUser(t, db, "bob", 100)
	itemID := createItem(t, db, models.ShopItem{Name: "Golden Pencil", Price: 10, Stock: 1, ItemType: models.ItemTypeConsumable, Active: true})

	res, err := svc.Purchase(alice, itemID)
	require.NoError(t, err)
	assert.Equal(t, 90, res.Balance)
	assert.Equal(t, 10, res.Purchase.TokensSpent)
	assert.Equal(t, res.Transaction.ID, res.Purchase.TransactionID)

	_, err = svc.Purchase(bob, itemID)
	assert.ErrorIs(t, err, ErrOutOfStock)

	var item models.ShopItem
	require.NoError(t, db.First(&item, itemID).Error)
	assert.Equal(t, 0, item.Stock)

	var purchases int64
	require.NoError(t, db.Model(&models.Purchase{}).Count(&purchases).Error)
	assert.EqualValues(t, 1, purchases)

	balance, err := svc.Balance(bob)
	require.NoError(t, err)
	assert.Equal(t, 100, balance)
}

func TestPurchasePermanentItemOnlyOnce(t *testing.T) {
	svc, db := newTestService(t)
	userID := createUser(t, db, "mina", 100)
	itemID := createItem(t, db, models.ShopItem{Name: "Space Avatar", Price: 25, Stock: models.UnlimitedStock, ItemType: models.ItemTypePermanent, Active: true})

	_, err := svc.Purchase(userID, itemID)
	require.NoError(t, err)

	_, err = svc.Purchase(userID, itemID)
	assert.ErrorIs(t, err, ErrAlreadyOwned)

	balance, err := svc.Balance(userID)
	require.NoError(t, err)
	assert.Equal(t, 75, balance)
}

func TestPurchaseConsumableRepeatable(t *testing.T) {
	svc, db := newTestService(t)
	userID := createUser(t, db, "mina", 100)
	itemID := createItem(t, db, models.ShopItem{Name: "Hint Pack", Price: 10, Stock: models.UnlimitedStock, ItemType: models.ItemTypeConsumable, Active: true})

	for i := 0; i < 3; i++ {
		_, err := svc.Purchase(userID, itemID)
		require.NoError(t, err)
	}

	balance, err := svc.Balance(userID)
	require.NoError(t, err)
	assert.Equal(t, 70, balance)
}

func TestPurchaseInactiveOrMissingItem(t *testing.T) {
	svc, db := newTestService(t)
	userID := createUser(t, db, "mina", 100)
	itemID := createItem(t, db, models.ShopItem{Name: "Retired Badge", Price: 10, Stock: 5, Active: false})

	_, err := svc.Purchase(userID, itemID)
	assert.ErrorIs(t, err, ErrItemNotFound)

	_, err = svc.Purchase(userID, 4242)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestBalanceMatchesTransactionLogSum(t *testing.T) {
	svc, db := newTestService(t)
	userID := createUser(t, db, "mina", 0)
	itemID := createItem(t, db, models.ShopItem{Name: "Hint Pack", Price: 7, Stock: models.UnlimitedStock, ItemType: models.ItemTypeConsumable, Active: true})

	svc.now = func() time.Time { return time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC) }

	_, _, err := svc.Award(userID, 25, "quiz_completion", nil)
	require.NoError(t, err)
	_, err = svc.ClaimDaily(userID)
	require.NoError(t, err)
	_, err = svc.Purchase(userID, itemID)
	require.NoError(t, err)
	_, _, err = svc.Redeem(userID, 3, "sticker", nil)
	require.NoError(t, err)

	stored, derived, err := svc.Audit(userID)
	require.NoError(t, err)
	assert.Equal(t, stored, derived)
	assert.Equal(t, 25+5-7-3, stored)
}

func TestTransactionsNewestFirstCapped(t *testing.T) {
	svc, db := newTestService(t)
	userID := createUser(t, db, "mina", 0)

	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		tick := base.Add(time.Duration(i) * time.Minute)
		svc.now = func() time.Time { return tick }
		_, _, err := svc.Award(userID, i+1, "quiz", nil)
		require.NoError(t, err)
	}

	txs, err := svc.Transactions(userID, 3)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, 5, txs[0].Amount)
	assert.Equal(t, 4, txs[1].Amount)
	assert.Equal(t, 3, txs[2].Amount)

	txs, err = svc.Transactions(userID, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 5)
	_ = db
}

func TestActivityDayAggregates(t *testing.T) {
	svc, db := newTestService(t)
	userID := createUser(t, db, "mina", 50)

	svc.now = func() time.Time { return time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC) }
	_, _, err := svc.Award(userID, 10, "quiz", nil)
	require.NoError(t, err)
	_, _, err = svc.Redeem(userID, 4, "sticker", nil)
	require.NoError(t, err)

	var day models.ActivityDay
	require.NoError(t, db.Where("date = ?", "2025-03-10").First(&day).Error)
	assert.EqualValues(t, 2, day.TxCount)
	assert.EqualValues(t, 14, day.TokensMoved)
}
