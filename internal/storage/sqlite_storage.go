package storage

import (
	"errors"
	"fmt"
	"time"

	"lottery/internal/logger"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type SqliteStorage struct {
	db *gorm.DB
}

func NewSqliteStorage(path string) (*SqliteStorage, error) {

	logger.Debug("storage: initializing database...", zap.String("path", path))
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&LotteryState{},
		&Entrant{},
		&Draw{},
		&Balance{},
		&Subscription{},
		&SubscriptionConsumer{},
		&RandomnessRequest{},
	)
	if err != nil {
		return nil, err
	}

	logger.Debug("storage: initializing database... done")
	return &SqliteStorage{
		db: db,
	}, nil
}

func (s *SqliteStorage) Transaction(fn func(tx Storage) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&SqliteStorage{db: tx})
	})
}

func (s *SqliteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *SqliteStorage) GetLotteryState(name string) (*LotteryState, error) {

	var state LotteryState
	err := s.db.Where("name = ?", name).First(&state).Error
	if err != nil {
		return nil, notFound(err)
	}

	return &state, nil
}

func (s *SqliteStorage) EnsureLotteryState(initial *LotteryState) (*LotteryState, error) {
	logger.Debug("storage: ensuring lottery state...", zap.String("lottery", initial.Name))

	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(initial).Error
	if err != nil {
		return nil, err
	}

	return s.GetLotteryState(initial.Name)
}

func (s *SqliteStorage) UpdateLotteryState(state *LotteryState) error {

	err := s.db.Model(&LotteryState{}).Where("name = ?", state.Name).Select("*").Updates(state).Error
	if err != nil {
		return err
	}

	return nil
}

func (s *SqliteStorage) AppendEntrant(entrant *Entrant) error {
	return s.db.Create(entrant).Error
}

func (s *SqliteStorage) CountEntrants(lottery string) (int64, error) {

	var count int64
	err := s.db.Model(&Entrant{}).Where("lottery = ?", lottery).Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

func (s *SqliteStorage) GetEntrantAt(lottery string, index int64) (*Entrant, error) {

	var entrant Entrant
	err := s.db.Where("lottery = ?", lottery).Order("id asc").Offset(int(index)).Limit(1).Take(&entrant).Error
	if err != nil {
		return nil, notFound(err)
	}

	return &entrant, nil
}

func (s *SqliteStorage) GetEntrants(lottery string) ([]*Entrant, error) {

	var entrants []*Entrant
	err := s.db.Where("lottery = ?", lottery).Order("id asc").Find(&entrants).Error
	if err != nil {
		return nil, err
	}

	return entrants, nil
}

func (s *SqliteStorage) ClearEntrants(lottery string) error {
	logger.Debug("storage: clearing entrants...", zap.String("lottery", lottery))

	err := s.db.Where("lottery = ?", lottery).Delete(&Entrant{}).Error
	if err != nil {
		return err
	}

	logger.Debug("storage: clearing entrants... done")
	return nil
}

func (s *SqliteStorage) CreateDraw(draw *Draw) error {
	return s.db.Create(draw).Error
}

func (s *SqliteStorage) UpdateDraw(draw *Draw) error {
	return s.db.Model(&Draw{}).Where("id = ?", draw.ID).Select("*").Updates(draw).Error
}

func (s *SqliteStorage) GetDrawByRequestID(lottery string, requestID uint64) (*Draw, error) {

	var draw Draw
	err := s.db.Where("lottery = ? and request_id = ?", lottery, requestID).First(&draw).Error
	if err != nil {
		return nil, notFound(err)
	}

	return &draw, nil
}

func (s *SqliteStorage) GetDraws(lottery string, limit int) ([]*Draw, error) {

	var draws []*Draw
	query := s.db.Where("lottery = ?", lottery).Order("requested_at desc, request_id desc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&draws).Error
	if err != nil {
		return nil, err
	}

	return draws, nil
}

func (s *SqliteStorage) GetDrawsByStatus(lottery string, status DrawStatus) ([]*Draw, error) {

	var draws []*Draw
	err := s.db.Where("lottery = ? and status = ?", lottery, status).Order("request_id asc").Find(&draws).Error
	if err != nil {
		return nil, err
	}

	return draws, nil
}

func (s *SqliteStorage) Credit(address string, amount uint64) error {
	logger.Debug("storage: crediting balance...", zap.String("address", address), zap.Uint64("amount", amount))

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.Assignments(map[string]any{"amount": gorm.Expr("balances.amount + ?", amount)}),
	}).Create(&Balance{Address: address, Amount: amount}).Error
	if err != nil {
		return err
	}

	logger.Debug("storage: crediting balance... done")
	return nil
}

func (s *SqliteStorage) GetBalance(address string) (uint64, error) {

	var amount uint64
	err := s.db.Raw(`
		select coalesce(max(amount), 0) as amount
		from balances
		where address = ?
	`, address).Scan(&amount).Error
	if err != nil {
		return 0, err
	}

	return amount, nil
}

func (s *SqliteStorage) CreateSubscription(subscription *Subscription) error {
	return s.db.Create(subscription).Error
}

func (s *SqliteStorage) GetSubscription(id uint64) (*Subscription, error) {

	var subscription Subscription
	err := s.db.Where("id = ?", id).First(&subscription).Error
	if err != nil {
		return nil, notFound(err)
	}

	return &subscription, nil
}

func (s *SqliteStorage) UpdateSubscription(subscription *Subscription) error {
	return s.db.Model(&Subscription{}).Where("id = ?", subscription.ID).Update("balance", subscription.Balance).Error
}

func (s *SqliteStorage) AddSubscriptionConsumer(subscriptionID uint64, consumer string) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&SubscriptionConsumer{
		SubscriptionID: subscriptionID,
		Consumer:       consumer,
	}).Error
}

func (s *SqliteStorage) RemoveSubscriptionConsumer(subscriptionID uint64, consumer string) error {
	return s.db.Where("subscription_id = ? and consumer = ?", subscriptionID, consumer).Delete(&SubscriptionConsumer{}).Error
}

func (s *SqliteStorage) IsSubscriptionConsumer(subscriptionID uint64, consumer string) (bool, error) {

	var count int64
	err := s.db.Model(&SubscriptionConsumer{}).
		Where("subscription_id = ? and consumer = ?", subscriptionID, consumer).
		Count(&count).Error
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

func (s *SqliteStorage) GetConsumerSubscriptions(consumer string) ([]uint64, error) {

	var ids []uint64
	err := s.db.Model(&SubscriptionConsumer{}).
		Where("consumer = ?", consumer).
		Order("subscription_id asc").
		Pluck("subscription_id", &ids).Error
	if err != nil {
		return nil, err
	}

	return ids, nil
}

func (s *SqliteStorage) CreateRandomnessRequest(request *RandomnessRequest) error {
	return s.db.Create(request).Error
}

func (s *SqliteStorage) GetRandomnessRequest(requestID uint64) (*RandomnessRequest, error) {

	var request RandomnessRequest
	err := s.db.Where("request_id = ?", requestID).First(&request).Error
	if err != nil {
		return nil, notFound(err)
	}

	return &request, nil
}

func (s *SqliteStorage) GetPendingRandomnessRequests(consumer string) ([]*RandomnessRequest, error) {

	var requests []*RandomnessRequest
	query := s.db.Where("fulfilled = ?", false).Order("request_id asc")
	if consumer != "" {
		query = query.Where("consumer = ?", consumer)
	}

	err := query.Find(&requests).Error
	if err != nil {
		return nil, err
	}

	return requests, nil
}

func (s *SqliteStorage) MarkRandomnessRequestFulfilled(requestID uint64, at time.Time) error {
	return s.db.Model(&RandomnessRequest{}).
		Where("request_id = ?", requestID).
		Updates(map[string]any{"fulfilled": true, "fulfilled_at": at}).Error
}
