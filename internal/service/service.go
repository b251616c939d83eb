// Package service реализует бизнес-логику движка совместных закупок.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/groupbuy-engine/internal/lifecycle"
	"github.com/mmeshcher/groupbuy-engine/internal/metrics"
	"github.com/mmeshcher/groupbuy-engine/internal/model"
	"github.com/mmeshcher/groupbuy-engine/internal/notify"
	"github.com/mmeshcher/groupbuy-engine/internal/penalty"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
// Методы, вызванные внутри RunInTx, выполняются в одной транзакции.
type Repository interface {
	Close() error
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateGroupBuy(ctx context.Context, gb *model.GroupBuy) error
	GetGroupBuy(ctx context.Context, id uuid.UUID) (*model.GroupBuy, error)
	LockGroupBuy(ctx context.Context, id uuid.UUID) (*model.GroupBuy, error)
	UpdateGroupBuy(ctx context.Context, gb *model.GroupBuy) error
	ListOpenGroupBuys(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)

	UpsertBid(ctx context.Context, bid *model.Bid) (bool, error)
	GetBid(ctx context.Context, id uuid.UUID) (*model.Bid, error)
	ListBids(ctx context.Context, groupBuyID uuid.UUID) ([]model.Bid, error)
	DeleteBid(ctx context.Context, id uuid.UUID) error
	MarkBidsSelected(ctx context.Context, groupBuyID, winnerID uuid.UUID) error

	AddParticipant(ctx context.Context, p *model.Participant) (bool, error)
	ListParticipants(ctx context.Context, groupBuyID uuid.UUID) ([]model.Participant, error)
	DecideParticipant(ctx context.Context, groupBuyID uuid.UUID, userID int64, d model.Decision, at time.Time) error

	CreateSellerDecision(ctx context.Context, sd *model.SellerDecision) error
	GetSellerDecision(ctx context.Context, groupBuyID uuid.UUID) (*model.SellerDecision, error)
	DecideSeller(ctx context.Context, groupBuyID uuid.UUID, d model.Decision, at time.Time) error

	CreatePenalty(ctx context.Context, p *model.PenaltyRecord) error
	ListPenaltiesBySeller(ctx context.Context, sellerID int64) ([]model.PenaltyRecord, error)

	UpsertProfile(ctx context.Context, p model.Profile) error
	GetProfiles(ctx context.Context, ids []int64) (map[int64]model.Profile, error)
}

// Notifier получает события о переходах и решениях. Доставка не гарантируется.
type Notifier interface {
	Notify(ctx context.Context, e notify.Event) error
}

const (
	defaultDecisionWindow = 12 * time.Hour
	defaultSweepInterval  = time.Minute
	sweepBatchSize        = 100
	sweepItemTimeout      = 10 * time.Second
	// maxAdvanceSteps ограничивает число переходов за одну попытку продвижения.
	maxAdvanceSteps = 8
)

// Service содержит бизнес-логику движка совместных закупок.
type Service struct {
	repo          Repository
	notifier      Notifier
	logger        *zap.Logger
	metrics       *metrics.Metrics
	machine       lifecycle.Machine
	penalties     *penalty.Engine
	sweepInterval time.Duration
	now           func() time.Time
}

// Option настраивает сервис.
type Option func(*Service)

// WithDecisionWindows задаёт длительность окон решений покупателей и продавца.
func WithDecisionWindows(buyer, seller time.Duration) Option {
	return func(s *Service) {
		s.machine = lifecycle.New(buyer, seller)
	}
}

// WithPenaltyPoints задаёт число баллов штрафа за отказ продавца.
func WithPenaltyPoints(points int) Option {
	return func(s *Service) {
		s.penalties = penalty.New(points)
	}
}

// WithSweepInterval задаёт период фоновой проверки сроков.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) {
		s.sweepInterval = d
	}
}

// WithMetrics подключает сборщики Prometheus.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService создаёт новый сервис с указанным репозиторием и диспетчером уведомлений.
func NewService(repo Repository, notifier Notifier, logger *zap.Logger, opts ...Option) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		repo:          repo,
		notifier:      notifier,
		logger:        logger,
		machine:       lifecycle.New(defaultDecisionWindow, defaultDecisionWindow),
		penalties:     penalty.New(1),
		sweepInterval: defaultSweepInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// publish отправляет события после фиксации транзакции; ошибки доставки только логируются.
func (s *Service) publish(ctx context.Context, events []notify.Event) {
	for _, e := range events {
		if err := s.notifier.Notify(ctx, e); err != nil {
			s.logger.Warn("notification failed",
				zap.Error(err),
				zap.String("event", string(e.Type)),
				zap.String("groupBuyID", e.GroupBuyID.String()),
			)
		}
	}
}
