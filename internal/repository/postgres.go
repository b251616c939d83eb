// Package repository содержит реализации доступа к данным: PostgreSQL и в памяти.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/groupbuy-engine/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// pgxPool - часть *pgxpool.Pool, которой пользуется репозиторий.
type pgxPool interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool pgxPool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresRepository{pool: pool}, nil
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

var retryDelays = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, time.Second}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(retryDelays) {
			break
		}

		t := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

// isRetryable сообщает, можно ли повторить транзакцию целиком.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// mapError переводит ошибки нарушения ограничений в доменные.
func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.ForeignKeyViolation:
			return fmt.Errorf("%s: %w", op, model.ErrNotFound)
		case pgerrcode.CheckViolation:
			return fmt.Errorf("%s: %w: %s", op, model.ErrValidation, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const groupBuyColumns = `id, title, status, bid_kind, min_participants, recruitment_ends_at,
	buyer_decision_deadline, seller_decision_deadline, participant_count, confirmed_count,
	selected_bid_id, cancel_reason, version, created_at, updated_at`

func scanGroupBuy(row pgx.Row) (*model.GroupBuy, error) {
	var (
		gb                   model.GroupBuy
		status, kind, reason string
		buyerDeadline        *time.Time
		sellerDeadline       *time.Time
		selectedBidID        *uuid.UUID
	)

	err := row.Scan(&gb.ID, &gb.Title, &status, &kind, &gb.MinParticipants, &gb.RecruitmentEndsAt,
		&buyerDeadline, &sellerDeadline, &gb.ParticipantCount, &gb.ConfirmedCount,
		&selectedBidID, &reason, &gb.Version, &gb.CreatedAt, &gb.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}

	gb.Status = model.GroupBuyStatus(status)
	gb.BidKind = model.BidKind(kind)
	gb.CancelReason = model.CancelReason(reason)
	gb.BuyerDecisionDeadline = buyerDeadline
	gb.SellerDecisionDeadline = sellerDeadline
	gb.SelectedBidID = selectedBidID

	return &gb, nil
}

// CreateGroupBuy сохраняет новую закупку.
func (r *PostgresRepository) CreateGroupBuy(ctx context.Context, gb *model.GroupBuy) error {
	q := querierFromCtx(ctx, r.pool)

	err := q.QueryRow(ctx,
		`INSERT INTO group_buys (id, title, status, bid_kind, min_participants, recruitment_ends_at,
			participant_count, confirmed_count, cancel_reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		 RETURNING version`,
		gb.ID, gb.Title, string(gb.Status), string(gb.BidKind), gb.MinParticipants, gb.RecruitmentEndsAt,
		gb.ParticipantCount, gb.ConfirmedCount, string(gb.CancelReason), gb.CreatedAt,
	).Scan(&gb.Version)
	if err != nil {
		return mapError("insert group buy", err)
	}
	return nil
}

// GetGroupBuy возвращает закупку без блокировки.
func (r *PostgresRepository) GetGroupBuy(ctx context.Context, id uuid.UUID) (*model.GroupBuy, error) {
	q := querierFromCtx(ctx, r.pool)

	gb, err := scanGroupBuy(q.QueryRow(ctx,
		`SELECT `+groupBuyColumns+` FROM group_buys WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get group buy: %w", err)
	}
	return gb, nil
}

// LockGroupBuy возвращает закупку, блокируя её строку до конца транзакции.
func (r *PostgresRepository) LockGroupBuy(ctx context.Context, id uuid.UUID) (*model.GroupBuy, error) {
	q := querierFromCtx(ctx, r.pool)

	gb, err := scanGroupBuy(q.QueryRow(ctx,
		`SELECT `+groupBuyColumns+` FROM group_buys WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("lock group buy: %w", err)
	}
	return gb, nil
}

// UpdateGroupBuy сохраняет изменяемые поля закупки, если версия не изменилась.
// При успехе версия и время обновления в gb увеличиваются.
func (r *PostgresRepository) UpdateGroupBuy(ctx context.Context, gb *model.GroupBuy) error {
	q := querierFromCtx(ctx, r.pool)

	err := q.QueryRow(ctx,
		`UPDATE group_buys
		 SET status = $3, buyer_decision_deadline = $4, seller_decision_deadline = $5,
			 participant_count = $6, confirmed_count = $7, selected_bid_id = $8,
			 cancel_reason = $9, version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $2
		 RETURNING version, updated_at`,
		gb.ID, gb.Version, string(gb.Status), gb.BuyerDecisionDeadline, gb.SellerDecisionDeadline,
		gb.ParticipantCount, gb.ConfirmedCount, gb.SelectedBidID, string(gb.CancelReason),
	).Scan(&gb.Version, &gb.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrVersionConflict
		}
		return mapError("update group buy", err)
	}
	return nil
}

// ListOpenGroupBuys возвращает идентификаторы незавершённых закупок после after в порядке возрастания.
func (r *PostgresRepository) ListOpenGroupBuys(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	q := querierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx,
		`SELECT id FROM group_buys
		 WHERE status NOT IN ('completed', 'cancelled') AND id > $1
		 ORDER BY id
		 LIMIT $2`,
		after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select open group buys: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("collect open group buys: %w", err)
	}
	return ids, nil
}

const bidColumns = `id, group_buy_id, seller_id, kind, amount::text, message, status, version, submitted_at, updated_at`

func scanBid(row pgx.Row) (*model.Bid, error) {
	var (
		b                    model.Bid
		kind, status, amount string
	)

	err := row.Scan(&b.ID, &b.GroupBuyID, &b.SellerID, &kind, &amount, &b.Message, &status,
		&b.Version, &b.SubmittedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}

	b.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	b.Kind = model.BidKind(kind)
	b.Status = model.BidStatus(status)

	return &b, nil
}

// UpsertBid вставляет ставку или перезаписывает действующую ставку того же продавца.
// Возвращает true, если ставка создана. В bid записываются итоговые id и версия.
func (r *PostgresRepository) UpsertBid(ctx context.Context, bid *model.Bid) (bool, error) {
	q := querierFromCtx(ctx, r.pool)

	var created bool
	err := q.QueryRow(ctx,
		`INSERT INTO bids (id, group_buy_id, seller_id, kind, amount, message, status, submitted_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $8)
		 ON CONFLICT (group_buy_id, seller_id) DO UPDATE
		 SET kind = EXCLUDED.kind, amount = EXCLUDED.amount, message = EXCLUDED.message,
			 submitted_at = EXCLUDED.submitted_at, updated_at = EXCLUDED.updated_at,
			 version = bids.version + 1
		 WHERE bids.status = 'pending'
		 RETURNING id, version, (xmax = 0)`,
		bid.ID, bid.GroupBuyID, bid.SellerID, string(bid.Kind), bid.Amount.String(), bid.Message,
		string(bid.Status), bid.SubmittedAt,
	).Scan(&bid.ID, &bid.Version, &created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, model.ErrClosedForBidding
		}
		return false, mapError("upsert bid", err)
	}

	return created, nil
}

// GetBid возвращает ставку по идентификатору.
func (r *PostgresRepository) GetBid(ctx context.Context, id uuid.UUID) (*model.Bid, error) {
	q := querierFromCtx(ctx, r.pool)

	b, err := scanBid(q.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get bid: %w", err)
	}
	return b, nil
}

// ListBids возвращает все ставки закупки в порядке подачи.
func (r *PostgresRepository) ListBids(ctx context.Context, groupBuyID uuid.UUID) ([]model.Bid, error) {
	q := querierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE group_buy_id = $1 ORDER BY submitted_at, id`,
		groupBuyID,
	)
	if err != nil {
		return nil, fmt.Errorf("select bids: %w", err)
	}
	defer rows.Close()

	var bids []model.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		bids = append(bids, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return bids, nil
}

// DeleteBid удаляет ставку, пока она не выбрана и не отклонена.
func (r *PostgresRepository) DeleteBid(ctx context.Context, id uuid.UUID) error {
	q := querierFromCtx(ctx, r.pool)

	tag, err := q.Exec(ctx, `DELETE FROM bids WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("delete bid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotCancelable
	}
	return nil
}

// MarkBidsSelected отмечает победившую ставку выбранной, а остальные действующие отклонёнными.
func (r *PostgresRepository) MarkBidsSelected(ctx context.Context, groupBuyID, winnerID uuid.UUID) error {
	q := querierFromCtx(ctx, r.pool)

	_, err := q.Exec(ctx,
		`UPDATE bids
		 SET status = CASE WHEN id = $2 THEN 'selected' ELSE 'rejected' END,
			 version = version + 1, updated_at = now()
		 WHERE group_buy_id = $1 AND status = 'pending'`,
		groupBuyID, winnerID,
	)
	if err != nil {
		return fmt.Errorf("mark bids selected: %w", err)
	}
	return nil
}

// AddParticipant добавляет участника и сообщает, состоял ли он в закупке раньше.
func (r *PostgresRepository) AddParticipant(ctx context.Context, p *model.Participant) (bool, error) {
	q := querierFromCtx(ctx, r.pool)

	tag, err := q.Exec(ctx,
		`INSERT INTO participants (group_buy_id, user_id, decision, joined_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (group_buy_id, user_id) DO NOTHING`,
		p.GroupBuyID, p.UserID, string(p.Decision), p.JoinedAt,
	)
	if err != nil {
		return false, mapError("insert participant", err)
	}

	return tag.RowsAffected() == 0, nil
}

// ListParticipants возвращает участников закупки в порядке вступления.
func (r *PostgresRepository) ListParticipants(ctx context.Context, groupBuyID uuid.UUID) ([]model.Participant, error) {
	q := querierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx,
		`SELECT group_buy_id, user_id, decision, decided_at, joined_at
		 FROM participants
		 WHERE group_buy_id = $1
		 ORDER BY joined_at, user_id`,
		groupBuyID,
	)
	if err != nil {
		return nil, fmt.Errorf("select participants: %w", err)
	}
	defer rows.Close()

	var res []model.Participant
	for rows.Next() {
		var (
			p        model.Participant
			decision string
		)
		if err := rows.Scan(&p.GroupBuyID, &p.UserID, &decision, &p.DecidedAt, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.Decision = model.Decision(decision)
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// DecideParticipant записывает решение покупателя, только если оно ещё не принято.
func (r *PostgresRepository) DecideParticipant(ctx context.Context, groupBuyID uuid.UUID, userID int64, d model.Decision, at time.Time) error {
	q := querierFromCtx(ctx, r.pool)

	tag, err := q.Exec(ctx,
		`UPDATE participants SET decision = $3, decided_at = $4
		 WHERE group_buy_id = $1 AND user_id = $2 AND decision = 'pending'`,
		groupBuyID, userID, string(d), at,
	)
	if err != nil {
		return fmt.Errorf("update participant decision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrAlreadyDecided
	}
	return nil
}

// CreateSellerDecision открывает окно решения продавца. Повторное создание ничего не меняет.
func (r *PostgresRepository) CreateSellerDecision(ctx context.Context, sd *model.SellerDecision) error {
	q := querierFromCtx(ctx, r.pool)

	_, err := q.Exec(ctx,
		`INSERT INTO seller_decisions (group_buy_id, seller_id, decision, deadline)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (group_buy_id) DO NOTHING`,
		sd.GroupBuyID, sd.SellerID, string(sd.Decision), sd.Deadline,
	)
	if err != nil {
		return mapError("insert seller decision", err)
	}
	return nil
}

// GetSellerDecision возвращает решение выбранного продавца.
func (r *PostgresRepository) GetSellerDecision(ctx context.Context, groupBuyID uuid.UUID) (*model.SellerDecision, error) {
	q := querierFromCtx(ctx, r.pool)

	var (
		sd       model.SellerDecision
		decision string
	)
	err := q.QueryRow(ctx,
		`SELECT group_buy_id, seller_id, decision, decided_at, deadline
		 FROM seller_decisions WHERE group_buy_id = $1`,
		groupBuyID,
	).Scan(&sd.GroupBuyID, &sd.SellerID, &decision, &sd.DecidedAt, &sd.Deadline)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get seller decision: %w", err)
	}

	sd.Decision = model.Decision(decision)
	return &sd, nil
}

// DecideSeller записывает решение продавца, только если оно ещё не принято.
func (r *PostgresRepository) DecideSeller(ctx context.Context, groupBuyID uuid.UUID, d model.Decision, at time.Time) error {
	q := querierFromCtx(ctx, r.pool)

	tag, err := q.Exec(ctx,
		`UPDATE seller_decisions SET decision = $2, decided_at = $3
		 WHERE group_buy_id = $1 AND decision = 'pending'`,
		groupBuyID, string(d), at,
	)
	if err != nil {
		return fmt.Errorf("update seller decision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrAlreadyDecided
	}
	return nil
}

// CreatePenalty сохраняет штраф. На одну закупку приходится не больше одного штрафа.
func (r *PostgresRepository) CreatePenalty(ctx context.Context, p *model.PenaltyRecord) error {
	q := querierFromCtx(ctx, r.pool)

	_, err := q.Exec(ctx,
		`INSERT INTO penalties (id, seller_id, group_buy_id, points, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (group_buy_id) DO NOTHING`,
		p.ID, p.SellerID, p.GroupBuyID, p.Points, string(p.Reason), p.CreatedAt,
	)
	if err != nil {
		return mapError("insert penalty", err)
	}
	return nil
}

// ListPenaltiesBySeller возвращает штрафы продавца, новые первыми.
func (r *PostgresRepository) ListPenaltiesBySeller(ctx context.Context, sellerID int64) ([]model.PenaltyRecord, error) {
	q := querierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx,
		`SELECT id, seller_id, group_buy_id, points, reason, created_at
		 FROM penalties
		 WHERE seller_id = $1
		 ORDER BY created_at DESC`,
		sellerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select penalties: %w", err)
	}
	defer rows.Close()

	var res []model.PenaltyRecord
	for rows.Next() {
		var (
			p      model.PenaltyRecord
			reason string
		)
		if err := rows.Scan(&p.ID, &p.SellerID, &p.GroupBuyID, &p.Points, &reason, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan penalty: %w", err)
		}
		p.Reason = model.PenaltyReason(reason)
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpsertProfile сохраняет контактные данные пользователя.
func (r *PostgresRepository) UpsertProfile(ctx context.Context, p model.Profile) error {
	q := querierFromCtx(ctx, r.pool)

	_, err := q.Exec(ctx,
		`INSERT INTO profiles (user_id, name, phone, address, business_name, business_number)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id) DO UPDATE
		 SET name = EXCLUDED.name, phone = EXCLUDED.phone, address = EXCLUDED.address,
			 business_name = EXCLUDED.business_name, business_number = EXCLUDED.business_number`,
		p.UserID, p.Name, p.Phone, p.Address, p.BusinessName, p.BusinessNumber,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// GetProfiles возвращает профили указанных пользователей. Отсутствующие профили пропускаются.
func (r *PostgresRepository) GetProfiles(ctx context.Context, ids []int64) (map[int64]model.Profile, error) {
	res := make(map[int64]model.Profile, len(ids))
	if len(ids) == 0 {
		return res, nil
	}

	q := querierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx,
		`SELECT user_id, name, phone, address, business_name, business_number
		 FROM profiles WHERE user_id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Profile
		if err := rows.Scan(&p.UserID, &p.Name, &p.Phone, &p.Address, &p.BusinessName, &p.BusinessNumber); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		res[p.UserID] = p
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
