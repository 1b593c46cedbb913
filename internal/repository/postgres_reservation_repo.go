package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/sailbook/internal/model"
)

// compile-time interface check
var _ ReservationRepository = (*PostgresReservationRepo)(nil)

// PostgreSQLのエラーコード
const (
	pgUniqueViolation      = "23505"
	pgExclusionViolation   = "23P01"
	pgSerializationFailure = "40001"
	pgInvalidTextRep       = "22P02"
)

const reservationColumns = `id, requester_id, start_date, end_date, status, note, created_at, updated_at, version`

// PostgresReservationRepo はPostgreSQLを使用した予約リポジトリ。
// 有効な予約同士の重複は reservations テーブルの排他制約で防ぐ。
type PostgresReservationRepo struct {
	db     *sql.DB
	tracer trace.Tracer
}

// NewPostgresReservationRepo はPostgresReservationRepoを生成する。
func NewPostgresReservationRepo(db *sql.DB) *PostgresReservationRepo {
	return &PostgresReservationRepo{
		db:     db,
		tracer: otel.Tracer("sailbook/repository"),
	}
}

// Insert は予約を登録する。
func (r *PostgresReservationRepo) Insert(ctx context.Context, res *model.Reservation) error {
	ctx, span := r.tracer.Start(ctx, "reservations.insert",
		trace.WithAttributes(
			attribute.String("reservation.id", res.ID),
			attribute.String("reservation.interval", res.Interval.String()),
		),
	)
	defer span.End()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO reservations (`+reservationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		res.ID, res.RequesterID,
		res.Interval.Start.Format(model.DateLayout), res.Interval.End.Format(model.DateLayout),
		string(res.Status), res.Note, res.CreatedAt, res.UpdatedAt, res.Version,
	)
	if err != nil {
		switch pqCode(err) {
		case pgExclusionViolation:
			span.SetAttributes(attribute.Bool("conflict.detected", true))
			return model.ErrOverlapConstraint
		case pgUniqueViolation:
			return model.ErrDuplicateID
		}
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("予約の登録に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの予約を取得する。
func (r *PostgresReservationRepo) FindByID(ctx context.Context, id string) (*model.Reservation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1`,
		id,
	)
	res, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) || pqCode(err) == pgInvalidTextRep {
		return nil, model.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("予約の取得に失敗しました: %w", err)
	}
	return res, nil
}

// ListActive は有効な予約を開始日の昇順で返す。
func (r *PostgresReservationRepo) ListActive(ctx context.Context, window *model.Interval) ([]model.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
		WHERE status IN ('pending', 'confirmed')`
	var args []any
	if window != nil {
		query += ` AND start_date < $2 AND end_date > $1`
		args = append(args, window.Start.Format(model.DateLayout), window.End.Format(model.DateLayout))
	}
	query += ` ORDER BY start_date ASC, end_date ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("有効な予約一覧の取得に失敗しました: %w", err)
	}
	return collectReservations(rows)
}

// ListByRequester は指定ユーザーの全予約を開始日の降順で返す。
func (r *PostgresReservationRepo) ListByRequester(ctx context.Context, requesterID string) ([]model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE requester_id = $1 ORDER BY start_date DESC, end_date DESC`,
		requesterID,
	)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの予約一覧の取得に失敗しました: %w", err)
	}
	return collectReservations(rows)
}

// UpdateStatus はバージョンが一致する場合のみ状態を変更する。
// SERIALIZABLE トランザクション内で行をロックしてから検証と更新を行う。
func (r *PostgresReservationRepo) UpdateStatus(ctx context.Context, id string, expectedVersion int, newStatus model.Status, at time.Time) (*model.Reservation, error) {
	ctx, span := r.tracer.Start(ctx, "reservations.update_status",
		trace.WithAttributes(
			attribute.String("reservation.id", id),
			attribute.Int("expected.version", expectedVersion),
			attribute.String("status.new", string(newStatus)),
		),
	)
	defer span.End()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	current, err := scanReservation(tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) || pqCode(err) == pgInvalidTextRep {
		return nil, model.ErrReservationNotFound
	}
	if err != nil {
		return nil, mapTxError(fmt.Errorf("予約のロックに失敗しました: %w", err))
	}

	if current.Version != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", current.Version),
			attribute.Bool("conflict.detected", true),
		)
		return nil, model.ErrVersionConflict
	}
	if !current.Status.CanTransitionTo(newStatus) {
		return nil, model.ErrInvalidTransition
	}

	updated, err := scanReservation(tx.QueryRowContext(ctx,
		`UPDATE reservations SET status = $2, version = version + 1, updated_at = $3
		 WHERE id = $1 RETURNING `+reservationColumns,
		id, string(newStatus), at,
	))
	if err != nil {
		return nil, mapTxError(fmt.Errorf("予約の状態更新に失敗しました: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return nil, mapTxError(fmt.Errorf("トランザクションのコミットに失敗しました: %w", err))
	}
	span.SetAttributes(attribute.Int("version.new", updated.Version))
	return updated, nil
}

// Ping はデータベースへの疎通を確認する。
func (r *PostgresReservationRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*model.Reservation, error) {
	var (
		res        model.Reservation
		start, end time.Time
		status     string
	)
	if err := row.Scan(&res.ID, &res.RequesterID, &start, &end, &status, &res.Note,
		&res.CreatedAt, &res.UpdatedAt, &res.Version); err != nil {
		return nil, err
	}
	res.Interval = model.Interval{Start: model.Day(start), End: model.Day(end)}
	res.Status = model.Status(status)
	res.CreatedAt = res.CreatedAt.UTC()
	res.UpdatedAt = res.UpdatedAt.UTC()
	return &res, nil
}

func collectReservations(rows *sql.Rows) ([]model.Reservation, error) {
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("予約行の読み取りに失敗しました: %w", err)
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("予約一覧の走査に失敗しました: %w", err)
	}
	return out, nil
}

// mapTxError は直列化失敗を再試行可能なバージョン競合に変換する。
func mapTxError(err error) error {
	if pqCode(err) == pgSerializationFailure {
		return model.ErrVersionConflict
	}
	return err
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
