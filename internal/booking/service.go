// Package booking は船舶予約のライフサイクル（作成・取消・確定）を管理する。
// 予約の書き込みはすべてこのパッケージの Service を経由し、
// 1隻の船に対して1つのロックで直列化される。
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/sailbook/internal/calendar"
	"github.com/hitoshi/sailbook/internal/clock"
	"github.com/hitoshi/sailbook/internal/model"
	"github.com/hitoshi/sailbook/internal/notify"
	"github.com/hitoshi/sailbook/internal/repository"
)

const (
	// DefaultMaxNights は1回の予約で指定できる最大日数。
	DefaultMaxNights = 28
	// MaxNoteRunes は予約メモの最大文字数。
	MaxNoteRunes = 500
	// maxTransitionAttempts はバージョン競合時の状態変更の最大試行回数。
	maxTransitionAttempts = 3
)

// 操作名（メトリクスのoperationラベル）
const (
	opCreate  = "create"
	opCancel  = "cancel"
	opConfirm = "confirm"
)

// EventPublisher は予約イベントの通知先。Publish はブロックしてはならない。
type EventPublisher interface {
	Publish(ev notify.Event)
}

// MetricsRecorder は予約操作のメトリクスを記録する。
type MetricsRecorder interface {
	RecordReservationRequest(operation, outcome string)
	ObserveLockWait(d time.Duration)
}

// NoteSanitizer は予約メモを保存用に正規化する。
type NoteSanitizer interface {
	SanitizeNote(raw string) string
}

// Config はServiceの依存と設定。nilのフィールドには無害なデフォルトが使われる。
type Config struct {
	Clock     clock.Clock
	Location  *time.Location // 「今日」を判定するタイムゾーン
	MaxNights int
	Publisher EventPublisher
	Metrics   MetricsRecorder
	Sanitizer NoteSanitizer
	Logger    *slog.Logger
}

// CreateInput は予約作成の入力。
type CreateInput struct {
	RequesterID string
	Start       time.Time
	End         time.Time
	Note        string
}

// Service は予約ライフサイクルのサービス層。
// mu は作成・状態変更の「読み取り→重複判定→書き込み」を直列化する唯一の箇所。
// 読み取り専用の操作はロックを取らない。
type Service struct {
	repo      repository.ReservationRepository
	clock     clock.Clock
	loc       *time.Location
	maxNights int
	publisher EventPublisher
	metrics   MetricsRecorder
	sanitizer NoteSanitizer
	logger    *slog.Logger
	tracer    trace.Tracer

	mu sync.Mutex
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.ReservationRepository, cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxNights == 0 {
		cfg.MaxNights = DefaultMaxNights
	}
	if cfg.Publisher == nil {
		cfg.Publisher = nopPublisher{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Sanitizer == nil {
		cfg.Sanitizer = passthroughSanitizer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		clock:     cfg.Clock,
		loc:       cfg.Location,
		maxNights: cfg.MaxNights,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		sanitizer: cfg.Sanitizer,
		logger:    cfg.Logger,
		tracer:    otel.Tracer("sailbook/booking"),
	}
}

// Create は新しい予約を confirmed 状態で登録する。
// 有効な予約と重なる場合は競合した予約IDを含む CONFLICT エラーを返す。
// ロック取得後は呼び出し元のキャンセルに関わらず最後まで処理する。
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "booking.create",
		trace.WithAttributes(attribute.String("requester.id", in.RequesterID)),
	)
	defer span.End()

	iv, note, err := s.validateCreate(in)
	if err != nil {
		s.finish(span, opCreate, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("reservation.interval", iv.String()))

	res, err := s.createLocked(context.WithoutCancel(ctx), in.RequesterID, iv, note)
	s.finish(span, opCreate, err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("reservation created",
		slog.String("reservation_id", res.ID),
		slog.String("requester_id", res.RequesterID),
		slog.String("interval", res.Interval.String()),
	)
	s.publisher.Publish(notify.NewEvent(notify.EventCreated, res))
	return res, nil
}

func (s *Service) validateCreate(in CreateInput) (model.Interval, string, error) {
	if in.RequesterID == "" {
		return model.Interval{}, "", model.NewUnauthorizedError()
	}
	iv, err := model.NewInterval(in.Start, in.End)
	if err != nil {
		return model.Interval{}, "", err
	}
	today := model.Day(s.clock.Now().In(s.loc))
	if iv.Start.Before(today) {
		return model.Interval{}, "", model.NewInvalidRangeError(
			fmt.Sprintf("開始日 %s は過去の日付です", iv.Start.Format(model.DateLayout)))
	}
	if s.maxNights > 0 && iv.Nights() > s.maxNights {
		return model.Interval{}, "", model.NewInvalidRangeError(
			fmt.Sprintf("予約期間は最大%d日です（指定: %d日）", s.maxNights, iv.Nights()))
	}

	note := s.sanitizer.SanitizeNote(in.Note)
	if utf8.RuneCountInString(note) > MaxNoteRunes {
		return model.Interval{}, "", model.NewInvalidNoteError(MaxNoteRunes)
	}
	return iv, note, nil
}

func (s *Service) createLocked(ctx context.Context, requesterID string, iv model.Interval, note string) (*model.Reservation, error) {
	s.lock()
	defer s.mu.Unlock()

	active, err := s.repo.ListActive(ctx, &iv)
	if err != nil {
		return nil, fmt.Errorf("有効な予約の取得に失敗しました: %w", err)
	}
	if existing, found := calendar.FindConflict(iv, active); found {
		return nil, model.NewConflictError(existing.ID)
	}

	now := s.now()
	res := &model.Reservation{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		Interval:    iv,
		Status:      model.StatusConfirmed,
		Note:        note,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}

	if err := s.repo.Insert(ctx, res); err != nil {
		if errors.Is(err, model.ErrOverlapConstraint) {
			// 別プロセスが同じDBに書き込んだ場合のみ到達する
			s.logger.Warn("overlap rejected by storage constraint",
				slog.String("interval", iv.String()),
			)
			return nil, model.NewConflictError(s.lookupConflictingID(ctx, iv))
		}
		return nil, fmt.Errorf("予約の登録に失敗しました: %w", err)
	}
	return res, nil
}

// lookupConflictingID は制約違反後に競合相手のIDを取得する。取得できなければ空文字を返す。
func (s *Service) lookupConflictingID(ctx context.Context, iv model.Interval) string {
	active, err := s.repo.ListActive(ctx, &iv)
	if err != nil {
		return ""
	}
	if existing, found := calendar.FindConflict(iv, active); found {
		return existing.ID
	}
	return ""
}

// Cancel は予約を取り消す。予約者本人のみ実行できる。
// 取り消された期間は直ちに他の予約に利用できる。
func (s *Service) Cancel(ctx context.Context, id, requesterID string) (*model.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "booking.cancel",
		trace.WithAttributes(
			attribute.String("reservation.id", id),
			attribute.String("requester.id", requesterID),
		),
	)
	defer span.End()

	res, err := s.transition(context.WithoutCancel(ctx), id, model.StatusCancelled, func(r *model.Reservation) error {
		if r.RequesterID != requesterID {
			return model.NewForbiddenError()
		}
		if r.Status == model.StatusCancelled {
			return model.NewAlreadyCancelledError(id)
		}
		return nil
	})
	s.finish(span, opCancel, err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("reservation cancelled",
		slog.String("reservation_id", res.ID),
		slog.String("requester_id", res.RequesterID),
		slog.Int("version", res.Version),
	)
	s.publisher.Publish(notify.NewEvent(notify.EventCancelled, res))
	return res, nil
}

// Confirm は pending の予約を confirmed にする。
// 現在の作成フローは直接 confirmed を作るため、承認フローを導入するまでAPIからは呼ばれない。
func (s *Service) Confirm(ctx context.Context, id string) (*model.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "booking.confirm",
		trace.WithAttributes(attribute.String("reservation.id", id)),
	)
	defer span.End()

	res, err := s.transition(context.WithoutCancel(ctx), id, model.StatusConfirmed, nil)
	s.finish(span, opConfirm, err)
	return res, err
}

// transition はロック内で予約の状態を変更する。
// バージョン競合の場合は最新の状態を読み直して再試行する。
func (s *Service) transition(ctx context.Context, id string, to model.Status, authorize func(*model.Reservation) error) (*model.Reservation, error) {
	s.lock()
	defer s.mu.Unlock()

	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		current, err := s.repo.FindByID(ctx, id)
		if errors.Is(err, model.ErrReservationNotFound) {
			return nil, model.NewReservationNotFoundError(id)
		}
		if err != nil {
			return nil, fmt.Errorf("予約の取得に失敗しました: %w", err)
		}

		if authorize != nil {
			if err := authorize(current); err != nil {
				return nil, err
			}
		}
		if !current.Status.CanTransitionTo(to) {
			return nil, model.NewInvalidTransitionError(current.Status, to)
		}

		updated, err := s.repo.UpdateStatus(ctx, id, current.Version, to, current.NextUpdatedAt(s.now()))
		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, model.ErrVersionConflict), errors.Is(err, model.ErrInvalidTransition):
			// 読み直した状態で再判定する
			s.logger.Debug("reservation changed concurrently, retrying",
				slog.String("reservation_id", id),
				slog.Int("attempt", attempt),
			)
			continue
		case errors.Is(err, model.ErrReservationNotFound):
			return nil, model.NewReservationNotFoundError(id)
		default:
			return nil, fmt.Errorf("予約の状態更新に失敗しました: %w", err)
		}
	}
	return nil, model.NewVersionConflictError(id)
}

// Get は予約を取得する。予約者本人以外は参照できない。
func (s *Service) Get(ctx context.Context, id, requesterID string) (*model.Reservation, error) {
	res, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, model.ErrReservationNotFound) {
		return nil, model.NewReservationNotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("予約の取得に失敗しました: %w", err)
	}
	if res.RequesterID != requesterID {
		return nil, model.NewForbiddenError()
	}
	return res, nil
}

// ListByRequester は予約者の全予約を開始日の降順で返す。
func (s *Service) ListByRequester(ctx context.Context, requesterID string) ([]model.Reservation, error) {
	if requesterID == "" {
		return nil, model.NewUnauthorizedError()
	}
	list, err := s.repo.ListByRequester(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("予約一覧の取得に失敗しました: %w", err)
	}
	return list, nil
}

// QueryCalendar は window 内の予約可能な期間を返す。ロックは取らない。
func (s *Service) QueryCalendar(ctx context.Context, window model.Interval) ([]model.Interval, error) {
	ctx, span := s.tracer.Start(ctx, "booking.query_calendar",
		trace.WithAttributes(attribute.String("window", window.String())),
	)
	defer span.End()

	active, err := s.repo.ListActive(ctx, &window)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("有効な予約の取得に失敗しました: %w", err)
	}
	return calendar.FreeSlots(window, active), nil
}

// Planning は指定年と重なる有効な予約を開始日の昇順で返す（年間予定表）。
func (s *Service) Planning(ctx context.Context, year int) ([]model.Reservation, error) {
	if year < 2000 || year > 2100 {
		return nil, model.NewInvalidYearError(fmt.Sprint(year))
	}
	window := model.YearInterval(year)
	active, err := s.repo.ListActive(ctx, &window)
	if err != nil {
		return nil, fmt.Errorf("年間予定の取得に失敗しました: %w", err)
	}
	return active, nil
}

// lock は予約ロックを取得し、待ち時間を記録する。
func (s *Service) lock() {
	start := time.Now()
	s.mu.Lock()
	s.metrics.ObserveLockWait(time.Since(start))
}

// now はPostgreSQLのtimestamptzと同じマイクロ秒精度の現在時刻を返す。
func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

// finish は操作結果をスパンとメトリクスに記録する。
func (s *Service) finish(span trace.Span, operation string, err error) {
	outcome := outcomeOf(operation, err)
	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil && outcome == "error" {
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("reservation operation failed",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
	}
	s.metrics.RecordReservationRequest(operation, outcome)
}

// outcomeOf はエラーをメトリクス用の結果ラベルに変換する。
func outcomeOf(operation string, err error) string {
	if err == nil {
		switch operation {
		case opCreate:
			return "created"
		case opCancel:
			return "cancelled"
		default:
			return "confirmed"
		}
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case model.ErrCodeConflict:
			return "conflict"
		case model.ErrCodeReservationNotFound:
			return "not_found"
		case model.ErrCodeForbidden, model.ErrCodeUnauthorized:
			return "forbidden"
		case model.ErrCodeAlreadyCancelled, model.ErrCodeInvalidTransition:
			return "invalid_transition"
		case model.ErrCodeVersionConflict:
			return "version_conflict"
		default:
			return "invalid"
		}
	}
	return "error"
}

type nopPublisher struct{}

func (nopPublisher) Publish(notify.Event) {}

type nopMetrics struct{}

func (nopMetrics) RecordReservationRequest(string, string) {}
func (nopMetrics) ObserveLockWait(time.Duration)           {}

type passthroughSanitizer struct{}

func (passthroughSanitizer) SanitizeNote(raw string) string { return raw }
