package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Daniel250817/CRM-CLINICO-sub000/internal/platform/db"
)

// =========== Dentist Directory ===========

type dentistRepoPG struct{ pool *pgxpool.Pool }

func NewDentistRepoPG(pool *pgxpool.Pool) DentistDirectory { return &dentistRepoPG{pool: pool} }

func (r *dentistRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *dentistRepoPG) GetDentist(ctx context.Context, id uuid.UUID) (*Dentist, error) {
	var d Dentist
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, name, active FROM dentist WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.Active)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, fmt.Errorf("dentist %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get dentist: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT weekday, opens_at, closes_at FROM dentist_working_hours
		WHERE dentist_id = $1 ORDER BY weekday, opens_at`, id)
	if err != nil {
		return nil, fmt.Errorf("get working hours: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var day, opens, closes int16
		if err := rows.Scan(&day, &opens, &closes); err != nil {
			return nil, fmt.Errorf("scan working hours: %w", err)
		}
		wd := Weekday(day)
		if !wd.Valid() {
			continue
		}
		d.Schedule[wd] = append(d.Schedule[wd], DayInterval{Opens: TimeOfDay(opens), Closes: TimeOfDay(closes)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read working hours: %w", err)
	}
	return &d, nil
}

// SetWorkingHours replaces the whole template. Callers run it inside a
// transaction so readers never see a half-written week.
func (r *dentistRepoPG) SetWorkingHours(ctx context.Context, id uuid.UUID, schedule WeekdaySchedule) error {
	q := r.conn(ctx)
	if _, err := q.Exec(ctx, `DELETE FROM dentist_working_hours WHERE dentist_id = $1`, id); err != nil {
		return fmt.Errorf("clear working hours: %w", err)
	}
	for day, intervals := range schedule {
		for _, iv := range intervals {
			_, err := q.Exec(ctx, `
				INSERT INTO dentist_working_hours (dentist_id, weekday, opens_at, closes_at)
				VALUES ($1, $2, $3, $4)`,
				id, day, int(iv.Opens), int(iv.Closes))
			if err != nil {
				if db.HasCode(err, db.CodeForeignKeyViolation) {
					return fmt.Errorf("dentist %s: %w", id, ErrNotFound)
				}
				return fmt.Errorf("insert working hours: %w", err)
			}
		}
	}
	if _, err := q.Exec(ctx, `UPDATE dentist SET updated_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("touch dentist: %w", err)
	}
	return nil
}

// =========== Service Catalog ===========

type serviceRepoPG struct{ pool *pgxpool.Pool }

func NewServiceRepoPG(pool *pgxpool.Pool) ServiceCatalog { return &serviceRepoPG{pool: pool} }

func (r *serviceRepoPG) GetService(ctx context.Context, id uuid.UUID) (*Treatment, error) {
	var s Treatment
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, name, duration_minutes FROM service WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.DurationMinutes)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, fmt.Errorf("service %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get service: %w", err)
	}
	return &s, nil
}

// =========== Client Directory ===========

type clientRepoPG struct{ pool *pgxpool.Pool }

func NewClientRepoPG(pool *pgxpool.Pool) ClientDirectory { return &clientRepoPG{pool: pool} }

func (r *clientRepoPG) ClientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM client WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check client: %w", err)
	}
	return exists, nil
}

// =========== Appointment Store ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentStore {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const apptCols = `id, client_id, dentist_id, service_id, start_time, duration_minutes,
	status, cancellation_reason, notes, created_at, updated_at`

func (r *appointmentRepoPG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	err := row.Scan(&a.ID, &a.ClientID, &a.DentistID, &a.ServiceID, &a.Start, &a.DurationMinutes,
		&status, &a.CancellationReason, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = AppointmentStatus(status)
	a.Start = a.Start.UTC()
	return &a, nil
}

func (r *appointmentRepoPG) collect(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (r *appointmentRepoPG) ListByDentistAndRange(ctx context.Context, dentistID uuid.UUID, from, to time.Time, excludeStatuses ...AppointmentStatus) ([]*Appointment, error) {
	excluded := statusStrings(excludeStatuses)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE dentist_id = $1 AND start_time < $3 AND end_time > $2
			AND NOT (status = ANY($4))
		ORDER BY start_time`,
		dentistID, from.UTC(), to.UTC(), excluded)
	if err != nil {
		return nil, fmt.Errorf("list dentist appointments: %w", err)
	}
	return r.collect(rows)
}

func (r *appointmentRepoPG) ListByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment WHERE client_id = $1`, clientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count client appointments: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE client_id = $1 ORDER BY start_time DESC LIMIT $2 OFFSET $3`, clientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list client appointments: %w", err)
	}
	items, err := r.collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *appointmentRepoPG) ListByStatusAndRange(ctx context.Context, status AppointmentStatus, from, to time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE status = $1 AND start_time >= $2 AND start_time < $3
		ORDER BY start_time`, string(status), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list appointments by status: %w", err)
	}
	return r.collect(rows)
}

// Insert assigns the id and timestamps. An overlap that slipped past the
// in-process check is reported by the exclusion constraint as 23P01.
func (r *appointmentRepoPG) Insert(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	if a.Status == "" {
		a.Status = StatusPending
	}
	a.Start = a.Start.UTC()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, client_id, dentist_id, service_id, start_time, end_time,
			duration_minutes, status, cancellation_reason, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		a.ID, a.ClientID, a.DentistID, a.ServiceID, a.Start, a.End(),
		a.DurationMinutes, string(a.Status), a.CancellationReason, a.Notes).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	return translateWriteError("insert appointment", err)
}

// UpdateStatus only writes when the row still holds from, so two writers
// racing on the same snapshot cannot both succeed.
func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, reason *string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET status = $3, cancellation_reason = COALESCE($4, cancellation_reason), updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, string(from), string(to), reason)
	if err != nil {
		return translateWriteError("update appointment status", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missedUpdate(ctx, id, fmt.Sprintf("no longer %s", from))
	}
	return nil
}

func (r *appointmentRepoPG) UpdateSchedule(ctx context.Context, id uuid.UUID, start time.Time, durationMinutes int) error {
	start = start.UTC()
	end := IntervalFrom(start, durationMinutes).End
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET start_time = $2, end_time = $3, duration_minutes = $4, updated_at = NOW()
		WHERE id = $1 AND NOT (status = ANY($5))`, id, start, end, durationMinutes, statusStrings(TerminalStatuses()))
	if err != nil {
		return translateWriteError("reschedule appointment", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missedUpdate(ctx, id, "already closed")
	}
	return nil
}

// missedUpdate explains a guarded update that touched no row.
func (r *appointmentRepoPG) missedUpdate(ctx context.Context, id uuid.UUID, why string) error {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointment WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check appointment: %w", err)
	}
	if !exists {
		return fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	return fmt.Errorf("%w: appointment %s is %s", ErrInvalidTransition, id, why)
}

func statusStrings(statuses []AppointmentStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

// LockDentist takes a transaction-scoped advisory lock keyed by the dentist.
func (r *appointmentRepoPG) LockDentist(ctx context.Context, dentistID uuid.UUID) error {
	if db.TxFromContext(ctx) == nil {
		return fmt.Errorf("lock dentist %s: no transaction in context", dentistID)
	}
	if _, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text))`, dentistID.String()); err != nil {
		return fmt.Errorf("lock dentist %s: %w", dentistID, err)
	}
	return nil
}

func translateWriteError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case db.HasCode(err, db.CodeExclusionViolation):
		return fmt.Errorf("%s: %w", op, ErrScheduleConflict)
	case db.HasCode(err, db.CodeForeignKeyViolation):
		return fmt.Errorf("%s: referenced record: %w", op, ErrNotFound)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
