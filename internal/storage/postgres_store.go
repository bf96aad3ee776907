package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/courier-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) CreateRequest(ctx context.Context, r *models.DeliveryRequest) error {
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	return p.db.QueryRowContext(ctx, `INSERT INTO delivery_requests
		(customer_id, preferred_driver_id, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon,
		 pickup_address, dropoff_address, vehicle_type, distance_m, fare_cents,
		 recipient_phone, package_notes, status, expires_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING id`,
		r.CustomerID, r.PreferredDriver, r.Pickup.Lat, r.Pickup.Lon, r.Dropoff.Lat, r.Dropoff.Lon,
		r.PickupAddress, r.DropoffAddress, r.VehicleType, r.DistanceMeters, r.FareCents,
		r.RecipientPhone, r.PackageNotes, r.Status, r.ExpiresAt, r.CreatedAt, r.UpdatedAt,
	).Scan(&r.ID)
}

func (p *PostgresStore) GetRequest(ctx context.Context, id int64) (models.DeliveryRequest, error) {
	var r models.DeliveryRequest
	var assigned sql.NullInt64
	err := p.db.QueryRowContext(ctx, `SELECT id, customer_id, preferred_driver_id,
		pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, pickup_address, dropoff_address,
		vehicle_type, distance_m, fare_cents, recipient_phone, package_notes,
		status, assigned_driver_id, expires_at, created_at, updated_at
		FROM delivery_requests WHERE id = $1`, id).Scan(
		&r.ID, &r.CustomerID, &r.PreferredDriver,
		&r.Pickup.Lat, &r.Pickup.Lon, &r.Dropoff.Lat, &r.Dropoff.Lon, &r.PickupAddress, &r.DropoffAddress,
		&r.VehicleType, &r.DistanceMeters, &r.FareCents, &r.RecipientPhone, &r.PackageNotes,
		&r.Status, &assigned, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DeliveryRequest{}, ErrNotFound
	}
	if err != nil {
		return models.DeliveryRequest{}, err
	}
	if assigned.Valid {
		r.AssignedDriverID = assigned.Int64
	}
	return r, nil
}

// ClaimRequest is the first-writer-wins acceptance: a single conditional
// update, so two racing accepts can never both set a driver.
func (p *PostgresStore) ClaimRequest(ctx context.Context, requestID, driverID int64) error {
	res, err := p.db.ExecContext(ctx, `UPDATE delivery_requests
		SET status = $1, assigned_driver_id = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4 AND expires_at > NOW()`,
		models.RequestAccepted, driverID, requestID, models.RequestPending)
	if err != nil {
		return err
	}
	return closedIfNoRows(res, p, ctx, requestID)
}

func (p *PostgresStore) ExpireRequest(ctx context.Context, requestID int64) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE delivery_requests
		SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		models.RequestExpired, requestID, models.RequestPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *PostgresStore) CancelRequest(ctx context.Context, requestID int64) error {
	res, err := p.db.ExecContext(ctx, `UPDATE delivery_requests
		SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		models.RequestCancelled, requestID, models.RequestPending)
	if err != nil {
		return err
	}
	return closedIfNoRows(res, p, ctx, requestID)
}

func closedIfNoRows(res sql.Result, p *PostgresStore, ctx context.Context, requestID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM delivery_requests WHERE id=$1)`, requestID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrRequestClosed
}

func (p *PostgresStore) AppendResponse(ctx context.Context, resp models.DriverResponse) error {
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO driver_responses (request_id, driver_id, response, created_at)
		VALUES ($1,$2,$3,$4)`, resp.RequestID, resp.DriverID, resp.Response, resp.CreatedAt)
	return err
}

func (p *PostgresStore) ResponsesForRequest(ctx context.Context, requestID int64) ([]models.DriverResponse, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT request_id, driver_id, response, created_at
		FROM driver_responses WHERE request_id = $1 ORDER BY id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.DriverResponse
	for rows.Next() {
		var r models.DriverResponse
		if err := rows.Scan(&r.RequestID, &r.DriverID, &r.Response, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateReference(ctx context.Context, ref *models.PaymentReference) error {
	now := time.Now()
	ref.CreatedAt = now
	ref.UpdatedAt = now
	if ref.Status == "" {
		ref.Status = models.ReferencePending
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO payment_references
		(reference, driver_id, amount_cents, method, poll_url, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		ref.Reference, ref.DriverID, ref.AmountCents, ref.Method, ref.PollURL, ref.Status, ref.CreatedAt, ref.UpdatedAt)
	return err
}

func (p *PostgresStore) GetReference(ctx context.Context, reference string) (models.PaymentReference, error) {
	var ref models.PaymentReference
	err := p.db.QueryRowContext(ctx, `SELECT reference, driver_id, amount_cents, method, poll_url, status, created_at, updated_at
		FROM payment_references WHERE reference = $1`, reference).Scan(
		&ref.Reference, &ref.DriverID, &ref.AmountCents, &ref.Method, &ref.PollURL, &ref.Status, &ref.CreatedAt, &ref.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PaymentReference{}, ErrNotFound
	}
	return ref, err
}

func (p *PostgresStore) UpdateReferencePoll(ctx context.Context, reference, pollURL string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE payment_references
		SET poll_url = $1, updated_at = NOW() WHERE reference = $2`, pollURL, reference)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) HasCompletedTransaction(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(
		SELECT 1 FROM driver_transactions WHERE reference = $1 AND status = $2)`,
		reference, models.TransactionCompleted).Scan(&exists)
	return exists, err
}

// SettlePayment runs the whole terminal transition in one database
// transaction. The reference CAS decides the winner; the wallet credit
// and the completed transaction row commit with it or not at all.
func (p *PostgresStore) SettlePayment(ctx context.Context, reference string, terminal models.ReferenceStatus, amountCents int64) (SettleResult, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return SettleResult{}, err
	}
	defer tx.Rollback()

	var driverID int64
	err = tx.QueryRowContext(ctx, `UPDATE payment_references
		SET status = $1, updated_at = NOW()
		WHERE reference = $2 AND status = $3
		RETURNING driver_id`, terminal, reference, models.ReferencePending).Scan(&driverID)
	if errors.Is(err, sql.ErrNoRows) {
		// lost the CAS, or the reference does not exist at all
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM payment_references WHERE reference=$1)`, reference).Scan(&exists); err != nil {
			return SettleResult{}, err
		}
		if !exists {
			return SettleResult{}, ErrNotFound
		}
		return SettleResult{Won: false}, nil
	}
	if err != nil {
		return SettleResult{}, err
	}

	result := SettleResult{Won: true}
	txStatus := models.TransactionFailed
	amount := int64(0)
	if terminal == models.ReferenceCompleted {
		txStatus = models.TransactionCompleted
		amount = amountCents
		if err := tx.QueryRowContext(ctx, `UPDATE drivers
			SET balance_cents = balance_cents + $1, updated_at = NOW()
			WHERE id = $2 RETURNING balance_cents`, amountCents, driverID).Scan(&result.NewBalance); err != nil {
			return SettleResult{}, fmt.Errorf("wallet credit: %w", err)
		}
	}

	rec := models.DriverTransaction{
		DriverID:    driverID,
		AmountCents: amount,
		Reference:   reference,
		Status:      txStatus,
		CreatedAt:   time.Now(),
	}
	if err := tx.QueryRowContext(ctx, `INSERT INTO driver_transactions
		(driver_id, amount_cents, reference, status, created_at)
		VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		rec.DriverID, rec.AmountCents, rec.Reference, rec.Status, rec.CreatedAt).Scan(&rec.ID); err != nil {
		return SettleResult{}, fmt.Errorf("transaction record: %w", err)
	}
	result.Transaction = rec

	if err := tx.Commit(); err != nil {
		return SettleResult{}, err
	}
	return result, nil
}

func (p *PostgresStore) InsertTransaction(ctx context.Context, rec *models.DriverTransaction) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return p.db.QueryRowContext(ctx, `INSERT INTO driver_transactions
		(driver_id, amount_cents, reference, status, created_at)
		VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		rec.DriverID, rec.AmountCents, rec.Reference, rec.Status, rec.CreatedAt).Scan(&rec.ID)
}

func (p *PostgresStore) ListTransactions(ctx context.Context, driverID int64, limit int) ([]models.DriverTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, driver_id, amount_cents, reference, status, created_at
		FROM driver_transactions WHERE driver_id = $1 ORDER BY id DESC LIMIT $2`, driverID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.DriverTransaction
	for rows.Next() {
		var t models.DriverTransaction
		if err := rows.Scan(&t.ID, &t.DriverID, &t.AmountCents, &t.Reference, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) EnsureDriver(ctx context.Context, driverID int64) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO drivers (id, balance_cents, created_at, updated_at)
		VALUES ($1, 0, NOW(), NOW()) ON CONFLICT (id) DO NOTHING`, driverID)
	return err
}

func (p *PostgresStore) GetDriver(ctx context.Context, driverID int64) (models.Driver, error) {
	var d models.Driver
	err := p.db.QueryRowContext(ctx, `SELECT id, balance_cents FROM drivers WHERE id = $1`, driverID).
		Scan(&d.ID, &d.BalanceCents)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Driver{}, ErrNotFound
	}
	return d, err
}

// ApplyBalance performs the read-modify-write as one statement. The
// WHERE clause enforces the negative-balance guard inside the database,
// so concurrent debits for the same driver cannot race past it.
func (p *PostgresStore) ApplyBalance(ctx context.Context, driverID, deltaCents int64, authorizedDebit bool) (int64, error) {
	var newBalance int64
	var err error
	if authorizedDebit {
		err = p.db.QueryRowContext(ctx, `UPDATE drivers
			SET balance_cents = balance_cents + $1, updated_at = NOW()
			WHERE id = $2 RETURNING balance_cents`, deltaCents, driverID).Scan(&newBalance)
	} else {
		err = p.db.QueryRowContext(ctx, `UPDATE drivers
			SET balance_cents = balance_cents + $1, updated_at = NOW()
			WHERE id = $2 AND balance_cents + $1 >= 0 RETURNING balance_cents`, deltaCents, driverID).Scan(&newBalance)
	}
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if qerr := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM drivers WHERE id=$1)`, driverID).Scan(&exists); qerr != nil {
			return 0, qerr
		}
		if !exists {
			return 0, ErrNotFound
		}
		return 0, ErrInsufficientBalance
	}
	return newBalance, err
}
