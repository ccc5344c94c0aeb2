package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"mlm-platform/internal/model"
	"mlm-platform/internal/pkg/db"
)

const userColumns = `
	id, email, name, referral_code, referrer_id, program, status,
	cumulative_eligible_earnings, cap_status, withdrawals_blocked,
	activation_amount, activated_at, kyc_status, bank_verified, email_verified,
	telegram_id, renewal_count, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.ReferralCode,
		&u.ReferrerID,
		&u.Program,
		&u.Status,
		&u.CumulativeEligibleEarnings,
		&u.CapStatus,
		&u.WithdrawalsBlocked,
		&u.ActivationAmount,
		&u.ActivatedAt,
		&u.KYCStatus,
		&u.BankVerified,
		&u.EmailVerified,
		&u.TelegramID,
		&u.RenewalCount,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserRepository handles member accounts and the referral tree.
type UserRepository struct {
	db db.DBTX
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(conn db.DBTX) *UserRepository {
	return &UserRepository{db: conn}
}

// WithTx returns a repository bound to tx.
func (r *UserRepository) WithTx(tx pgx.Tx) *UserRepository {
	return &UserRepository{db: tx}
}

// Create inserts a new member in PENDING_ACTIVATION state.
func (r *UserRepository) Create(ctx context.Context, u *model.User) (*model.User, error) {
	query := `
		INSERT INTO users (id, email, name, referral_code, referrer_id, program, status,
			email_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING ` + userColumns

	created, err := scanUser(r.db.QueryRow(ctx, query,
		u.ID, u.Email, u.Name, u.ReferralCode, u.ReferrerID, u.Program,
		model.StatusPendingActivation, u.EmailVerified,
	))
	if err != nil {
		switch {
		case db.IsUniqueViolation(err, "users_pkey"):
			return nil, ErrUserExists
		case db.IsUniqueViolation(err, "users_email_key"):
			return nil, ErrEmailTaken
		case db.IsUniqueViolation(err, "users_referral_code_key"):
			return nil, ErrReferralCodeTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return created, nil
}

func (r *UserRepository) getOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetByID retrieves a user by id.
// Returns ErrUserNotFound if the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByIDForUpdate retrieves and row-locks a user. Must run inside a transaction.
func (r *UserRepository) GetByIDForUpdate(ctx context.Context, id string) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
}

// GetByEmail retrieves a user by email, case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
}

// GetByReferralCode retrieves the owner of a referral code.
func (r *UserRepository) GetByReferralCode(ctx context.Context, code string) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = $1`, code)
}

// GetByTelegramID retrieves the user linked to a Telegram account.
func (r *UserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID)
}

func (r *UserRepository) execOne(ctx context.Context, what, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// LinkTelegram attaches a Telegram account to a user.
func (r *UserRepository) LinkTelegram(ctx context.Context, id string, telegramID int64) error {
	err := r.execOne(ctx, "link telegram",
		`UPDATE users SET telegram_id = $2, updated_at = NOW() WHERE id = $1`, id, telegramID)
	if db.IsUniqueViolation(err, "users_telegram_id_key") {
		return ErrTelegramLinked
	}
	return err
}

// Activate moves a PENDING_ACTIVATION user to the active status of program.
// Returns ErrStatusConflict when the user is no longer pending.
func (r *UserRepository) Activate(ctx context.Context, id string, program model.Program, amount decimal.Decimal, at time.Time) (*model.User, error) {
	query := `
		UPDATE users
		SET status = $2, program = $3, activation_amount = $4, activated_at = $5,
			cap_status = 'ACTIVE', withdrawals_blocked = FALSE,
			cumulative_eligible_earnings = 0, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING_ACTIVATION'
		RETURNING ` + userColumns

	u, err := scanUser(r.db.QueryRow(ctx, query, id, model.ActiveStatusFor(program), program, amount, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrStatusConflict
		}
		return nil, fmt.Errorf("failed to activate user: %w", err)
	}
	return u, nil
}

// UpdateStatus sets a user's status unconditionally (admin action).
func (r *UserRepository) UpdateStatus(ctx context.Context, id string, status model.UserStatus) error {
	return r.execOne(ctx, "update status",
		`UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
}

// SetVerification updates KYC and bank verification flags.
func (r *UserRepository) SetVerification(ctx context.Context, id string, kyc model.KYCStatus, bankVerified bool) error {
	return r.execOne(ctx, "set verification",
		`UPDATE users SET kyc_status = $2, bank_verified = $3, updated_at = NOW() WHERE id = $1`,
		id, kyc, bankVerified)
}

// SetReferrer moves a user under a new referrer.
func (r *UserRepository) SetReferrer(ctx context.Context, id string, referrerID *string) error {
	return r.execOne(ctx, "set referrer",
		`UPDATE users SET referrer_id = $2, updated_at = NOW() WHERE id = $1`, id, referrerID)
}

// ApplyEarnings stores the cap-tracked earnings state after a credit.
func (r *UserRepository) ApplyEarnings(ctx context.Context, id string, cumulative decimal.Decimal, capStatus model.CapStatus, withdrawalsBlocked bool) error {
	return r.execOne(ctx, "apply earnings", `
		UPDATE users
		SET cumulative_eligible_earnings = $2, cap_status = $3, withdrawals_blocked = $4, updated_at = NOW()
		WHERE id = $1`,
		id, cumulative, capStatus, withdrawalsBlocked)
}

// ApplyRenewal reopens earnings after a cap renewal.
func (r *UserRepository) ApplyRenewal(ctx context.Context, id string, baseline decimal.Decimal) (*model.User, error) {
	query := `
		UPDATE users
		SET cumulative_eligible_earnings = $2, cap_status = 'ACTIVE', withdrawals_blocked = FALSE,
			renewal_count = renewal_count + 1, updated_at = NOW()
		WHERE id = $1 AND cap_status = 'CAP_REACHED'
		RETURNING ` + userColumns

	u, err := scanUser(r.db.QueryRow(ctx, query, id, baseline))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStatusConflict
		}
		return nil, fmt.Errorf("failed to apply renewal: %w", err)
	}
	return u, nil
}

// Upline returns up to hops ancestors of id, nearest first. The depth bound
// also terminates the walk if the tree contains a cycle.
func (r *UserRepository) Upline(ctx context.Context, id string, hops int) ([]*model.UplineMember, error) {
	const query = `
		WITH RECURSIVE chain AS (
			SELECT u.referrer_id AS id, 1 AS depth
			FROM users u
			WHERE u.id = $1 AND u.referrer_id IS NOT NULL
			UNION ALL
			SELECT p.referrer_id, c.depth + 1
			FROM chain c
			JOIN users p ON p.id = c.id
			WHERE p.referrer_id IS NOT NULL AND c.depth < $2
		)
		SELECT c.depth, u.id, u.status, u.program,
			(SELECT COUNT(*) FROM users d
			 WHERE d.referrer_id = u.id AND d.status IN ('ACTIVE_INVESTOR', 'ACTIVE_LEADER')) AS active_directs,
			(SELECT COUNT(*) FROM users d WHERE d.referrer_id = u.id) AS total_directs
		FROM chain c
		JOIN users u ON u.id = c.id
		ORDER BY c.depth
	`

	rows, err := r.db.Query(ctx, query, id, hops)
	if err != nil {
		return nil, fmt.Errorf("failed to get upline: %w", err)
	}
	defer rows.Close()

	var chain []*model.UplineMember
	for rows.Next() {
		var m model.UplineMember
		if err := rows.Scan(&m.Depth, &m.ID, &m.Status, &m.Program, &m.ActiveDirects, &m.TotalDirects); err != nil {
			return nil, fmt.Errorf("failed to scan upline member: %w", err)
		}
		chain = append(chain, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating upline: %w", err)
	}
	return chain, nil
}

// InUpline reports whether ancestorID appears within hops levels above id.
func (r *UserRepository) InUpline(ctx context.Context, id, ancestorID string, hops int) (bool, error) {
	chain, err := r.Upline(ctx, id, hops)
	if err != nil {
		return false, err
	}
	for _, m := range chain {
		if m.ID == ancestorID {
			return true, nil
		}
	}
	return false, nil
}

// ListIDsAfter returns user ids greater than afterID in id order, for
// keyset-paginated batch jobs.
func (r *UserRepository) ListIDsAfter(ctx context.Context, afterID string, limit int) ([]string, error) {
	const query = `
		SELECT id::text FROM users
		WHERE id::text > $1
		ORDER BY id::text
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// AutoBlockExpired marks up to limit PENDING_ACTIVATION users created before
// cutoff as AUTO_BLOCKED and returns their ids.
func (r *UserRepository) AutoBlockExpired(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	const query = `
		UPDATE users SET status = 'AUTO_BLOCKED', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM users
			WHERE status = 'PENDING_ACTIVATION' AND created_at < $1
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id::text
	`

	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to auto-block users: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// CountByStatus returns the number of users in each status.
func (r *UserRepository) CountByStatus(ctx context.Context) (map[model.UserStatus]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM users GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.UserStatus]int64)
	for rows.Next() {
		var status model.UserStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan user count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Directs returns the users directly referred by id, newest first.
func (r *UserRepository) Directs(ctx context.Context, id string, limit int) ([]*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE referrer_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.Query(ctx, query, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get directs: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}
