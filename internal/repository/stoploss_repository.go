package repository

import (
	"database/sql"
	"errors"
	"time"

	"stopguard/internal/models"
)

// Ошибки репозитория правил
var (
	ErrStopRuleNotFound = errors.New("stop rule not found")
)

// StopLossRepository - работа с таблицей stop_rules
//
// Правила переживают рестарт сервиса: после подъёма engine
// загружает их через GetAll и возобновляет мониторинг.
type StopLossRepository struct {
	db *sql.DB
}

// NewStopLossRepository создает новый экземпляр репозитория
func NewStopLossRepository(db *sql.DB) *StopLossRepository {
	return &StopLossRepository{db: db}
}

const stopRuleColumns = `id, symbol, position_side, stop_price, quantity, timeframe, status, error_message, created_at, updated_at`

// EnsureSchema создает таблицу правил, если её ещё нет
func (r *StopLossRepository) EnsureSchema() error {
	query := `
		CREATE TABLE IF NOT EXISTS stop_rules (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			position_side VARCHAR(10) NOT NULL,
			stop_price DECIMAL(20, 8) NOT NULL,
			quantity DECIMAL(20, 8),
			timeframe VARCHAR(5) NOT NULL,
			status VARCHAR(20) DEFAULT 'active',
			error_message TEXT DEFAULT '',
			created_at TIMESTAMP DEFAULT NOW(),
			updated_at TIMESTAMP DEFAULT NOW()
		)`

	_, err := r.db.Exec(query)
	return err
}

// scanStopRule читает строку в модель
func scanStopRule(row interface{ Scan(...interface{}) error }) (*models.StopRule, error) {
	rule := &models.StopRule{}
	err := row.Scan(
		&rule.ID,
		&rule.Symbol,
		&rule.PositionSide,
		&rule.StopPrice,
		&rule.Quantity,
		&rule.Timeframe,
		&rule.Status,
		&rule.ErrorMessage,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// Create создает правило и заполняет ID, CreatedAt, UpdatedAt
func (r *StopLossRepository) Create(rule *models.StopRule) error {
	query := `
		INSERT INTO stop_rules (symbol, position_side, stop_price, quantity, timeframe, status, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if rule.Status == "" {
		rule.Status = models.StopRuleStatusActive
	}

	return r.db.QueryRow(
		query,
		rule.Symbol,
		rule.PositionSide,
		rule.StopPrice,
		rule.Quantity,
		rule.Timeframe,
		rule.Status,
		rule.ErrorMessage,
		rule.CreatedAt,
		rule.UpdatedAt,
	).Scan(&rule.ID)
}

// GetByID возвращает правило по ID
func (r *StopLossRepository) GetByID(id int64) (*models.StopRule, error) {
	query := `
		SELECT ` + stopRuleColumns + `
		FROM stop_rules
		WHERE id = $1`

	rule, err := scanStopRule(r.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStopRuleNotFound
		}
		return nil, err
	}

	return rule, nil
}

// GetBySymbol возвращает все правила символа
func (r *StopLossRepository) GetBySymbol(symbol string) ([]*models.StopRule, error) {
	query := `
		SELECT ` + stopRuleColumns + `
		FROM stop_rules
		WHERE symbol = $1
		ORDER BY created_at DESC`

	return r.queryRules(query, symbol)
}

// GetAll возвращает все правила
func (r *StopLossRepository) GetAll() ([]*models.StopRule, error) {
	query := `
		SELECT ` + stopRuleColumns + `
		FROM stop_rules
		ORDER BY created_at DESC`

	return r.queryRules(query)
}

func (r *StopLossRepository) queryRules(query string, args ...interface{}) ([]*models.StopRule, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*models.StopRule
	for rows.Next() {
		rule, err := scanStopRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return rules, nil
}

// UpdateStopPrice изменяет цену срабатывания правила
func (r *StopLossRepository) UpdateStopPrice(id int64, stopPrice float64) error {
	query := `
		UPDATE stop_rules
		SET stop_price = $1, updated_at = $2
		WHERE id = $3`

	return r.execExpectingRow(query, stopPrice, time.Now(), id)
}

// UpdateStatus изменяет статус правила
//
// errorMessage очищается при возврате в active и заполняется
// при переводе в failed.
func (r *StopLossRepository) UpdateStatus(id int64, status, errorMessage string) error {
	query := `
		UPDATE stop_rules
		SET status = $1, error_message = $2, updated_at = $3
		WHERE id = $4`

	return r.execExpectingRow(query, status, errorMessage, time.Now(), id)
}

// Delete удаляет правило
func (r *StopLossRepository) Delete(id int64) error {
	query := `DELETE FROM stop_rules WHERE id = $1`

	return r.execExpectingRow(query, id)
}

// DeleteBySymbol удаляет все правила символа, возвращает их количество
func (r *StopLossRepository) DeleteBySymbol(symbol string) (int64, error) {
	query := `DELETE FROM stop_rules WHERE symbol = $1`

	result, err := r.db.Exec(query, symbol)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// Count возвращает общее количество правил
func (r *StopLossRepository) Count() (int, error) {
	query := `SELECT COUNT(*) FROM stop_rules`

	var count int
	if err := r.db.QueryRow(query).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

func (r *StopLossRepository) execExpectingRow(query string, args ...interface{}) error {
	result, err := r.db.Exec(query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrStopRuleNotFound
	}

	return nil
}
