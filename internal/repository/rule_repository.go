package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/assignment-service/internal/domain"
)

// ErrRulePriorityTaken is returned when another enabled rule already uses the priority.
var ErrRulePriorityTaken = fmt.Errorf("%w: priority already used by an enabled rule", domain.ErrInvalidRule)

// RuleRepository persists assignment rules.
type RuleRepository interface {
	List(ctx context.Context) ([]domain.AssignmentRule, error)
	ListEnabled(ctx context.Context) ([]domain.AssignmentRule, error)
	GetByID(ctx context.Context, id string) (*domain.AssignmentRule, error)
	Create(ctx context.Context, rule *domain.AssignmentRule) error
	Update(ctx context.Context, rule *domain.AssignmentRule) error
	Delete(ctx context.Context, id string) error
}

type ruleRepository struct {
	pool *pgxpool.Pool
}

// NewRuleRepository instantiates the repository.
func NewRuleRepository(pool *pgxpool.Pool) RuleRepository {
	return &ruleRepository{pool: pool}
}

const ruleColumns = `id, name, priority, enabled, conditions, action, created_at, updated_at`

func (r *ruleRepository) List(ctx context.Context) ([]domain.AssignmentRule, error) {
	return r.list(ctx, `SELECT `+ruleColumns+` FROM assignment_rules ORDER BY priority, created_at, id`)
}

func (r *ruleRepository) ListEnabled(ctx context.Context) ([]domain.AssignmentRule, error) {
	return r.list(ctx, `SELECT `+ruleColumns+` FROM assignment_rules WHERE enabled ORDER BY priority, created_at, id`)
}

func (r *ruleRepository) list(ctx context.Context, query string) ([]domain.AssignmentRule, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AssignmentRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	return result, rows.Err()
}

func (r *ruleRepository) GetByID(ctx context.Context, id string) (*domain.AssignmentRule, error) {
	rule, err := scanRule(r.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM assignment_rules WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRuleNotFound
	}
	return rule, err
}

func (r *ruleRepository) Create(ctx context.Context, rule *domain.AssignmentRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	conditions, action, err := encodeRule(rule)
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO assignment_rules (id, name, priority, enabled, conditions, action)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING created_at, updated_at`
	err = r.pool.QueryRow(ctx, query,
		rule.ID,
		rule.Name,
		rule.Priority,
		rule.Enabled,
		conditions,
		action,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrRulePriorityTaken
	}
	return err
}

func (r *ruleRepository) Update(ctx context.Context, rule *domain.AssignmentRule) error {
	conditions, action, err := encodeRule(rule)
	if err != nil {
		return err
	}
	const query = `
        UPDATE assignment_rules
        SET name=$1, priority=$2, enabled=$3, conditions=$4, action=$5, updated_at=NOW()
        WHERE id=$6
        RETURNING created_at, updated_at`
	err = r.pool.QueryRow(ctx, query,
		rule.Name,
		rule.Priority,
		rule.Enabled,
		conditions,
		action,
		rule.ID,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.ErrRuleNotFound
	case isUniqueViolation(err):
		return ErrRulePriorityTaken
	}
	return err
}

func (r *ruleRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM assignment_rules WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrRuleNotFound
	}
	return nil
}

func encodeRule(rule *domain.AssignmentRule) ([]byte, []byte, error) {
	conds := rule.Conditions
	if conds == nil {
		conds = []domain.RuleCondition{}
	}
	conditions, err := json.Marshal(conds)
	if err != nil {
		return nil, nil, err
	}
	action, err := domain.MarshalAction(rule.Action)
	if err != nil {
		return nil, nil, err
	}
	return conditions, action, nil
}

// scanRule decodes stored JSON leniently. A row whose JSON no longer parses comes back in a
// shape Validate rejects, so evaluation skips that rule instead of failing the whole load.
func scanRule(row pgx.Row) (*domain.AssignmentRule, error) {
	var (
		rule       domain.AssignmentRule
		conditions []byte
		action     []byte
	)
	if err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Priority,
		&rule.Enabled,
		&conditions,
		&action,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
			rule.Conditions = []domain.RuleCondition{{Field: "malformed"}}
		}
	}
	if a, err := domain.UnmarshalAction(action); err == nil {
		rule.Action = a
	}
	return &rule, nil
}
