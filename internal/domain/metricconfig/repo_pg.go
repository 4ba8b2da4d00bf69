package metricconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ehr/abstractor/internal/domain/followup"
	"github.com/ehr/abstractor/internal/domain/signal"
	"github.com/ehr/abstractor/internal/platform/db"
)

// Repository is a Source backed by the metadata database that can also
// store bundles.
type Repository interface {
	Source
	SaveSpecialty(ctx context.Context, s *Specialty) error
	Save(ctx context.Context, cfg *CompleteConfig) error
}

type repoPG struct {
	pool db.Conn
}

func NewRepo(pool db.Conn) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const metricCols = `metric_id, metric_name, specialty, specialty_id, domain,
	question_code, threshold_hours, version, updated_at`

func scanMetric(row pgx.Row, extra ...interface{}) (*Metric, error) {
	var m Metric
	dest := []interface{}{&m.MetricID, &m.MetricName, &m.Specialty, &m.SpecialtyID, &m.Domain,
		&m.QuestionCode, &m.ThresholdHours, &m.Version, &m.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repoPG) ListSpecialties(ctx context.Context) ([]Specialty, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, name, display_order FROM specialty ORDER BY display_order, name`)
	if err != nil {
		return nil, fmt.Errorf("list specialties: %w", err)
	}
	defer rows.Close()

	out := []Specialty{}
	for rows.Next() {
		var s Specialty
		if err := rows.Scan(&s.ID, &s.Name, &s.DisplayOrder); err != nil {
			return nil, fmt.Errorf("scan specialty: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListMetrics groups metrics by specialty. Empty filters match everything.
func (r *repoPG) ListMetrics(ctx context.Context, specialty, domain string) (map[string][]Metric, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+metricCols+` FROM metric
		WHERE ($1 = '' OR specialty = $1) AND ($2 = '' OR domain = $2)
		ORDER BY specialty, metric_name`, specialty, domain)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	out := map[string][]Metric{}
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		out[m.Specialty] = append(out[m.Specialty], *m)
	}
	return out, rows.Err()
}

func (r *repoPG) GetMetric(ctx context.Context, metricID string) (*Metric, error) {
	m, err := scanMetric(r.conn(ctx).QueryRow(ctx,
		`SELECT `+metricCols+` FROM metric WHERE metric_id = $1`, metricID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get metric: %w", err)
	}
	return m, nil
}

func (r *repoPG) GetComplete(ctx context.Context, metricID string) (*CompleteConfig, error) {
	var display []byte
	m, err := scanMetric(r.conn(ctx).QueryRow(ctx,
		`SELECT `+metricCols+`, display_config FROM metric WHERE metric_id = $1`, metricID), &display)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get metric: %w", err)
	}

	cfg := &CompleteConfig{Metric: *m}
	if len(display) > 0 {
		if err := json.Unmarshal(display, &cfg.DisplayItems); err != nil {
			return nil, fmt.Errorf("decode display config for %s: %w", metricID, err)
		}
	}
	if cfg.SignalGroups, err = r.ListSignalGroups(ctx, metricID); err != nil {
		return nil, err
	}
	if cfg.Followups, err = r.ListFollowups(ctx, metricID); err != nil {
		return nil, err
	}
	if cfg.Prompts, err = r.listPrompts(ctx, metricID); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ListSignalGroups returns the metric's groups with their signals in
// position order. Groups without signals are kept.
func (r *repoPG) ListSignalGroups(ctx context.Context, metricID string) ([]signal.SignalGroup, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT g.group_name, g.display_order,
			s.signal_id, s.label, s.definition, s.rule, s.tooltip, s.family
		FROM signal_group g
		LEFT JOIN signal_def s ON s.group_id = g.id
		WHERE g.metric_id = $1
		ORDER BY g.display_order, g.group_name, s.position`, metricID)
	if err != nil {
		return nil, fmt.Errorf("list signal groups: %w", err)
	}
	defer rows.Close()

	groups := []signal.SignalGroup{}
	index := map[string]int{}
	for rows.Next() {
		var name string
		var order int
		var id, label, def, rule, tooltip, family *string
		if err := rows.Scan(&name, &order, &id, &label, &def, &rule, &tooltip, &family); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, signal.SignalGroup{GroupName: name, DisplayOrder: order, Signals: []signal.Signal{}})
		}
		if id == nil {
			continue
		}
		groups[i].Signals = append(groups[i].Signals, signal.Signal{
			ID:         *id,
			Label:      deref(label),
			Group:      name,
			Definition: deref(def),
			Rule:       deref(rule),
			Tooltip:    deref(tooltip),
			Family:     deref(family),
		})
	}
	return groups, rows.Err()
}

func (r *repoPG) ListFollowups(ctx context.Context, metricID string) ([]followup.Followup, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT followup_name, followup_type, depends_on, label, options
		FROM followup WHERE metric_id = $1
		ORDER BY position, followup_name`, metricID)
	if err != nil {
		return nil, fmt.Errorf("list followups: %w", err)
	}
	defer rows.Close()

	out := []followup.Followup{}
	for rows.Next() {
		var f followup.Followup
		if err := rows.Scan(&f.FollowupName, &f.FollowupType, &f.DependsOn, &f.Label, &f.Options); err != nil {
			return nil, fmt.Errorf("scan followup: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *repoPG) listPrompts(ctx context.Context, metricID string) ([]Prompt, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT kind, template, version FROM prompt
		WHERE metric_id = $1 AND active
		ORDER BY kind`, metricID)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	out := []Prompt{}
	for rows.Next() {
		var p Prompt
		if err := rows.Scan(&p.Kind, &p.Template, &p.Version); err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repoPG) SaveSpecialty(ctx context.Context, s *Specialty) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO specialty (id, name, display_order) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, display_order = EXCLUDED.display_order`,
		s.ID, s.Name, s.DisplayOrder)
	if err != nil {
		return fmt.Errorf("save specialty %s: %w", s.ID, err)
	}
	return nil
}

// Save replaces the metric and all of its child rows in one transaction.
func (r *repoPG) Save(ctx context.Context, cfg *CompleteConfig) error {
	display, err := json.Marshal(cfg.DisplayItems)
	if err != nil {
		return fmt.Errorf("encode display config: %w", err)
	}
	m := cfg.Metric

	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		if _, err := q.Exec(ctx, `
			INSERT INTO metric (metric_id, metric_name, specialty, specialty_id, domain,
				question_code, threshold_hours, version, display_config)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (metric_id) DO UPDATE SET
				metric_name = EXCLUDED.metric_name, specialty = EXCLUDED.specialty,
				specialty_id = EXCLUDED.specialty_id, domain = EXCLUDED.domain,
				question_code = EXCLUDED.question_code, threshold_hours = EXCLUDED.threshold_hours,
				version = EXCLUDED.version, display_config = EXCLUDED.display_config,
				updated_at = NOW()`,
			m.MetricID, m.MetricName, m.Specialty, m.SpecialtyID, m.Domain,
			m.QuestionCode, m.ThresholdHours, m.Version, display,
		); err != nil {
			return fmt.Errorf("save metric %s: %w", m.MetricID, err)
		}

		for _, table := range []string{"signal_group", "followup", "prompt"} {
			if _, err := q.Exec(ctx, `DELETE FROM `+table+` WHERE metric_id = $1`, m.MetricID); err != nil {
				return fmt.Errorf("clear %s for %s: %w", table, m.MetricID, err)
			}
		}

		for _, g := range cfg.SignalGroups {
			groupID := uuid.New()
			if _, err := q.Exec(ctx, `
				INSERT INTO signal_group (id, metric_id, group_name, display_order)
				VALUES ($1, $2, $3, $4)`, groupID, m.MetricID, g.GroupName, g.DisplayOrder); err != nil {
				return fmt.Errorf("save group %s: %w", g.GroupName, err)
			}
			for pos, s := range g.Signals {
				if _, err := q.Exec(ctx, `
					INSERT INTO signal_def (id, group_id, signal_id, label, definition, rule, tooltip, family, position)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
					uuid.New(), groupID, s.ID, s.Label, s.Definition, s.Rule, s.Tooltip, s.Family, pos); err != nil {
					return fmt.Errorf("save signal %s: %w", s.ID, err)
				}
			}
		}

		for pos, f := range cfg.Followups {
			options := f.Options
			if options == nil {
				options = []string{}
			}
			if _, err := q.Exec(ctx, `
				INSERT INTO followup (id, metric_id, followup_name, followup_type, depends_on, label, options, position)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				uuid.New(), m.MetricID, f.FollowupName, f.FollowupType, f.DependsOn, f.Label, options, pos); err != nil {
				return fmt.Errorf("save followup %s: %w", f.FollowupName, err)
			}
		}

		for _, p := range cfg.Prompts {
			if _, err := q.Exec(ctx, `
				INSERT INTO prompt (id, metric_id, kind, template, version)
				VALUES ($1, $2, $3, $4, $5)`,
				uuid.New(), m.MetricID, p.Kind, p.Template, p.Version); err != nil {
				return fmt.Errorf("save %s prompt: %w", p.Kind, err)
			}
		}
		return nil
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
