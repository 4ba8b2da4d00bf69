package metricconfig

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/abstractor/internal/domain/followup"
	"github.com/ehr/abstractor/internal/domain/grouping"
	"github.com/ehr/abstractor/internal/domain/signal"
)

var metricColumns = []string{"metric_id", "metric_name", "specialty", "specialty_id", "domain",
	"question_code", "threshold_hours", "version", "updated_at"}

func strPtr(s string) *string { return &s }

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestRepoPG_GetMetric(t *testing.T) {
	mock := newMock(t)
	hours := 19.0
	updated := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT metric_id, metric_name").
		WithArgs("SCH").
		WillReturnRows(pgxmock.NewRows(metricColumns).AddRow(
			"SCH", "Supracondylar Humerus Fracture", "Orthopedics", strPtr("ortho"), strPtr("pediatric"),
			(*string)(nil), &hours, (*string)(nil), &updated))

	m, err := NewRepo(mock).GetMetric(context.Background(), "SCH")
	require.NoError(t, err)
	assert.Equal(t, "Orthopedics", m.Specialty)
	require.NotNil(t, m.Domain)
	assert.Equal(t, "pediatric", *m.Domain)
	assert.Nil(t, m.QuestionCode)
	require.NotNil(t, m.ThresholdHours)
	assert.Equal(t, 19.0, *m.ThresholdHours)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoPG_GetMetricNotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT metric_id").WithArgs("NOPE").WillReturnError(pgx.ErrNoRows)

	_, err := NewRepo(mock).GetMetric(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoPG_ListSpecialties(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT id, name, display_order FROM specialty").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "display_order"}).
			AddRow("ortho", "Orthopedics", 1).
			AddRow("trauma", "Trauma", 2))

	list, err := NewRepo(mock).ListSpecialties(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, Specialty{ID: "ortho", Name: "Orthopedics", DisplayOrder: 1}, list[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoPG_ListMetricsGroupsBySpecialty(t *testing.T) {
	mock := newMock(t)
	none := (*string)(nil)
	noHours := (*float64)(nil)
	noTime := (*time.Time)(nil)
	mock.ExpectQuery("FROM metric").
		WithArgs("", "adult").
		WillReturnRows(pgxmock.NewRows(metricColumns).
			AddRow("HIP", "Hip Fracture", "Orthopedics", none, strPtr("adult"), none, noHours, none, noTime).
			AddRow("ED", "ED Length of Stay", "Emergency", none, strPtr("adult"), none, noHours, none, noTime))

	got, err := NewRepo(mock).ListMetrics(context.Background(), "", "adult")
	require.NoError(t, err)
	assert.Len(t, got["Orthopedics"], 1)
	assert.Len(t, got["Emergency"], 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoPG_ListSignalGroups(t *testing.T) {
	mock := newMock(t)
	none := (*string)(nil)
	mock.ExpectQuery("FROM signal_group g").
		WithArgs("SCH").
		WillReturnRows(pgxmock.NewRows([]string{"group_name", "display_order", "signal_id", "label", "definition", "rule", "tooltip", "family"}).
			AddRow("Core Timing", 1, strPtr("target_19h_met"), strPtr("On time"), strPtr(""), strPtr(""), strPtr(""), strPtr("timing")).
			AddRow("Core Timing", 1, strPtr("open_fracture"), strPtr("Open fracture"), strPtr(""), strPtr(""), strPtr(""), strPtr("")).
			AddRow("Empty", 5, none, none, none, none, none, none))

	groups, err := NewRepo(mock).ListSignalGroups(context.Background(), "SCH")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0].Signals, 2)
	assert.Equal(t, "Core Timing", groups[0].Signals[1].Group)
	assert.Equal(t, "timing", groups[0].Signals[0].Family)
	assert.NotNil(t, groups[1].Signals)
	assert.Empty(t, groups[1].Signals)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoPG_GetComplete(t *testing.T) {
	mock := newMock(t)
	none := (*string)(nil)
	cols := append(append([]string{}, metricColumns...), "display_config")

	mock.ExpectQuery("display_config FROM metric").
		WithArgs("SCH").
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			"SCH", "Supracondylar", "Orthopedics", none, none, none, (*float64)(nil), none, (*time.Time)(nil),
			[]byte(`{"groupOrder":["Core Timing"],"visibleGroups":{"Delay Drivers":false}}`)))
	mock.ExpectQuery("FROM signal_group g").
		WithArgs("SCH").
		WillReturnRows(pgxmock.NewRows([]string{"group_name", "display_order", "signal_id", "label", "definition", "rule", "tooltip", "family"}).
			AddRow("Core Timing", 1, strPtr("target_19h_met"), strPtr("On time"), strPtr(""), strPtr(""), strPtr(""), strPtr("")))
	mock.ExpectQuery("FROM followup").
		WithArgs("SCH").
		WillReturnRows(pgxmock.NewRows([]string{"followup_name", "followup_type", "depends_on", "label", "options"}).
			AddRow("delay", "boolean", "", "Was there a delay?", []string{}).
			AddRow("delay_reason", "select", "delay", "Reason", []string{"OR availability", "Transfer"}))
	mock.ExpectQuery("FROM prompt").
		WithArgs("SCH").
		WillReturnRows(pgxmock.NewRows([]string{"kind", "template", "version"}).
			AddRow("summary", "Summarize", "v2"))

	cfg, err := NewRepo(mock).GetComplete(context.Background(), "SCH")
	require.NoError(t, err)
	assert.Equal(t, []string{"Core Timing"}, cfg.DisplayItems.GroupOrder)
	assert.False(t, cfg.DisplayItems.VisibleGroups["Delay Drivers"])
	assert.Len(t, cfg.SignalGroups, 1)
	require.Len(t, cfg.Followups, 2)
	assert.Equal(t, "delay", cfg.Followups[1].DependsOn)
	assert.Equal(t, []string{"OR availability", "Transfer"}, cfg.Followups[1].Options)
	assert.Equal(t, "v2", cfg.Prompts[0].Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoPG_GetCompleteNotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("display_config FROM metric").WithArgs("NOPE").WillReturnError(pgx.ErrNoRows)

	_, err := NewRepo(mock).GetComplete(context.Background(), "NOPE")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoPG_Save(t *testing.T) {
	mock := newMock(t)
	cfg := &CompleteConfig{
		Metric: Metric{MetricID: "SCH", MetricName: "Supracondylar", Specialty: "Orthopedics"},
		SignalGroups: []signal.SignalGroup{{
			GroupName: "Core Timing", DisplayOrder: 1,
			Signals: []signal.Signal{{ID: "target_19h_met"}, {ID: "open_fracture"}},
		}},
		Followups:    []followup.Followup{{FollowupName: "delay", FollowupType: "boolean"}},
		DisplayItems: grouping.DisplayConfig{GroupOrder: []string{"Core Timing"}},
		Prompts:      []Prompt{{Kind: PromptSummary, Template: "t"}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO metric").
		WithArgs(append([]interface{}{"SCH", "Supracondylar", "Orthopedics"}, anyArgs(6)...)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	for _, table := range []string{"signal_group", "followup", "prompt"} {
		mock.ExpectExec("DELETE FROM " + table).WithArgs("SCH").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	}
	mock.ExpectExec("INSERT INTO signal_group").
		WithArgs(pgxmock.AnyArg(), "SCH", "Core Timing", 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	for pos, id := range []string{"target_19h_met", "open_fracture"} {
		mock.ExpectExec("INSERT INTO signal_def").
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), id, "", "", "", "", "", pos).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectExec("INSERT INTO followup").
		WithArgs(pgxmock.AnyArg(), "SCH", "delay", "boolean", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO prompt").
		WithArgs(pgxmock.AnyArg(), "SCH", PromptSummary, "t", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, NewRepo(mock).Save(context.Background(), cfg))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoPG_SaveRollsBackOnError(t *testing.T) {
	mock := newMock(t)
	cfg := &CompleteConfig{Metric: Metric{MetricID: "SCH"}}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO metric").
		WithArgs(append([]interface{}{"SCH"}, anyArgs(8)...)...).
		WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	err := NewRepo(mock).Save(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save metric SCH")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func anyArgs(n int) []interface{} {
	out := make([]interface{}, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}
