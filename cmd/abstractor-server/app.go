package main

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/abstractor/internal/config"
	"github.com/ehr/abstractor/internal/domain/canonical"
	"github.com/ehr/abstractor/internal/domain/evaluation"
	"github.com/ehr/abstractor/internal/domain/metricconfig"
	"github.com/ehr/abstractor/internal/domain/narrative"
	"github.com/ehr/abstractor/internal/domain/provenance"
	"github.com/ehr/abstractor/internal/domain/signal"
	"github.com/ehr/abstractor/internal/domain/timerule"
	"github.com/ehr/abstractor/internal/platform/auth"
	"github.com/ehr/abstractor/internal/platform/middleware"
)

const narrativeRoute = "/api/v1/metrics/:id/narrative"

// app holds the evaluation engine shared by the server and the offline
// commands.
type app struct {
	agg        *metricconfig.Aggregator
	repo       metricconfig.Repository
	evaluation *evaluation.Service
	narrative  *narrative.Service
	provenance *provenance.Log
	rules      *signal.RuleEngine
}

// newApp builds the engine over src. repo is optional and enables the
// import endpoint. gen may be nil.
func newApp(cfg *config.Config, src metricconfig.Source, repo metricconfig.Repository, gen narrative.Generator, logger zerolog.Logger) (*app, error) {
	rules, err := timerule.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	canon, err := canonical.Load(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	engine, err := signal.NewRuleEngine()
	if err != nil {
		return nil, fmt.Errorf("init rule engine: %w", err)
	}

	prov := provenance.NewLog(cfg.ProvenanceBuffer, logger)
	timing := timerule.NewResolver(rules, nil)
	ev := signal.NewEvaluator(nil,
		signal.WithTiming(timing),
		signal.WithRules(engine),
		signal.WithIDMapper(canon),
		signal.WithObserver(prov),
	)

	agg := metricconfig.NewAggregator(src)
	evalSvc := evaluation.NewService(agg, ev, timing, canon, prov)
	return &app{
		agg:        agg,
		repo:       repo,
		evaluation: evalSvc,
		narrative:  narrative.NewService(agg, evalSvc, gen),
		provenance: prov,
		rules:      engine,
	}, nil
}

// router assembles the HTTP surface. health serves /health.
func (a *app) router(cfg *config.Config, logger zerolog.Logger, health echo.HandlerFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	e.GET("/health", health)

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}
	// logged after auth so the line carries the user
	apiV1.Use(middleware.Logger(logger))
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	apiV1.Use(middleware.RequestTimeout(30*time.Second, narrativeRoute))

	metricconfig.NewHandler(a.agg, a.repo).RegisterRoutes(apiV1)
	evaluation.NewHandler(a.evaluation).RegisterRoutes(apiV1)
	narrative.NewHandler(a.narrative).RegisterRoutes(apiV1)
	provenance.NewHandler(a.provenance).RegisterRoutes(apiV1)
	return e
}

// checkRules compiles every configured rule expression and reports the
// ones that fail. Failing signals still evaluate through their family.
func (a *app) checkRules(ctx context.Context) []string {
	var problems []string
	bySpecialty, err := a.agg.Source().ListMetrics(ctx, "", "")
	if err != nil {
		return []string{fmt.Sprintf("list metrics: %v", err)}
	}
	var ids []string
	for _, list := range bySpecialty {
		for _, m := range list {
			ids = append(ids, m.MetricID)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		groups, err := a.agg.Source().ListSignalGroups(ctx, id)
		if err != nil {
			problems = append(problems, fmt.Sprintf("metric %s: %v", id, err))
			continue
		}
		for _, s := range signal.Flatten(groups) {
			if s.Rule == "" {
				continue
			}
			if _, err := a.rules.Compile(s.Rule); err != nil {
				problems = append(problems, fmt.Sprintf("metric %s signal %s: %v", id, s.ID, err))
			}
		}
	}
	return problems
}
