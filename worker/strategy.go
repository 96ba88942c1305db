package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/reportstack/report-manager/pkg/logger"
	"github.com/reportstack/report-manager/pkg/report"
)

// GenerationContext carries everything a strategy needs to produce a
// report artifact.
type GenerationContext struct {
	RequestID   string
	ReportType  report.Type
	RequestedBy string
	Parameters  string
	RequestedAt string
}

// Strategy produces an archive reference for one report type.
type Strategy interface {
	Generate(ctx context.Context, gen GenerationContext) (string, error)
}

// archivePayload is the type-tagged document sent to the archive backend.
type archivePayload struct {
	ReportType report.Type     `json:"reportType"`
	RequestID  string          `json:"requestId"`
	Parameters json.RawMessage `json:"parameters"`
}

type archiveStrategy struct {
	reportType report.Type
	archiver   Archiver
}

func (s *archiveStrategy) Generate(ctx context.Context, gen GenerationContext) (string, error) {
	timer := prometheus.NewTimer(reportGenerationDuration.WithLabelValues(string(s.reportType)))
	defer timer.ObserveDuration()

	params := gen.Parameters
	if strings.TrimSpace(params) == "" {
		params = "{}"
	}
	payload, err := json.Marshal(archivePayload{
		ReportType: s.reportType,
		RequestID:  gen.RequestID,
		Parameters: json.RawMessage(params),
	})
	if err != nil {
		return "", fmt.Errorf("build archive payload: %w", err)
	}

	ref, err := s.archiver.Archive(ctx, gen.RequestID, payload)
	if err != nil {
		return "", err
	}

	logger.WithContext(ctx).Info("report generated", "report_type", string(s.reportType))
	return ref, nil
}

// StrategyRegistry maps every report type to its handler. The mapping is
// total over the closed enumeration; a gap is a configuration error that
// fails wiring at startup, not a per-request error.
type StrategyRegistry struct {
	strategies map[report.Type]Strategy
}

func NewStrategyRegistry(archiver Archiver) (*StrategyRegistry, error) {
	return newStrategyRegistry(map[report.Type]Strategy{
		report.TypePerformance:        &archiveStrategy{reportType: report.TypePerformance, archiver: archiver},
		report.TypeBenchmarkSummary:   &archiveStrategy{reportType: report.TypeBenchmarkSummary, archiver: archiver},
		report.TypeDiversificationBar: &archiveStrategy{reportType: report.TypeDiversificationBar, archiver: archiver},
		report.TypeAssetAllocation:    &archiveStrategy{reportType: report.TypeAssetAllocation, archiver: archiver},
	})
}

func newStrategyRegistry(strategies map[report.Type]Strategy) (*StrategyRegistry, error) {
	r := &StrategyRegistry{strategies: strategies}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *StrategyRegistry) validate() error {
	for _, t := range report.Types() {
		if _, ok := r.strategies[t]; !ok {
			return fmt.Errorf("no strategy registered for report type %s", t)
		}
	}
	return nil
}

func (r *StrategyRegistry) Resolve(reportType report.Type) (Strategy, error) {
	s, ok := r.strategies[reportType]
	if !ok {
		return nil, fmt.Errorf("no strategy registered for report type %s", reportType)
	}
	return s, nil
}
