package http

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/c360/healthgraph/codec"
	"github.com/c360/healthgraph/errors"
	"github.com/c360/healthgraph/graph"
	"github.com/c360/healthgraph/health"
	"github.com/c360/healthgraph/ingest"
	"github.com/c360/healthgraph/message"
	"github.com/c360/healthgraph/metric"
)

const maxSampleLimit = 500

type ingestResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type healthResponse struct {
	Status     health.Status               `json:"status"`
	Throughput health.ThroughputAssessment `json:"throughput"`
}

type statsResponse struct {
	Pipeline   metric.Snapshot   `json:"pipeline"`
	Graph      *graph.Statistics `json:"graph,omitempty"`
	GraphError string            `json:"graph_error,omitempty"`
}

type sampleResponse struct {
	Edges []graph.SampleEdge `json:"edges"`
	Count int                `json:"count"`
}

// handleWebhook ingests one push delivery. The body is either a wrapped
// envelope with base64 data or the bare record payload.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	msg, err := message.DecodePush(body)
	if err != nil {
		s.logger.Warn("Webhook body rejected", "error", err)
		s.writeError(w, http.StatusBadRequest, "invalid push envelope")
		s.requestsFailed.Add(1)
		return
	}

	s.processDelivery(w, r, msg)
}

// handleProcess ingests a bare record payload without envelope handling.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	s.processDelivery(w, r, message.New(body, message.TransportPush))
}

// processDelivery runs the delivery through the coordinator and maps
// its outcome onto the push status contract: permanent results answer
// 200 so the sender stops retrying, transient failures answer 503 so
// it retries.
func (s *Server) processDelivery(w http.ResponseWriter, r *http.Request, msg *message.Message) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.Timeout())
	defer cancel()

	outcome, err := s.coordinator.ProcessOne(ctx, msg)

	switch outcome {
	case ingest.OutcomeProcessed:
		s.writeJSON(w, http.StatusOK, ingestResponse{
			Status:    "processed",
			MessageID: msg.ID(),
		})
		s.requestsSuccess.Add(1)

	case ingest.OutcomeRejected:
		s.writeJSON(w, http.StatusOK, ingestResponse{
			Status:    "rejected",
			MessageID: msg.ID(),
			Reason:    reasonFor(err),
		})
		s.requestsFailed.Add(1)

	case ingest.OutcomeRetry:
		s.writeJSON(w, http.StatusServiceUnavailable, ingestResponse{
			Status:    "retry",
			MessageID: msg.ID(),
			Reason:    reasonFor(err),
		})
		s.requestsFailed.Add(1)

	default:
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		s.requestsFailed.Add(1)
	}
}

// handleHealth aggregates component health, checks store connectivity
// and grades current throughput. Unhealthy aggregates answer 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.Timeout())
	defer cancel()

	statuses := make([]health.Status, 0, len(s.healthSources)+1)
	for _, source := range s.healthSources {
		statuses = append(statuses, source())
	}

	if err := s.engine.Ping(ctx); err != nil {
		statuses = append(statuses, health.FromError("graph-store", err))
	} else {
		statuses = append(statuses, health.NewHealthy("graph-store", "store reachable"))
	}

	overall := health.Aggregate("healthgraph", statuses)
	snap := s.reporter.Snapshot()

	code := http.StatusOK
	if overall.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, healthResponse{
		Status:     overall,
		Throughput: health.AssessThroughput(snap.ThroughputPerSec),
	})
	s.requestsSuccess.Add(1)
}

// handleStats returns the pipeline snapshot plus graph statistics. A
// failing store degrades the response rather than failing it.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.Timeout())
	defer cancel()

	resp := statsResponse{Pipeline: s.reporter.Snapshot()}

	stats, err := s.engine.Statistics(ctx)
	if err != nil {
		s.logger.Warn("Graph statistics unavailable", "error", err)
		resp.GraphError = reasonFor(err)
	} else {
		resp.Graph = &stats
	}

	s.writeJSON(w, http.StatusOK, resp)
	s.requestsSuccess.Add(1)
}

// handleGraphSample returns up to limit edges for quick inspection.
func (s *Server) handleGraphSample(w http.ResponseWriter, r *http.Request) {
	limit := 25
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			s.requestsFailed.Add(1)
			return
		}
		limit = parsed
	}
	if limit > maxSampleLimit {
		limit = maxSampleLimit
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.Timeout())
	defer cancel()

	edges, err := s.engine.SampleGraph(ctx, limit)
	if err != nil {
		s.writeError(w, s.mapErrorToHTTPStatus(err), reasonFor(err))
		s.requestsFailed.Add(1)
		return
	}

	s.writeJSON(w, http.StatusOK, sampleResponse{Edges: edges, Count: len(edges)})
	s.requestsSuccess.Add(1)
}

// reasonFor converts a processing error into a client-safe reason.
// Parse errors are produced locally and name the offending field, so
// producers can fix payloads; everything else collapses to categories
// that expose no internals.
func reasonFor(err error) string {
	if err == nil {
		return ""
	}

	var parseErr *codec.ParseError
	if stderrors.As(err, &parseErr) {
		return parseErr.Error()
	}

	switch {
	case stderrors.Is(err, errors.ErrEndpointUnresolvable):
		return "relationship endpoint could not be resolved"
	case stderrors.Is(err, errors.ErrConstraintViolated):
		return "record conflicts with a graph constraint"
	case stderrors.Is(err, errors.ErrMaxRetriesExceeded):
		return "delivery retries exhausted"
	case errors.IsInvalid(err):
		return "invalid record"
	case errors.IsTransient(err):
		if strings.Contains(err.Error(), "timeout") {
			return "request timeout"
		}
		return "service temporarily unavailable"
	}

	return "internal error"
}
