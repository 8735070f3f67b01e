package graph

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	pkgerrors "github.com/c360/healthgraph/errors"
	"github.com/c360/healthgraph/metric"
	"github.com/c360/healthgraph/types/healthcare"
)

// defaultQueryTimeout bounds every store round trip so a hung store
// surfaces as a transient failure instead of a stuck worker.
const defaultQueryTimeout = 10 * time.Second

// Engine applies parsed records to the graph store with idempotent
// merge semantics. Nodes merge on (label, id); relationships merge on
// (from, to, type) and create missing endpoint nodes so deliveries
// converge regardless of arrival order. The engine holds no locks;
// uniqueness under concurrent upserts of the same key is the store's
// constraint job.
type Engine struct {
	store        Store
	logger       *slog.Logger
	metrics      *metric.Metrics
	queryTimeout time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics mirrors upsert and query activity into the core metrics.
func WithMetrics(metrics *metric.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// WithQueryTimeout overrides the per-query timeout.
func WithQueryTimeout(timeout time.Duration) EngineOption {
	return func(e *Engine) {
		if timeout > 0 {
			e.queryTimeout = timeout
		}
	}
}

// NewEngine creates an Engine over the given store.
func NewEngine(store Store, opts ...EngineOption) *Engine {
	engine := &Engine{
		store:        store,
		logger:       slog.Default(),
		queryTimeout: defaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// ApplyResult counts what one record wrote. For a node record the
// relationships are the ones derived from its foreign-key fields.
type ApplyResult struct {
	Kind          string `json:"kind"`
	Key           string `json:"key"`
	Nodes         int    `json:"nodes"`
	Relationships int    `json:"relationships"`
}

// Apply routes a parsed record to the matching upsert. Node records
// also write their derived relationships, endpoints first.
func (e *Engine) Apply(ctx context.Context, record healthcare.Record) (ApplyResult, error) {
	switch rec := record.(type) {
	case healthcare.NodeRecord:
		return e.applyNode(ctx, rec)
	case healthcare.RelationshipRecord:
		result := ApplyResult{Kind: rec.RecordKind(), Key: relationshipKey(rec)}
		if err := e.UpsertRelationship(ctx, rec); err != nil {
			return result, err
		}
		result.Relationships = 1
		return result, nil
	default:
		return ApplyResult{}, pkgerrors.WrapInvalid(pkgerrors.ErrInvalidData, "Engine", "Apply",
			fmt.Sprintf("unsupported record type %T", record))
	}
}

func (e *Engine) applyNode(ctx context.Context, rec healthcare.NodeRecord) (ApplyResult, error) {
	result := ApplyResult{Kind: rec.RecordKind(), Key: rec.Key}

	if err := e.UpsertNode(ctx, rec); err != nil {
		return result, err
	}
	result.Nodes = 1

	for _, rel := range rec.DerivedRelationships() {
		if err := e.UpsertRelationship(ctx, rel); err != nil {
			return result, err
		}
		result.Relationships++
	}
	return result, nil
}

// UpsertNode merges one node by (label, id) and overwrites the
// supplied attributes, last write wins per property. A create stamps
// created_at, a match stamps updated_at. Foreign-key refs are not
// written; they only derive relationships.
func (e *Engine) UpsertNode(ctx context.Context, node healthcare.NodeRecord) error {
	if err := node.Validate(); err != nil {
		return pkgerrors.WrapInvalid(err, "Engine", "UpsertNode", "validate node record")
	}

	// Label comes from the closed kind set, never from input.
	query := fmt.Sprintf(
		"MERGE (n:%s {id: $key})\nON CREATE SET n += $props, n.created_at = $ts\nON MATCH SET n += $props, n.updated_at = $ts\nRETURN n.id AS id",
		node.Kind.Label())
	params := map[string]any{
		"key":   node.Key,
		"props": nodeProps(node),
		"ts":    time.Now().UTC().Format(time.RFC3339),
	}

	if _, err := e.run(ctx, query, params); err != nil {
		return e.storeError(err, "UpsertNode", string(node.Kind), node.Key)
	}

	if e.metrics != nil {
		e.metrics.RecordNodeUpserted(string(node.Kind))
	}
	e.logger.Debug("node upserted", "kind", node.Kind, "key", node.Key)
	return nil
}

// UpsertRelationship merges one edge by (from, to, type), creating
// missing endpoint nodes first so the edge never lacks an endpoint and
// out-of-order delivery converges. Attributes merge last write wins.
func (e *Engine) UpsertRelationship(ctx context.Context, rel healthcare.RelationshipRecord) error {
	if !rel.Type.IsValid() {
		return pkgerrors.WrapInvalid(pkgerrors.ErrInvalidData, "Engine", "UpsertRelationship",
			fmt.Sprintf("invalid relationship type %q", rel.Type))
	}
	if err := rel.Validate(); err != nil {
		uerr := &UpsertError{
			Reason: ReasonEndpointUnresolvable,
			Kind:   string(rel.Type),
			Key:    relationshipKey(rel),
			Err:    err,
		}
		return pkgerrors.WrapInvalid(uerr, "Engine", "UpsertRelationship", "resolve endpoints")
	}

	// Labels and type come from closed sets, never from input.
	query := fmt.Sprintf(
		"MERGE (from:%s {id: $fromKey})\nMERGE (to:%s {id: $toKey})\nMERGE (from)-[r:%s]->(to)\nSET r += $props\nRETURN from.id AS fromKey, to.id AS toKey",
		rel.From.Kind.Label(), rel.To.Kind.Label(), rel.Type)
	params := map[string]any{
		"fromKey": rel.From.Key,
		"toKey":   rel.To.Key,
		"props":   relationshipProps(rel),
	}

	if _, err := e.run(ctx, query, params); err != nil {
		return e.storeError(err, "UpsertRelationship", string(rel.Type), relationshipKey(rel))
	}

	e.logger.Debug("relationship upserted",
		"type", rel.Type,
		"from", rel.From.Key,
		"to", rel.To.Key)
	return nil
}

// EnsureConstraints creates the unique-id constraint for every node
// kind. The constraints are what make concurrent merges of the same
// key collapse to one node.
func (e *Engine) EnsureConstraints(ctx context.Context) error {
	for _, kind := range healthcare.AllNodeKinds() {
		query := fmt.Sprintf(
			"CREATE CONSTRAINT %s_id_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE",
			kind, kind.Label())
		if _, err := e.run(ctx, query, nil); err != nil {
			return e.storeError(err, "EnsureConstraints", string(kind), "")
		}
	}
	e.logger.Info("graph constraints ensured", "kinds", len(healthcare.AllNodeKinds()))
	return nil
}

// Statistics summarizes what the graph currently holds.
type Statistics struct {
	Nodes              map[string]int64 `json:"nodes"`
	Relationships      map[string]int64 `json:"relationships"`
	TotalNodes         int64            `json:"total_nodes"`
	TotalRelationships int64            `json:"total_relationships"`
}

// Statistics counts nodes by label and relationships by type.
func (e *Engine) Statistics(ctx context.Context) (Statistics, error) {
	stats := Statistics{
		Nodes:         make(map[string]int64),
		Relationships: make(map[string]int64),
	}

	nodeRows, err := e.run(ctx, "MATCH (n) RETURN labels(n)[0] AS label, count(n) AS count", nil)
	if err != nil {
		return stats, e.storeError(err, "Statistics", "nodes", "")
	}
	for _, row := range nodeRows {
		label, _ := row["label"].(string)
		if label == "" {
			continue
		}
		count := toInt64(row["count"])
		stats.Nodes[label] = count
		stats.TotalNodes += count
	}

	relRows, err := e.run(ctx, "MATCH ()-[r]->() RETURN type(r) AS type, count(r) AS count", nil)
	if err != nil {
		return stats, e.storeError(err, "Statistics", "relationships", "")
	}
	for _, row := range relRows {
		relType, _ := row["type"].(string)
		if relType == "" {
			continue
		}
		count := toInt64(row["count"])
		stats.Relationships[relType] = count
		stats.TotalRelationships += count
	}

	return stats, nil
}

// SampleEdge is one edge from a graph sample.
type SampleEdge struct {
	FromLabel string `json:"from_label"`
	FromKey   string `json:"from_key"`
	Type      string `json:"type"`
	ToLabel   string `json:"to_label"`
	ToKey     string `json:"to_key"`
}

// SampleGraph returns up to limit edges for quick inspection.
func (e *Engine) SampleGraph(ctx context.Context, limit int) ([]SampleEdge, error) {
	if limit <= 0 {
		limit = 25
	}

	rows, err := e.run(ctx,
		"MATCH (a)-[r]->(b)\nRETURN labels(a)[0] AS fromLabel, a.id AS fromKey, type(r) AS relType, labels(b)[0] AS toLabel, b.id AS toKey\nLIMIT $limit",
		map[string]any{"limit": limit})
	if err != nil {
		return nil, e.storeError(err, "SampleGraph", "sample", "")
	}

	edges := make([]SampleEdge, 0, len(rows))
	for _, row := range rows {
		edge := SampleEdge{}
		edge.FromLabel, _ = row["fromLabel"].(string)
		edge.FromKey, _ = row["fromKey"].(string)
		edge.Type, _ = row["relType"].(string)
		edge.ToLabel, _ = row["toLabel"].(string)
		edge.ToKey, _ = row["toKey"].(string)
		edges = append(edges, edge)
	}
	return edges, nil
}

// Ping verifies store connectivity and updates the connectivity gauge.
func (e *Engine) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	err := e.store.VerifyConnectivity(ctx)
	if e.metrics != nil {
		e.metrics.RecordStoreConnected(err == nil)
	}
	return err
}

// run executes one query under the engine's timeout and times it.
func (e *Engine) run(ctx context.Context, query string, params map[string]any) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	start := time.Now()
	rows, err := e.store.Run(ctx, query, params)
	if e.metrics != nil {
		e.metrics.RecordStoreQueryDuration(time.Since(start))
	}

	if err != nil && stderrors.Is(err, context.DeadlineExceeded) {
		return nil, pkgerrors.WrapTransient(pkgerrors.ErrConnectionTimeout,
			"Engine", "run", "store query timed out")
	}
	return rows, err
}

// storeError classifies a failed store call. Constraint rejections are
// permanent; everything else is assumed reachable-again later.
func (e *Engine) storeError(err error, operation, kind, key string) error {
	reason := ReasonStoreUnavailable
	if stderrors.Is(err, pkgerrors.ErrConstraintViolated) || pkgerrors.IsInvalid(err) {
		reason = ReasonConstraintViolation
	}

	uerr := &UpsertError{Reason: reason, Kind: kind, Key: key, Err: err}
	if reason == ReasonConstraintViolation {
		return pkgerrors.WrapInvalid(uerr, "Engine", operation, "apply merge")
	}
	return pkgerrors.WrapTransient(uerr, "Engine", operation, "apply merge")
}

// nodeProps copies the writable properties for a node merge. Refs stay
// out; they derive relationships instead of becoming properties.
func nodeProps(node healthcare.NodeRecord) map[string]any {
	props := make(map[string]any, len(node.Attributes))
	for name, value := range node.Attributes {
		props[name] = value
	}
	return props
}

func relationshipProps(rel healthcare.RelationshipRecord) map[string]any {
	props := make(map[string]any, len(rel.Attributes))
	for name, value := range rel.Attributes {
		props[name] = value
	}
	return props
}

func relationshipKey(rel healthcare.RelationshipRecord) string {
	return rel.From.Key + "->" + rel.To.Key
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
