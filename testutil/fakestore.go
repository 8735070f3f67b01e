// Package testutil provides test doubles and canned payloads for the
// healthgraph pipeline, most importantly an in-memory graph store that
// honors the engine's merge semantics.
package testutil

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/c360/healthgraph/graph"
)

// Query shapes the engine issues. The fake dispatches on these rather
// than parsing Cypher.
var (
	nodeMergeRe        = regexp.MustCompile(`^MERGE \(n:(\w+) \{id: \$key\}\)\nON CREATE SET n \+= \$props, n\.created_at = \$ts\nON MATCH SET n \+= \$props, n\.updated_at = \$ts`)
	relationshipRe     = regexp.MustCompile(`^MERGE \(from:(\w+) \{id: \$fromKey\}\)\nMERGE \(to:(\w+) \{id: \$toKey\}\)\nMERGE \(from\)-\[r:(\w+)\]->\(to\)`)
	createConstraintRe = regexp.MustCompile(`^CREATE CONSTRAINT (\w+) IF NOT EXISTS`)
)

type fakeRelationship struct {
	fromLabel string
	fromKey   string
	relType   string
	toLabel   string
	toKey     string
	props     map[string]any
}

// FakeStore is an in-memory graph.Store. Merges are idempotent the
// way the real store's constraints make them: nodes collapse on
// (label, id), relationships on (from, to, type). All methods are safe
// for concurrent use.
type FakeStore struct {
	mu          sync.Mutex
	nodes       map[string]map[string]map[string]any // label -> key -> props
	rels        map[string]*fakeRelationship         // fromKey|type|toKey
	constraints []string

	runErr   error
	failNext int
	connErr  error
	runCount int
}

// NewFakeStore creates an empty fake store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		nodes: make(map[string]map[string]map[string]any),
		rels:  make(map[string]*fakeRelationship),
	}
}

// SetRunError makes every Run call fail with err until cleared with
// nil. Use a classified error to exercise the engine's mapping.
func (s *FakeStore) SetRunError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runErr = err
}

// FailNext makes only the next n Run calls fail with err.
func (s *FakeStore) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
	s.runErr = err
}

// SetConnectivityError controls VerifyConnectivity.
func (s *FakeStore) SetConnectivityError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connErr = err
}

// Run implements graph.Store. Expired contexts fail the way a driver
// round trip would.
func (s *FakeStore) Run(ctx context.Context, query string, params map[string]any) ([]graph.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runCount++
	if s.runErr != nil {
		err := s.runErr
		if s.failNext > 0 {
			s.failNext--
			if s.failNext == 0 {
				s.runErr = nil
			}
		}
		return nil, err
	}

	switch {
	case nodeMergeRe.MatchString(query):
		return s.mergeNode(query, params)
	case relationshipRe.MatchString(query):
		return s.mergeRelationship(query, params)
	case createConstraintRe.MatchString(query):
		s.constraints = append(s.constraints, createConstraintRe.FindStringSubmatch(query)[1])
		return nil, nil
	case strings.HasPrefix(query, "MATCH (n) RETURN labels(n)[0]"):
		return s.countNodes(), nil
	case strings.HasPrefix(query, "MATCH ()-[r]->()"):
		return s.countRelationships(), nil
	case strings.HasPrefix(query, "MATCH (a)-[r]->(b)"):
		return s.sample(params), nil
	default:
		return nil, fmt.Errorf("fakestore: unrecognized query: %s", query)
	}
}

// VerifyConnectivity implements graph.Store.
func (s *FakeStore) VerifyConnectivity(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connErr
}

func (s *FakeStore) mergeNode(query string, params map[string]any) ([]graph.Row, error) {
	label := nodeMergeRe.FindStringSubmatch(query)[1]
	key, _ := params["key"].(string)
	if key == "" {
		return nil, fmt.Errorf("fakestore: node merge without key")
	}

	_, existed := s.nodes[label][key]
	props, _ := params["props"].(map[string]any)
	s.upsertNodeLocked(label, key, props)

	// ON CREATE stamps created_at, ON MATCH stamps updated_at.
	if ts, ok := params["ts"].(string); ok && ts != "" {
		node := s.nodes[label][key]
		if existed {
			node["updated_at"] = ts
		} else {
			node["created_at"] = ts
		}
	}
	return []graph.Row{{"id": key}}, nil
}

func (s *FakeStore) upsertNodeLocked(label, key string, props map[string]any) {
	byKey, ok := s.nodes[label]
	if !ok {
		byKey = make(map[string]map[string]any)
		s.nodes[label] = byKey
	}
	node, ok := byKey[key]
	if !ok {
		node = map[string]any{"id": key}
		byKey[key] = node
	}
	for name, value := range props {
		node[name] = value
	}
}

func (s *FakeStore) mergeRelationship(query string, params map[string]any) ([]graph.Row, error) {
	m := relationshipRe.FindStringSubmatch(query)
	fromLabel, toLabel, relType := m[1], m[2], m[3]

	fromKey, _ := params["fromKey"].(string)
	toKey, _ := params["toKey"].(string)
	if fromKey == "" || toKey == "" {
		return nil, fmt.Errorf("fakestore: relationship merge without endpoint keys")
	}

	// MERGE creates missing endpoints with just their key.
	s.upsertNodeLocked(fromLabel, fromKey, nil)
	s.upsertNodeLocked(toLabel, toKey, nil)

	id := fromKey + "|" + relType + "|" + toKey
	rel, ok := s.rels[id]
	if !ok {
		rel = &fakeRelationship{
			fromLabel: fromLabel,
			fromKey:   fromKey,
			relType:   relType,
			toLabel:   toLabel,
			toKey:     toKey,
			props:     make(map[string]any),
		}
		s.rels[id] = rel
	}
	props, _ := params["props"].(map[string]any)
	for name, value := range props {
		rel.props[name] = value
	}

	return []graph.Row{{"fromKey": fromKey, "toKey": toKey}}, nil
}

func (s *FakeStore) countNodes() []graph.Row {
	labels := make([]string, 0, len(s.nodes))
	for label := range s.nodes {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	rows := make([]graph.Row, 0, len(labels))
	for _, label := range labels {
		rows = append(rows, graph.Row{"label": label, "count": int64(len(s.nodes[label]))})
	}
	return rows
}

func (s *FakeStore) countRelationships() []graph.Row {
	counts := make(map[string]int64)
	for _, rel := range s.rels {
		counts[rel.relType]++
	}

	types := make([]string, 0, len(counts))
	for relType := range counts {
		types = append(types, relType)
	}
	sort.Strings(types)

	rows := make([]graph.Row, 0, len(types))
	for _, relType := range types {
		rows = append(rows, graph.Row{"type": relType, "count": counts[relType]})
	}
	return rows
}

func (s *FakeStore) sample(params map[string]any) []graph.Row {
	limit := len(s.rels)
	if l, ok := params["limit"].(int); ok && l > 0 {
		limit = l
	}

	ids := make([]string, 0, len(s.rels))
	for id := range s.rels {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]graph.Row, 0, limit)
	for _, id := range ids {
		if len(rows) >= limit {
			break
		}
		rel := s.rels[id]
		rows = append(rows, graph.Row{
			"fromLabel": rel.fromLabel,
			"fromKey":   rel.fromKey,
			"relType":   rel.relType,
			"toLabel":   rel.toLabel,
			"toKey":     rel.toKey,
		})
	}
	return rows
}

// NodeCount returns the number of nodes with the given label.
func (s *FakeStore) NodeCount(label string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes[label])
}

// TotalNodes returns the number of nodes across all labels.
func (s *FakeStore) TotalNodes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, byKey := range s.nodes {
		total += len(byKey)
	}
	return total
}

// Node returns a copy of a node's properties.
func (s *FakeStore) Node(label, key string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[label][key]
	if !ok {
		return nil, false
	}
	props := make(map[string]any, len(node))
	for name, value := range node {
		props[name] = value
	}
	return props, true
}

// RelationshipCount returns the total number of edges.
func (s *FakeStore) RelationshipCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rels)
}

// HasRelationship reports whether the edge exists.
func (s *FakeStore) HasRelationship(fromKey, relType, toKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rels[fromKey+"|"+relType+"|"+toKey]
	return ok
}

// Relationship returns a copy of an edge's properties.
func (s *FakeStore) Relationship(fromKey, relType, toKey string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, ok := s.rels[fromKey+"|"+relType+"|"+toKey]
	if !ok {
		return nil, false
	}
	props := make(map[string]any, len(rel.props))
	for name, value := range rel.props {
		props[name] = value
	}
	return props, true
}

// Constraints returns the names of constraints created so far.
func (s *FakeStore) Constraints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.constraints))
	copy(out, s.constraints)
	return out
}

// RunCount returns how many Run calls the store has seen.
func (s *FakeStore) RunCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCount
}

// Reset clears all graph state, keeping injected errors.
func (s *FakeStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[string]map[string]map[string]any)
	s.rels = make(map[string]*fakeRelationship)
	s.constraints = nil
	s.runCount = 0
}
