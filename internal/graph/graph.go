// Package graph exports team runs to Neo4j so dependency graphs can be
// inspected and queried after the fact.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/nidhogg/nora/internal/orchestrator"
)

// Store writes run graphs to Neo4j.
type Store struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewStore creates a Neo4j-backed run graph store.
func NewStore(uri, user, password string, logger *zap.Logger) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Store{driver: driver, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Ping verifies the Neo4j connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// EnsureSchema creates the uniqueness constraint on run ids.
func (s *Store) EnsureSchema(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`CREATE CONSTRAINT run_id IF NOT EXISTS FOR (r:Run) REQUIRE r.id IS UNIQUE`, nil)
	return err
}

// RecordRun writes (:Run)-[:EXECUTED]->(:Task) for every task and
// (:Task)-[:DEPENDS_ON]->(:Task) for every dependency within the run.
// It satisfies orchestrator.Recorder.
func (s *Store) RecordRun(ctx context.Context, report *orchestrator.RunReport) error {
	tasks := make([]map[string]any, 0, len(report.Tasks))
	var deps []map[string]any
	for _, t := range report.Tasks {
		row := map[string]any{
			"name":   t.Name,
			"model":  t.Model,
			"status": string(t.Status),
			"ran":    false,
			"ok":     false,
			"error":  "",
		}
		if out, ok := report.Results[t.Name]; ok {
			row["ran"] = true
			row["ok"] = out.Success
			row["error"] = out.Error
		}
		tasks = append(tasks, row)
		for _, d := range t.DependsOn {
			deps = append(deps, map[string]any{"from": t.Name, "to": d})
		}
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx,
			`MERGE (r:Run {id: $id})
			 SET r.team = $team, r.mode = $mode, r.success = $success,
			     r.deadlock = $deadlock, r.started = $started,
			     r.duration_ms = $duration`,
			map[string]any{
				"id":       report.ID,
				"team":     report.Team,
				"mode":     string(report.Mode),
				"success":  report.Succeeded(),
				"deadlock": report.Deadlock,
				"started":  report.Started,
				"duration": report.Duration.Milliseconds(),
			}); err != nil {
			return nil, err
		}
		if _, err := tx.Run(ctx,
			`MATCH (r:Run {id: $id})
			 UNWIND $tasks AS t
			 MERGE (r)-[:EXECUTED]->(n:Task {run_id: $id, name: t.name})
			 SET n.model = t.model, n.status = t.status, n.ran = t.ran,
			     n.success = t.ok, n.error = t.error`,
			map[string]any{"id": report.ID, "tasks": tasks}); err != nil {
			return nil, err
		}
		if len(deps) == 0 {
			return nil, nil
		}
		_, err := tx.Run(ctx,
			`UNWIND $deps AS d
			 MATCH (a:Task {run_id: $id, name: d.from}), (b:Task {run_id: $id, name: d.to})
			 MERGE (a)-[:DEPENDS_ON]->(b)`,
			map[string]any{"id": report.ID, "deps": deps})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("record run graph %s: %w", report.ID, err)
	}
	s.logger.Debug("run graph recorded",
		zap.String("run_id", report.ID),
		zap.Int("tasks", len(tasks)),
		zap.Int("edges", len(deps)))
	return nil
}

// TaskNode is a task as stored in the graph.
type TaskNode struct {
	Name      string   `json:"name"`
	Ran       bool     `json:"ran"`
	Success   bool     `json:"success"`
	DependsOn []string `json:"depends_on"`
}

// RunTasks returns the tasks of a run with their outgoing dependency edges,
// ordered by name.
func (s *Store) RunTasks(ctx context.Context, runID string) ([]TaskNode, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (:Run {id: $id})-[:EXECUTED]->(t:Task)
		 OPTIONAL MATCH (t)-[:DEPENDS_ON]->(d:Task)
		 WITH t, d ORDER BY d.name
		 RETURN t.name AS name, t.ran AS ran, t.success AS success, collect(d.name) AS deps
		 ORDER BY name`,
		map[string]any{"id": runID})
	if err != nil {
		return nil, fmt.Errorf("query run graph %s: %w", runID, err)
	}

	var nodes []TaskNode
	for result.Next(ctx) {
		rec := result.Record()
		name, _ := rec.Get("name")
		ran, _ := rec.Get("ran")
		success, _ := rec.Get("success")
		rawDeps, _ := rec.Get("deps")
		node := TaskNode{Name: name.(string), DependsOn: []string{}}
		node.Ran, _ = ran.(bool)
		node.Success, _ = success.(bool)
		if list, ok := rawDeps.([]any); ok {
			for _, d := range list {
				if s, ok := d.(string); ok {
					node.DependsOn = append(node.DependsOn, s)
				}
			}
		}
		nodes = append(nodes, node)
	}
	return nodes, result.Err()
}

// Dependents returns the names of tasks in the run that depend on task,
// directly or transitively.
func (s *Store) Dependents(ctx context.Context, runID, task string) ([]string, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (t:Task {run_id: $id, name: $name})<-[:DEPENDS_ON*1..]-(d:Task)
		 RETURN DISTINCT d.name AS name ORDER BY name`,
		map[string]any{"id": runID, "name": task})
	if err != nil {
		return nil, fmt.Errorf("query dependents of %s: %w", task, err)
	}
	var names []string
	for result.Next(ctx) {
		name, _ := result.Record().Get("name")
		names = append(names, name.(string))
	}
	return names, result.Err()
}
