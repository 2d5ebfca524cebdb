// Package graph mirrors perception relations into Neo4j so external tools can
// query who perceives whom without touching the record store. The archivist
// is optional: when no NEO4J_URI is configured the service runs without it.
package graph

import (
	"fmt"
	"os"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"perception-core/internal/vision"
)

// Archivist writes entity nodes and PERCEIVES relations to Neo4j.
type Archivist struct {
	driver neo4j.Driver
}

// NewArchivistFromEnv connects using NEO4J_URI / NEO4J_USER / NEO4J_PASSWORD.
// Returns (nil, nil) when NEO4J_URI is unset, meaning archiving is disabled.
func NewArchivistFromEnv() (*Archivist, error) {
	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		return nil, nil
	}
	user := os.Getenv("NEO4J_USER")
	if user == "" {
		user = "neo4j"
	}
	password := os.Getenv("NEO4J_PASSWORD")
	if password == "" {
		password = "password"
	}

	driver, err := neo4j.NewDriver(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver creation failed: %w", err)
	}
	if err := driver.VerifyConnectivity(); err != nil {
		_ = driver.Close()
		return nil, fmt.Errorf("neo4j connectivity test failed: %w", err)
	}
	return &Archivist{driver: driver}, nil
}

// RecordPerception upserts both entity nodes and the observer→target
// PERCEIVES relation with its current visibility and cover state.
func (a *Archivist) RecordPerception(sceneID, observerID, targetID string, state vision.VisibilityState, cover vision.CoverState) error {
	session := a.driver.NewSession(neo4j.SessionConfig{DatabaseName: "neo4j"})
	defer session.Close()

	query := `
MERGE (o:Entity {id: $observer_id, scene: $scene_id})
MERGE (t:Entity {id: $target_id, scene: $scene_id})
MERGE (o)-[r:PERCEIVES]->(t)
SET r.visibility = $visibility,
    r.cover = $cover,
    r.updated_at = timestamp()
`
	_, err := session.Run(query, map[string]any{
		"scene_id":    sceneID,
		"observer_id": observerID,
		"target_id":   targetID,
		"visibility":  string(state),
		"cover":       string(cover),
	})
	return err
}

// RemoveEntity detaches and deletes an entity node and all its relations.
func (a *Archivist) RemoveEntity(sceneID, entityID string) error {
	session := a.driver.NewSession(neo4j.SessionConfig{DatabaseName: "neo4j"})
	defer session.Close()

	_, err := session.Run(
		`MATCH (e:Entity {id: $entity_id, scene: $scene_id}) DETACH DELETE e`,
		map[string]any{"entity_id": entityID, "scene_id": sceneID},
	)
	return err
}

// Close releases the underlying driver.
func (a *Archivist) Close() error {
	return a.driver.Close()
}
