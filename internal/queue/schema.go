package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// The teacher repo declares santhosh-tekuri/jsonschema/v6 in go.mod but
// never calls it; here it validates queue payloads against a fixed
// schema before they're allowed onto the wire, catching malformed
// ReplicationJob/SyncSecretsMessage messages at enqueue time instead of
// at some later dequeue.
const replicationJobSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["jobId", "secrets", "folderId", "secretPath", "environmentId", "projectId", "actorId", "actor"],
	"properties": {
		"jobId": {"type": "string", "minLength": 1},
		"secrets": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "operation"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"operation": {"enum": ["create", "update", "delete"]}
				}
			}
		},
		"folderId": {"type": "string", "minLength": 1},
		"secretPath": {"type": "string"},
		"environmentId": {"type": "string", "minLength": 1},
		"projectId": {"type": "string", "minLength": 1},
		"actorId": {"type": "string", "minLength": 1},
		"actor": {"enum": ["user", "service"]}
	}
}`

const syncSecretsSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["projectId", "secretPath", "environmentId", "folderId", "secrets", "actor", "actorId"],
	"properties": {
		"projectId": {"type": "string", "minLength": 1},
		"secretPath": {"type": "string"},
		"environmentSlug": {"type": "string"},
		"environmentId": {"type": "string", "minLength": 1},
		"folderId": {"type": "string", "minLength": 1},
		"secrets": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "version", "operation"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"version": {"type": "integer", "minimum": 1},
					"operation": {"enum": ["create", "update", "delete"]}
				}
			}
		},
		"actor": {"enum": ["user", "service"]},
		"actorId": {"type": "string", "minLength": 1}
	}
}`

var (
	schemaInitOnce       sync.Once
	replicationJobSchema *jsonschema.Schema
	syncSecretsSchema    *jsonschema.Schema
	schemaInitErr        error
)

func compileSchemas() {
	compiler := jsonschema.NewCompiler()

	load := func(name, raw string) (*jsonschema.Schema, error) {
		var doc any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("queue: parse %s schema: %w", name, err)
		}
		url := "mem://" + name
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("queue: add %s schema: %w", name, err)
		}
		return compiler.Compile(url)
	}

	var err error
	replicationJobSchema, err = load("replication_job.json", replicationJobSchemaJSON)
	if err != nil {
		schemaInitErr = err
		return
	}
	syncSecretsSchema, err = load("sync_secrets.json", syncSecretsSchemaJSON)
	if err != nil {
		schemaInitErr = err
		return
	}
}

func validateAgainst(getSchema func() *jsonschema.Schema, payload []byte) error {
	schemaInitOnce.Do(compileSchemas)
	if schemaInitErr != nil {
		return fmt.Errorf("queue: schema init: %w", schemaInitErr)
	}
	schema := getSchema()
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	var instance any
	if err := decoder.Decode(&instance); err != nil {
		return fmt.Errorf("queue: decode payload: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("queue: schema validation: %w", err)
	}
	return nil
}

// ValidateReplicationJob checks a JSON-encoded ReplicationJob against
// the fixed schema above.
func ValidateReplicationJob(payload []byte) error {
	return validateAgainst(func() *jsonschema.Schema { return replicationJobSchema }, payload)
}

// ValidateSyncSecretsMessage checks a JSON-encoded SyncSecretsMessage
// against the fixed schema above.
func ValidateSyncSecretsMessage(payload []byte) error {
	return validateAgainst(func() *jsonschema.Schema { return syncSecretsSchema }, payload)
}
