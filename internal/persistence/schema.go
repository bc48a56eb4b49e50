package persistence

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// docSchemaJSON describes the on-disk shape of a persisted document closely
// enough to catch the failure mode this layer exists for: a field that
// should be a JSON object or array landing on disk as a stringified,
// single-quoted Python repr after a prior process crashed mid-write. It is
// intentionally loose on everything else — this is a corruption tripwire,
// not a full contract.
const docSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "schema_version": {"type": "integer"},
    "run": {
      "type": "object",
      "properties": {
        "steps":             {"type": "object"},
        "health_map":        {"type": "object"},
        "expected_tags":     {"type": "object"},
        "shas":              {"type": "object"},
        "merge_statuses":    {"type": "array"},
        "build_statuses":    {"type": "array"},
        "gitops_statuses":   {"type": "array"},
        "deploy_apps":       {"type": "array"},
        "jenkins_jobs":      {"type": "array"},
        "logs":              {"type": "array"},
        "proposed_actions":  {"type": "array"},
        "propagation_stats": {"type": "array"},
        "selected_services": {"type": "array"},
        "actually_merged":   {"type": "array"}
      }
    }
  }
}`

const schemaResourceURL = "mem://qa-goldenpath/live-state.schema.json"

func compileDocSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaResourceURL, strings.NewReader(docSchemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile(schemaResourceURL)
}

// objectFields lists the run-level fields that must decode to a JSON object.
var objectFields = []string{"steps", "health_map", "expected_tags", "shas"}

// arrayFields lists the run-level fields that must decode to a JSON array.
var arrayFields = []string{
	"merge_statuses", "build_statuses", "gitops_statuses", "deploy_apps",
	"jenkins_jobs", "logs", "proposed_actions", "propagation_stats",
	"selected_services", "actually_merged",
}
