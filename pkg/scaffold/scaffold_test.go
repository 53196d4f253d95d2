package scaffold

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/models"
)

func TestExtractWorkflowClassName(t *testing.T) {
	code := `import { WorkflowEntrypoint } from "cloudflare:workers";

export class OrderSyncWorkflow extends WorkflowEntrypoint<Env, Params> {
  async run() {}
}
`
	assert.Equal(t, "OrderSyncWorkflow", ExtractWorkflowClassName(code))
	assert.Equal(t, DefaultWorkflowClass, ExtractWorkflowClassName("const x = 1;"))
	assert.Equal(t, DefaultWorkflowClass, ExtractWorkflowClassName(""))
}

func TestWorkflowArtifactsBindingSections(t *testing.T) {
	meta := models.WorkflowMetadata{
		Name:        "order-sync",
		Description: "Synchronizes orders nightly.",
		EnvVars:     map[string]string{"BATCH_SIZE": "100"},
		Resources: map[string]models.ResourceBinding{
			"ORDERS_KV":    {Kind: models.ResourceKindKV, Name: "orders"},
			"ARCHIVE":      {Kind: models.ResourceKindR2, Name: "order-archive"},
			"ORDERS_DB":    {Kind: models.ResourceKindD1, Name: "orders-db"},
			"SYNC_QUEUE":   {Kind: models.ResourceKindQueue, Name: "sync-jobs"},
			"AI":           {Kind: models.ResourceKindAI},
		},
	}
	files := WorkflowArtifacts(meta, "export class SyncFlow extends WorkflowEntrypoint<Env, P> {}", "fallback")

	var cfg map[string]any
	require.NoError(t, json.Unmarshal([]byte(files["wrangler.jsonc"]), &cfg))
	assert.Equal(t, "order-sync", cfg["name"])
	assert.Equal(t, "src/index.ts", cfg["main"])

	workflows := cfg["workflows"].([]any)
	require.Len(t, workflows, 1)
	assert.Equal(t, "SyncFlow", workflows[0].(map[string]any)["class_name"])

	assert.Contains(t, cfg, "kv_namespaces")
	assert.Contains(t, cfg, "r2_buckets")
	assert.Contains(t, cfg, "d1_databases")
	assert.Contains(t, cfg, "queues")
	assert.Contains(t, cfg, "ai")
	assert.Equal(t, "100", cfg["vars"].(map[string]any)["BATCH_SIZE"])
}

func TestWorkflowArtifactsOmitEmptySections(t *testing.T) {
	files := WorkflowArtifacts(models.WorkflowMetadata{Name: "bare"}, "", "bare")

	var cfg map[string]any
	require.NoError(t, json.Unmarshal([]byte(files["wrangler.jsonc"]), &cfg))
	assert.NotContains(t, cfg, "kv_namespaces")
	assert.NotContains(t, cfg, "queues")
	assert.NotContains(t, cfg, "ai")
	assert.NotContains(t, cfg, "vars")
}

func TestWorkflowArtifactsAreDeterministic(t *testing.T) {
	meta := models.WorkflowMetadata{
		Name:    "det",
		EnvVars: map[string]string{"B": "2", "A": "1", "C": "3"},
		Secrets: map[string]string{"TOKEN": "api token"},
		Resources: map[string]models.ResourceBinding{
			"Z_KV": {Kind: models.ResourceKindKV, Name: "z"},
			"A_KV": {Kind: models.ResourceKindKV, Name: "a"},
			"M_KV": {Kind: models.ResourceKindKV, Name: "m"},
		},
	}
	first := WorkflowArtifacts(meta, "", "det")
	for i := 0; i < 20; i++ {
		again := WorkflowArtifacts(meta.Clone(), "", "det")
		assert.Equal(t, first, again)
	}
}

func TestWorkflowReadmeSections(t *testing.T) {
	meta := models.WorkflowMetadata{
		Name:         "reporting",
		Description:  "Generates weekly reports.",
		ParamsSchema: json.RawMessage(`{"type":"object","properties":{"week":{"type":"integer"}}}`),
		Secrets:      map[string]string{"API_KEY": "reporting API key"},
		Resources: map[string]models.ResourceBinding{
			"REPORTS": {Kind: models.ResourceKindR2, Name: "reports"},
		},
	}
	files := WorkflowArtifacts(meta, "", "reporting")
	readme := files["README.md"]

	assert.Contains(t, readme, "# reporting")
	assert.Contains(t, readme, "Generates weekly reports.")
	assert.Contains(t, readme, "## Parameters")
	assert.Contains(t, readme, "## Secrets")
	assert.Contains(t, readme, "wrangler secret put")
	assert.Contains(t, readme, "| `REPORTS` | r2 | reports |")
	assert.Contains(t, readme, "wrangler deploy")
}

func TestWorkflowScaffoldIsSelfConsistent(t *testing.T) {
	files := WorkflowScaffold("my-flow")

	require.Contains(t, files, "src/index.ts")
	require.Contains(t, files, "wrangler.jsonc")
	require.Contains(t, files, "README.md")
	require.Contains(t, files, "package.json")

	// The scaffold's wrangler config references the class the scaffold code
	// actually declares.
	assert.Equal(t, DefaultWorkflowClass, ExtractWorkflowClassName(files["src/index.ts"]))
	assert.Contains(t, files["wrangler.jsonc"], DefaultWorkflowClass)
}

func TestAppScaffold(t *testing.T) {
	files := AppScaffold("my-app")
	require.Contains(t, files, "package.json")
	require.Contains(t, files, "src/index.tsx")
	require.Contains(t, files, "index.html")
	assert.Contains(t, files["package.json"], `"my-app"`)
}
