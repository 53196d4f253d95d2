// Package scaffold produces the deterministic project artifacts: starter
// files for new sessions and the derived workflow configuration
// (wrangler.jsonc, README.md) regenerated from workflow metadata after every
// successful generation. Identical inputs always yield identical bytes.
package scaffold

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/models"
)

// DefaultWorkflowClass is used when the generated code does not declare a
// workflow entrypoint class.
const DefaultWorkflowClass = "MyWorkflow"

const compatibilityDate = "2025-01-01"

var classRe = regexp.MustCompile(`export\s+class\s+(\w+)\s+extends\s+WorkflowEntrypoint`)

// ExtractWorkflowClassName finds the exported workflow entrypoint class in
// the generated code, falling back to DefaultWorkflowClass.
func ExtractWorkflowClassName(code string) string {
	m := classRe.FindStringSubmatch(code)
	if len(m) == 2 {
		return m[1]
	}
	return DefaultWorkflowClass
}

// AppScaffold returns the starter files for a new app session.
func AppScaffold(projectName string) map[string]string {
	return map[string]string{
		"package.json": fmt.Sprintf(`{
  "name": %q,
  "private": true,
  "type": "module",
  "scripts": {
    "dev": "vite",
    "build": "vite build",
    "lint": "eslint src"
  }
}
`, projectName),
		"src/index.tsx": `import React from "react";
import { createRoot } from "react-dom/client";

function App() {
  return <main>Loading...</main>;
}

createRoot(document.getElementById("root")!).render(<App />);
`,
		"index.html": fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <title>%s</title>
  </head>
  <body>
    <div id="root"></div>
    <script type="module" src="/src/index.tsx"></script>
  </body>
</html>
`, projectName),
	}
}

// WorkflowScaffold returns the starter files for a new workflow session.
func WorkflowScaffold(projectName string) map[string]string {
	code := `import { WorkflowEntrypoint, WorkflowStep, WorkflowEvent } from "cloudflare:workers";

export class MyWorkflow extends WorkflowEntrypoint<Env, Params> {
  async run(event: WorkflowEvent<Params>, step: WorkflowStep) {
    await step.do("start", async () => {
      return { started: true };
    });
  }
}

type Params = Record<string, unknown>;
`
	meta := models.WorkflowMetadata{Name: projectName}
	files := map[string]string{
		"src/index.ts": code,
		"package.json": fmt.Sprintf(`{
  "name": %q,
  "private": true,
  "type": "module",
  "scripts": {
    "deploy": "wrangler deploy",
    "dev": "wrangler dev"
  }
}
`, projectName),
	}
	for path, contents := range WorkflowArtifacts(meta, code, projectName) {
		files[path] = contents
	}
	return files
}

type wranglerWorkflow struct {
	Name      string `json:"name"`
	Binding   string `json:"binding"`
	ClassName string `json:"class_name"`
}

type kvBinding struct {
	Binding string `json:"binding"`
	ID      string `json:"id"`
}

type r2Binding struct {
	Binding    string `json:"binding"`
	BucketName string `json:"bucket_name"`
}

type d1Binding struct {
	Binding      string `json:"binding"`
	DatabaseName string `json:"database_name"`
}

type queueProducer struct {
	Binding string `json:"binding"`
	Queue   string `json:"queue"`
}

type queuesSection struct {
	Producers []queueProducer `json:"producers"`
}

type aiBinding struct {
	Binding string `json:"binding"`
}

type wranglerConfig struct {
	Name              string             `json:"name"`
	Main              string             `json:"main"`
	CompatibilityDate string             `json:"compatibility_date"`
	Workflows         []wranglerWorkflow `json:"workflows"`
	Vars              map[string]string  `json:"vars,omitempty"`
	KVNamespaces      []kvBinding        `json:"kv_namespaces,omitempty"`
	R2Buckets         []r2Binding        `json:"r2_buckets,omitempty"`
	D1Databases       []d1Binding        `json:"d1_databases,omitempty"`
	Queues            *queuesSection     `json:"queues,omitempty"`
	AI                *aiBinding         `json:"ai,omitempty"`
}

// WorkflowArtifacts derives wrangler.jsonc and README.md from the workflow
// metadata and the current generated code. Binding sections are emitted in
// sorted order so regeneration is stable.
func WorkflowArtifacts(meta models.WorkflowMetadata, code, projectName string) map[string]string {
	name := meta.Name
	if name == "" {
		name = projectName
	}
	className := ExtractWorkflowClassName(code)

	cfg := wranglerConfig{
		Name:              name,
		Main:              "src/index.ts",
		CompatibilityDate: compatibilityDate,
		Workflows: []wranglerWorkflow{
			{Name: name, Binding: "WORKFLOW", ClassName: className},
		},
		Vars: meta.EnvVars,
	}

	for _, binding := range sortedBindings(meta.Resources) {
		switch binding.res.Kind {
		case models.ResourceKindKV:
			cfg.KVNamespaces = append(cfg.KVNamespaces, kvBinding{Binding: binding.key, ID: binding.res.Name})
		case models.ResourceKindR2:
			cfg.R2Buckets = append(cfg.R2Buckets, r2Binding{Binding: binding.key, BucketName: binding.res.Name})
		case models.ResourceKindD1:
			cfg.D1Databases = append(cfg.D1Databases, d1Binding{Binding: binding.key, DatabaseName: binding.res.Name})
		case models.ResourceKindQueue:
			if cfg.Queues == nil {
				cfg.Queues = &queuesSection{}
			}
			cfg.Queues.Producers = append(cfg.Queues.Producers, queueProducer{Binding: binding.key, Queue: binding.res.Name})
		case models.ResourceKindAI:
			cfg.AI = &aiBinding{Binding: binding.key}
		}
	}

	wrangler, _ := json.MarshalIndent(cfg, "", "  ")
	return map[string]string{
		"wrangler.jsonc": string(wrangler) + "\n",
		"README.md":      workflowReadme(meta, name),
	}
}

type namedBinding struct {
	key string
	res models.ResourceBinding
}

func sortedBindings(resources map[string]models.ResourceBinding) []namedBinding {
	out := make([]namedBinding, 0, len(resources))
	for key, res := range resources {
		out = append(out, namedBinding{key: key, res: res})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func workflowReadme(meta models.WorkflowMetadata, name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", name)
	if meta.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", meta.Description)
	}

	if len(meta.ParamsSchema) > 0 {
		b.WriteString("## Parameters\n\n```json\n")
		b.Write(indentJSON(meta.ParamsSchema))
		b.WriteString("\n```\n\n")
	}

	if len(meta.EnvVars) > 0 {
		b.WriteString("## Environment variables\n\n")
		for _, k := range sortedKeys(meta.EnvVars) {
			fmt.Fprintf(&b, "- `%s`: %s\n", k, meta.EnvVars[k])
		}
		b.WriteString("\n")
	}

	if len(meta.Secrets) > 0 {
		b.WriteString("## Secrets\n\nSet with `wrangler secret put <NAME>`:\n\n")
		for _, k := range sortedKeys(meta.Secrets) {
			fmt.Fprintf(&b, "- `%s`: %s\n", k, meta.Secrets[k])
		}
		b.WriteString("\n")
	}

	if len(meta.Resources) > 0 {
		b.WriteString("## Resources\n\n| Binding | Kind | Resource |\n|---|---|---|\n")
		for _, nb := range sortedBindings(meta.Resources) {
			fmt.Fprintf(&b, "| `%s` | %s | %s |\n", nb.key, nb.res.Kind, nb.res.Name)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Deploy\n\n```sh\nwrangler deploy\n```\n")
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func indentJSON(raw json.RawMessage) []byte {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return raw
	}
	return out
}
