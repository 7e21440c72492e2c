package service

import (
	"context"

	"github.com/haatos/readycheck/internal/stage"
	"github.com/haatos/readycheck/internal/store"
)

var sandboxFiles = []stage.File{
	{
		Path: "src/api/users.ts",
		Content: `import { db } from "../db";

export async function getUser(userId: string) {
  const query = ` + "`SELECT * FROM users WHERE id = '${userId}'`" + `;
  return db.query(query);
}
`,
	},
	{
		Path: "src/utils/calc.js",
		Content: `export function calculate(expression) {
  return eval(expression);
}
`,
	},
}

const sandboxCommitMessage = `Add user lookup and calculator

Co-authored-by: GitHub Copilot <copilot@users.noreply.github.com>`

// CreateSandboxRun runs the pipeline over a fixed demo change with known
// issues. Every call gets a new sandbox id and a new run; sandbox runs are
// never deduplicated.
func (s *RunPipelineService) CreateSandboxRun(ctx context.Context) (*RunResult, error) {
	sandboxID := "sandbox-" + s.uuidGenerator.GenerateUUID()
	files := make([]stage.File, len(sandboxFiles))
	copy(files, sandboxFiles)
	return s.ExecuteRun(ctx, RunRequest{
		SandboxID: &sandboxID,
		Trigger:   store.TriggerSandbox,
		Metadata: &TriggerMetadata{
			PRTitle:       "Sandbox demo",
			CommitMessage: sandboxCommitMessage,
			Files:         files,
		},
	})
}
