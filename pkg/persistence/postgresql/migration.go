package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id TEXT PRIMARY KEY,
				org_id TEXT NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(20) NOT NULL CHECK (status IN ('draft', 'active', 'paused', 'archived')),
				version INTEGER NOT NULL DEFAULT 0,
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				settings JSONB NOT NULL DEFAULT '{}',
				variables JSONB,
				allow_public_execution BOOLEAN NOT NULL DEFAULT false,
				execution_token_hash TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_org_id ON workflows(org_id);
			CREATE INDEX idx_workflows_status ON workflows(status);

			CREATE TABLE jobs (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				execution_id TEXT NOT NULL,
				org_id TEXT NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
				attempts INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL,
				backoff JSONB NOT NULL DEFAULT '{}',
				trigger JSONB NOT NULL DEFAULT '{}',
				run_at TIMESTAMP WITH TIME ZONE NOT NULL,
				last_error TEXT NOT NULL DEFAULT '',
				claimed_by TEXT NOT NULL DEFAULT '',
				claimed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_jobs_claim ON jobs(run_at, created_at, id) WHERE status = 'pending';
			CREATE INDEX idx_jobs_org_status ON jobs(org_id, status);
			CREATE INDEX idx_jobs_execution_id ON jobs(execution_id);
			CREATE INDEX idx_jobs_claimed_at ON jobs(claimed_at) WHERE status = 'processing';

			CREATE TABLE executions (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				org_id TEXT NOT NULL,
				status VARCHAR(20) NOT NULL,
				revision BIGINT NOT NULL DEFAULT 0,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id);
			CREATE INDEX idx_executions_org_status ON executions(org_id, status);
			CREATE INDEX idx_executions_created_at ON executions(created_at);

			CREATE TABLE execution_logs (
				execution_id TEXT NOT NULL,
				sequence BIGINT NOT NULL,
				node_id TEXT NOT NULL DEFAULT '',
				timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
				level VARCHAR(10) NOT NULL,
				event TEXT NOT NULL,
				message TEXT NOT NULL,
				data JSONB,
				PRIMARY KEY (execution_id, sequence)
			);

			CREATE TABLE documents (
				collection TEXT NOT NULL,
				id TEXT NOT NULL,
				body JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (collection, id)
			);

			CREATE INDEX idx_documents_body ON documents USING GIN (body jsonb_path_ops);
		`,
		2: `
			CREATE TABLE workflow_versions (
				workflow_id TEXT NOT NULL,
				version INTEGER NOT NULL,
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (workflow_id, version)
			);
		`,
	}
}
