package connection

// Migration is one versioned step of the tenant store schema. Statements
// must be idempotent so repair can re-apply the whole set.
type Migration struct {
	Version    int
	Name       string
	Statements []string
}

// RequiredTables are the tables a ready tenant store must contain.
var RequiredTables = []string{
	"schema_migrations",
	"processors",
	"campaigns",
	"documents",
	"document_jobs",
	"processor_executions",
}

const schemaMigrationsDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TEXT NOT NULL
)`

// TenantMigrations is the ordered tenant store migration set. Column types
// are limited to what both SQLite and Postgres accept.
var TenantMigrations = []Migration{
	{
		Version: 1,
		Name:    "processor_catalog",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS processors (
				slug TEXT PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				version TEXT NOT NULL DEFAULT '',
				category TEXT NOT NULL DEFAULT '',
				implementation TEXT NOT NULL DEFAULT '',
				dependencies TEXT NOT NULL DEFAULT '[]',
				default_config TEXT NOT NULL DEFAULT '{}',
				config_schema TEXT NOT NULL DEFAULT '{}',
				output_schema TEXT NOT NULL DEFAULT '{}',
				enabled INTEGER NOT NULL DEFAULT 1,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
		},
	},
	{
		Version: 2,
		Name:    "campaigns_documents",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS campaigns (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				pipeline TEXT NOT NULL DEFAULT '{}',
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS documents (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				campaign_id TEXT NOT NULL,
				filename TEXT NOT NULL DEFAULT '',
				content_hash TEXT NOT NULL DEFAULT '',
				mime_type TEXT NOT NULL DEFAULT '',
				size BIGINT NOT NULL DEFAULT 0,
				storage_location TEXT NOT NULL DEFAULT '',
				state TEXT NOT NULL,
				processed_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_campaign ON documents (campaign_id)`,
		},
	},
	{
		Version: 3,
		Name:    "jobs_executions",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS document_jobs (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				document_id TEXT NOT NULL,
				campaign_id TEXT NOT NULL,
				pipeline TEXT NOT NULL,
				step_index INTEGER NOT NULL DEFAULT 0,
				state TEXT NOT NULL,
				error TEXT NOT NULL DEFAULT '',
				error_log TEXT NOT NULL DEFAULT '[]',
				started_at TEXT,
				completed_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_document_jobs_document ON document_jobs (document_id)`,
			`CREATE TABLE IF NOT EXISTS processor_executions (
				id TEXT PRIMARY KEY,
				job_id TEXT NOT NULL,
				step_id TEXT NOT NULL,
				step_index INTEGER NOT NULL,
				processor_slug TEXT NOT NULL,
				seq INTEGER NOT NULL,
				state TEXT NOT NULL,
				config TEXT NOT NULL DEFAULT '{}',
				output TEXT NOT NULL DEFAULT '{}',
				tokens_used BIGINT NOT NULL DEFAULT 0,
				cost DOUBLE PRECISION NOT NULL DEFAULT 0,
				error TEXT NOT NULL DEFAULT '',
				started_at TEXT,
				completed_at TEXT,
				duration_ms BIGINT,
				created_at TEXT NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_processor_executions_job_seq ON processor_executions (job_id, seq)`,
		},
	},
}
