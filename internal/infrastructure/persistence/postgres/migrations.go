package postgres

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_documents",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "index_documents",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: DOCUMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS documents (
    collection VARCHAR(64) NOT NULL,
    id VARCHAR(128) NOT NULL,
    body JSONB NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (collection, id),
    CONSTRAINT body_is_object CHECK (jsonb_typeof(body) = 'object')
);
`

const migration001Down = `
DROP TABLE IF EXISTS documents;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: QUERY INDEXES
// ══════════════════════════════════════════════════════════════════════════════

// Containment filters (tags, follow sets) use the GIN index; the expression
// indexes cover the ranker's popularity ordering and creator lookups.
const migration002Up = `
CREATE INDEX IF NOT EXISTS idx_documents_body ON documents USING GIN (body jsonb_path_ops);

CREATE INDEX IF NOT EXISTS idx_courses_enrollments
    ON documents (((body->>'enrollments')::numeric) DESC)
    WHERE collection = 'courses';

CREATE INDEX IF NOT EXISTS idx_courses_creator
    ON documents ((body->>'creatorId'))
    WHERE collection = 'courses';

CREATE INDEX IF NOT EXISTS idx_users_email
    ON documents ((body->>'email'))
    WHERE collection = 'users';

CREATE INDEX IF NOT EXISTS idx_posts_author
    ON documents ((body->>'authorId'), (body->>'createdAt') DESC)
    WHERE collection = 'posts';
`

const migration002Down = `
DROP INDEX IF EXISTS idx_posts_author;
DROP INDEX IF EXISTS idx_users_email;
DROP INDEX IF EXISTS idx_courses_creator;
DROP INDEX IF EXISTS idx_courses_enrollments;
DROP INDEX IF EXISTS idx_documents_body;
`
