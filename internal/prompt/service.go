package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nikhilbhutani/jawn/internal/database"
	"github.com/nikhilbhutani/jawn/internal/models"
	"github.com/nikhilbhutani/jawn/internal/tenant"
)

var (
	ErrNotFound = errors.New("prompt: not found")
	ErrConflict = errors.New("prompt: conflict")
)

const uniqueViolation = "23505"

// Cache stores production versions looked up by user-defined id.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type Service struct {
	db       database.DB
	cache    Cache
	cacheTTL time.Duration
}

func NewService(db database.DB) *Service {
	return &Service{db: db}
}

// WithCache enables caching of production versions for template compilation.
func (s *Service) WithCache(c Cache, ttl time.Duration) *Service {
	s.cache = c
	s.cacheTTL = ttl
	return s
}

const promptColumns = `id, organization, user_defined_id, COALESCE(description, ''), metadata, created_at`

const versionColumns = `id, prompt_v2, organization, major_version, minor_version, helicone_template, COALESCE(model, ''), metadata, created_at`

func scanPrompt(row pgx.Row) (*models.Prompt, error) {
	var p models.Prompt
	var meta []byte
	if err := row.Scan(&p.ID, &p.Organization, &p.UserDefinedID, &p.Description, &meta, &p.CreatedAt); err != nil {
		return nil, err
	}
	if err := p.Metadata.UnmarshalJSON(meta); err != nil {
		return nil, fmt.Errorf("prompt metadata: %w", err)
	}
	return &p, nil
}

func scanVersion(row pgx.Row) (*models.PromptVersion, error) {
	var v models.PromptVersion
	var tmpl, meta []byte
	if err := row.Scan(&v.ID, &v.PromptID, &v.Organization, &v.MajorVersion, &v.MinorVersion, &tmpl, &v.Model, &meta, &v.CreatedAt); err != nil {
		return nil, err
	}
	if err := v.HeliconeTemplate.UnmarshalJSON(tmpl); err != nil {
		return nil, fmt.Errorf("version template: %w", err)
	}
	if err := v.Metadata.UnmarshalJSON(meta); err != nil {
		return nil, fmt.Errorf("version metadata: %w", err)
	}
	return &v, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

type CreatePromptRequest struct {
	UserDefinedID string          `json:"userDefinedId"`
	Description   string          `json:"description"`
	Template      json.RawMessage `json:"promptBody"`
	Metadata      json.RawMessage `json:"metadata"`
}

// CreatePrompt inserts a prompt together with its first version, which is
// marked as production.
func (s *Service) CreatePrompt(ctx context.Context, req CreatePromptRequest) (*models.Prompt, *models.PromptVersion, error) {
	orgID := tenant.OrganizationID(ctx)

	userDefinedID := KebabCase(req.UserDefinedID)
	if userDefinedID == "" {
		return nil, nil, fmt.Errorf("create prompt: user defined id is required")
	}

	if len(req.Template) == 0 {
		req.Template = json.RawMessage(`{"messages":[]}`)
	}
	var tmpl models.Template
	if err := json.Unmarshal(req.Template, &tmpl); err != nil {
		return nil, nil, fmt.Errorf("decode prompt body: %w", err)
	}
	promptMeta, err := versionMetadata(req.Metadata, func(m map[string]any) {
		if _, ok := m["createdFromUi"]; !ok {
			m["createdFromUi"] = true
		}
	})
	if err != nil {
		return nil, nil, err
	}
	versionMeta, err := versionMetadata(req.Metadata, func(m map[string]any) {
		m["isProduction"] = true
	})
	if err != nil {
		return nil, nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := scanPrompt(tx.QueryRow(ctx,
		`INSERT INTO prompts_v2 (organization, user_defined_id, description, metadata)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+promptColumns,
		orgID, userDefinedID, req.Description, promptMeta,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, ErrConflict
		}
		return nil, nil, fmt.Errorf("insert prompt: %w", err)
	}

	v, err := scanVersion(tx.QueryRow(ctx,
		`INSERT INTO prompts_v2_versions (prompt_v2, organization, major_version, minor_version, helicone_template, model, metadata)
		 VALUES ($1, $2, 1, 0, $3, $4, $5)
		 RETURNING `+versionColumns,
		p.ID, orgID, []byte(req.Template), tmpl.Model, versionMeta,
	))
	if err != nil {
		return nil, nil, fmt.Errorf("insert prompt version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return p, v, nil
}

func versionMetadata(raw json.RawMessage, edit func(map[string]any)) ([]byte, error) {
	m := map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	edit(m)
	return json.Marshal(m)
}

func (s *Service) GetPrompt(ctx context.Context, id uuid.UUID) (*models.Prompt, error) {
	p, err := scanPrompt(s.db.QueryRow(ctx,
		`SELECT `+promptColumns+`
		 FROM prompts_v2 WHERE id = $1 AND organization = $2 AND soft_delete = false`,
		id, tenant.OrganizationID(ctx),
	))
	if err != nil {
		return nil, fmt.Errorf("get prompt %s: %w", id, notFound(err))
	}
	return p, nil
}

func (s *Service) GetPromptByUserDefinedID(ctx context.Context, userDefinedID string) (*models.Prompt, error) {
	p, err := scanPrompt(s.db.QueryRow(ctx,
		`SELECT `+promptColumns+`
		 FROM prompts_v2 WHERE user_defined_id = $1 AND organization = $2 AND soft_delete = false`,
		userDefinedID, tenant.OrganizationID(ctx),
	))
	if err != nil {
		return nil, fmt.Errorf("get prompt %q: %w", userDefinedID, notFound(err))
	}
	return p, nil
}

func (s *Service) ListPrompts(ctx context.Context, limit, offset int) ([]models.Prompt, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+promptColumns+`
		 FROM prompts_v2 WHERE organization = $1 AND soft_delete = false
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		tenant.OrganizationID(ctx), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	prompts := []models.Prompt{}
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		prompts = append(prompts, *p)
	}
	return prompts, rows.Err()
}

// ListVersions returns the prompt's versions, newest first.
func (s *Service) ListVersions(ctx context.Context, promptID uuid.UUID) ([]models.PromptVersion, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+versionColumns+`
		 FROM prompts_v2_versions
		 WHERE prompt_v2 = $1 AND organization = $2 AND soft_delete = false
		 ORDER BY major_version DESC, minor_version DESC`,
		promptID, tenant.OrganizationID(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	versions := []models.PromptVersion{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, *v)
	}
	return versions, rows.Err()
}

func (s *Service) GetVersion(ctx context.Context, versionID uuid.UUID) (*models.PromptVersion, error) {
	v, err := scanVersion(s.db.QueryRow(ctx,
		`SELECT `+versionColumns+`
		 FROM prompts_v2_versions WHERE id = $1 AND organization = $2 AND soft_delete = false`,
		versionID, tenant.OrganizationID(ctx),
	))
	if err != nil {
		return nil, fmt.Errorf("get version %s: %w", versionID, notFound(err))
	}
	return v, nil
}

type SubversionRequest struct {
	NewHeliconeTemplate json.RawMessage `json:"newHeliconeTemplate"`
	Metadata            json.RawMessage `json:"metadata"`
	IsMajorVersion      bool            `json:"isMajorVersion"`
}

// CreateSubversion stores a new version of the prompt that owns versionID.
// A major version takes the next major number with minor 0; otherwise the
// minor number of versionID's major line is bumped.
func (s *Service) CreateSubversion(ctx context.Context, versionID uuid.UUID, req SubversionRequest) (*models.PromptVersion, error) {
	orgID := tenant.OrganizationID(ctx)

	var tmpl models.Template
	if err := json.Unmarshal(req.NewHeliconeTemplate, &tmpl); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	meta, err := versionMetadata(req.Metadata, func(m map[string]any) {
		if _, ok := m["isProduction"]; !ok {
			m["isProduction"] = false
		}
	})
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var promptID uuid.UUID
	var major int
	err = tx.QueryRow(ctx,
		`SELECT prompt_v2, major_version FROM prompts_v2_versions
		 WHERE id = $1 AND organization = $2 AND soft_delete = false`,
		versionID, orgID,
	).Scan(&promptID, &major)
	if err != nil {
		return nil, fmt.Errorf("get version %s: %w", versionID, notFound(err))
	}

	if _, err := tx.Exec(ctx, "SELECT id FROM prompts_v2 WHERE id = $1 FOR UPDATE", promptID); err != nil {
		return nil, fmt.Errorf("lock prompt: %w", err)
	}

	minor := 0
	if req.IsMajorVersion {
		err = tx.QueryRow(ctx,
			"SELECT COALESCE(MAX(major_version), 0) + 1 FROM prompts_v2_versions WHERE prompt_v2 = $1",
			promptID,
		).Scan(&major)
	} else {
		err = tx.QueryRow(ctx,
			"SELECT COALESCE(MAX(minor_version), 0) + 1 FROM prompts_v2_versions WHERE prompt_v2 = $1 AND major_version = $2",
			promptID, major,
		).Scan(&minor)
	}
	if err != nil {
		return nil, fmt.Errorf("next version number: %w", err)
	}

	v, err := scanVersion(tx.QueryRow(ctx,
		`INSERT INTO prompts_v2_versions (prompt_v2, organization, major_version, minor_version, helicone_template, model, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+versionColumns,
		promptID, orgID, major, minor, []byte(req.NewHeliconeTemplate), tmpl.Model, meta,
	))
	if err != nil {
		return nil, fmt.Errorf("insert version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return v, nil
}

// Promote marks versionID as the production version and clears the flag on
// previousProductionID.
func (s *Service) Promote(ctx context.Context, versionID, previousProductionID uuid.UUID) (*models.PromptVersion, error) {
	orgID := tenant.OrganizationID(ctx)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if previousProductionID != uuid.Nil && previousProductionID != versionID {
		_, err = tx.Exec(ctx,
			`UPDATE prompts_v2_versions
			 SET metadata = jsonb_set(COALESCE(metadata, '{}'::jsonb), '{isProduction}', 'false'::jsonb)
			 WHERE id = $1 AND organization = $2`,
			previousProductionID, orgID,
		)
		if err != nil {
			return nil, fmt.Errorf("clear production flag: %w", err)
		}
	}

	v, err := scanVersion(tx.QueryRow(ctx,
		`UPDATE prompts_v2_versions
		 SET metadata = jsonb_set(COALESCE(metadata, '{}'::jsonb), '{isProduction}', 'true'::jsonb)
		 WHERE id = $1 AND organization = $2 AND soft_delete = false
		 RETURNING `+versionColumns,
		versionID, orgID,
	))
	if err != nil {
		return nil, fmt.Errorf("promote version %s: %w", versionID, notFound(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	if s.cache != nil {
		if p, err := s.GetPrompt(ctx, v.PromptID); err == nil {
			s.invalidate(ctx, p.UserDefinedID)
		}
	}
	return v, nil
}

// SetUserDefinedID renames a prompt. The id must be unique within the
// organization.
func (s *Service) SetUserDefinedID(ctx context.Context, promptID uuid.UUID, userDefinedID string) error {
	orgID := tenant.OrganizationID(ctx)

	var previous string
	err := s.db.QueryRow(ctx,
		"SELECT user_defined_id FROM prompts_v2 WHERE id = $1 AND organization = $2 AND soft_delete = false",
		promptID, orgID,
	).Scan(&previous)
	if err != nil {
		return fmt.Errorf("get prompt %s: %w", promptID, notFound(err))
	}

	tag, err := s.db.Exec(ctx,
		"UPDATE prompts_v2 SET user_defined_id = $1 WHERE id = $2 AND organization = $3",
		userDefinedID, promptID, orgID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("update user defined id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.invalidate(ctx, previous)
	return nil
}

func (s *Service) GetProductionVersion(ctx context.Context, promptID uuid.UUID) (*models.PromptVersion, error) {
	v, err := scanVersion(s.db.QueryRow(ctx,
		`SELECT `+versionColumns+`
		 FROM prompts_v2_versions
		 WHERE prompt_v2 = $1 AND organization = $2 AND soft_delete = false
		   AND (metadata->>'isProduction')::boolean = true
		 ORDER BY major_version DESC, minor_version DESC LIMIT 1`,
		promptID, tenant.OrganizationID(ctx),
	))
	if err != nil {
		return nil, fmt.Errorf("get production version: %w", notFound(err))
	}
	return v, nil
}

type CompiledTemplate struct {
	PromptID               uuid.UUID       `json:"prompt_id"`
	PromptVersionID        uuid.UUID       `json:"prompt_version_id"`
	FilledHeliconeTemplate json.RawMessage `json:"filled_helicone_template"`
}

// CompileTemplate fills inputs into the production version of the prompt
// registered under userDefinedID.
func (s *Service) CompileTemplate(ctx context.Context, userDefinedID string, inputs map[string]string) (*CompiledTemplate, error) {
	v, err := s.productionByUserDefinedID(ctx, userDefinedID)
	if err != nil {
		return nil, err
	}

	var tmpl map[string]json.RawMessage
	if err := v.HeliconeTemplate.Decode(&tmpl); err != nil {
		return nil, fmt.Errorf("compile template: %w", err)
	}
	var raw []json.RawMessage
	if msgs, ok := tmpl["messages"]; ok {
		if err := json.Unmarshal(msgs, &raw); err != nil {
			return nil, fmt.Errorf("compile template messages: %w", err)
		}
	}
	msgs, err := FromTemplateMessages(raw)
	if err != nil {
		return nil, fmt.Errorf("compile template: %w", err)
	}
	for i := range msgs {
		msgs[i].Content = FillVariables(msgs[i].Content, SyntaxAll, inputs)
	}
	filled, err := ToTemplateMessages(msgs)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		tmpl = map[string]json.RawMessage{}
	}
	if tmpl["messages"], err = json.Marshal(filled); err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}
	out, err := json.Marshal(tmpl)
	if err != nil {
		return nil, fmt.Errorf("encode template: %w", err)
	}

	return &CompiledTemplate{
		PromptID:               v.PromptID,
		PromptVersionID:        v.ID,
		FilledHeliconeTemplate: out,
	}, nil
}

func (s *Service) productionByUserDefinedID(ctx context.Context, userDefinedID string) (*models.PromptVersion, error) {
	key := s.cacheKey(ctx, userDefinedID)
	if s.cache != nil {
		var cached models.PromptVersion
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	p, err := s.GetPromptByUserDefinedID(ctx, userDefinedID)
	if err != nil {
		return nil, err
	}
	v, err := s.GetProductionVersion(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, v, s.cacheTTL); err != nil {
			slog.Warn("cache production version", "prompt", userDefinedID, "error", err)
		}
	}
	return v, nil
}

func (s *Service) cacheKey(ctx context.Context, userDefinedID string) string {
	return fmt.Sprintf("prompt:production:%s:%s", tenant.OrganizationID(ctx), userDefinedID)
}

func (s *Service) invalidate(ctx context.Context, userDefinedID string) {
	if s.cache == nil || userDefinedID == "" {
		return
	}
	if err := s.cache.Delete(ctx, s.cacheKey(ctx, userDefinedID)); err != nil {
		slog.Warn("invalidate production version", "prompt", userDefinedID, "error", err)
	}
}
