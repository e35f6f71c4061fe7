package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"toolshed/api/internal/auth"
	"toolshed/api/internal/authpw"
	"toolshed/api/internal/config"
	"toolshed/api/internal/engine"
	"toolshed/api/internal/export"
	"toolshed/api/internal/gitmirror"
	"toolshed/api/internal/rbac"
	"toolshed/api/internal/search"
	"toolshed/api/internal/store"
	"toolshed/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// ContentPatch is the wire shape of a partial content update. Field
// presence matters: an absent majorChangeDescription carries the previous
// value forward, an explicit null clears it, so the raw body is decoded
// alongside the typed struct.
type ContentPatch struct {
	Name                   *string         `json:"name"`
	Description            *string         `json:"description"`
	Doc                    json.RawMessage `json:"doc"`
	MajorChangeDescription json.RawMessage `json:"majorChangeDescription"`

	hasMajorChange bool
}

type CreateVersionInput struct {
	Name                   string          `json:"name"`
	Description            string          `json:"description"`
	Doc                    json.RawMessage `json:"doc"`
	MajorChangeDescription json.RawMessage `json:"majorChangeDescription"`
	BranchType             string          `json:"branchType"`
	CollectionID           string          `json:"collectionId"`
}

type UpdateVersionInput struct {
	ContentPatch
	BranchType *string `json:"branchType"`
}

type MergeVersionInput struct {
	ContentPatch
	ToVersionID *int64 `json:"toVersionId"`
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	InsertCollection(context.Context, store.Collection) error
	GetCollection(context.Context, string) (store.Collection, error)
	ListCollections(context.Context) ([]store.Collection, error)
	UpsertCollectionMember(context.Context, store.CollectionMember) error
	GetCollectionRole(context.Context, string, string) (string, error)

	GetVersion(context.Context, engine.Kind, int64) (engine.VersionRow, error)
	PublishedHead(context.Context, engine.Kind, string) (*engine.VersionRow, error)
	ActiveSuggestion(context.Context, engine.Kind, string) (*engine.VersionRow, error)
	History(context.Context, engine.Kind, string) ([]engine.VersionRow, error)
	ListPublishedHeads(context.Context, engine.Kind) ([]engine.VersionRow, error)

	Ping(ctx context.Context) error
}

// refreshStore is the subset of session storage that may live in Redis
// instead of Postgres.
type refreshStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type versionEngine interface {
	Create(context.Context, engine.Kind, engine.CreateInput) (engine.VersionRow, error)
	Update(context.Context, engine.Kind, int64, engine.Payload, *engine.BranchType, string) (engine.VersionRow, error)
	Merge(context.Context, engine.Kind, int64, *int64, engine.Payload, string) (engine.MergeResult, error)
	Archive(context.Context, engine.Kind, int64, string) (engine.VersionRow, error)
}

type passwordAuth interface {
	SignUp(context.Context, authpw.SignUpRequest) (*authpw.SignUpResponse, error)
	SignIn(context.Context, authpw.SignInRequest) (*authpw.SignInResponse, error)
	VerifyEmail(context.Context, string) error
	RequestPasswordReset(context.Context, string) (string, error)
	ResetPassword(context.Context, authpw.ResetPasswordRequest) error
}

type contentSearch interface {
	Search(search.Query) search.Response
}

type exporter interface {
	Export(context.Context, export.Snapshot, export.Format) (*export.Result, error)
}

type mirrorHistory interface {
	History(kind, staticID string, limit int) ([]gitmirror.Commit, error)
}

type verificationMailer interface {
	SendVerificationEmail(to, token string) error
	SendPasswordResetEmail(to, token string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	versions  versionEngine
	refresh   refreshStore
	passwords passwordAuth
	search    contentSearch
	exports   exporter
	mirror    mirrorHistory
	mailer    verificationMailer
}

type Deps struct {
	Store     *store.PostgresStore
	Engine    *engine.Engine
	Refresh   refreshStore
	Passwords *authpw.Service
	Search    *search.Service
	Exports   *export.Service
	Mirror    *gitmirror.Service
	Mailer    verificationMailer
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		versions:  deps.Engine,
		refresh:   deps.Refresh,
		passwords: deps.Passwords,
		search:    deps.Search,
		exports:   deps.Exports,
		mirror:    deps.Mirror,
		mailer:    deps.Mailer,
	}
	if s.refresh == nil && deps.Store != nil {
		s.refresh = deps.Store
	}
	return s
}

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (map[string]any, error) {
	resp, err := s.passwords.SignUp(ctx, authpw.SignUpRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	})
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	if s.mailer != nil {
		if err := s.mailer.SendVerificationEmail(email, resp.VerificationToken); err != nil {
			return nil, err
		}
	}
	return map[string]any{
		"userId":              resp.UserID,
		"requiresEmailVerify": resp.RequiresEmailVerify,
	}, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	resp, err := s.passwords.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	if resp.RequiresVerify {
		return Session{}, domainError(http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Email address has not been verified", nil)
	}
	return s.issueSession(ctx, resp.User)
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if err := s.passwords.VerifyEmail(ctx, token); err != nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	return nil
}

func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	token, err := s.passwords.RequestPasswordReset(ctx, email)
	if err != nil {
		return err
	}
	// A blank token means the email is unknown; respond identically either way.
	if token != "" && s.mailer != nil {
		if err := s.mailer.SendPasswordResetEmail(email, token); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := s.passwords.ResetPassword(ctx, authpw.ResetPasswordRequest{Token: token, NewPassword: newPassword}); err != nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	return nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	owner, err := s.refresh.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// The session store only records the owning user id; re-resolve the
	// account so role or name changes take effect on rotation.
	user, err := s.store.GetUserByID(ctx, owner.ID)
	if err != nil {
		return Session{}, err
	}
	if err := s.refresh.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.refresh.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.refresh.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) CreateCollection(ctx context.Context, session Session, name, description string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	collection := store.Collection{
		ID:          util.NewID("col"),
		Name:        name,
		Slug:        slugify(name),
		Description: strings.TrimSpace(description),
	}
	if err := s.store.InsertCollection(ctx, collection); err != nil {
		return nil, err
	}
	if err := s.store.UpsertCollectionMember(ctx, store.CollectionMember{
		CollectionID: collection.ID,
		UserID:       session.UserID,
		Role:         "admin",
	}); err != nil {
		return nil, err
	}
	return collectionView(collection), nil
}

func (s *Service) ListCollections(ctx context.Context) ([]map[string]any, error) {
	collections, err := s.store.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(collections))
	for _, collection := range collections {
		items = append(items, collectionView(collection))
	}
	return items, nil
}

// collectionRole resolves the caller's role within a collection, falling
// back to the account-level role for objects outside any collection.
func (s *Service) collectionRole(ctx context.Context, session Session, collectionID string) (string, error) {
	if collectionID == "" {
		return session.Role, nil
	}
	role, err := s.store.GetCollectionRole(ctx, collectionID, session.UserID)
	if err == sql.ErrNoRows {
		return "viewer", nil
	}
	if err != nil {
		return "", err
	}
	return role, nil
}

func (s *Service) requireWrite(ctx context.Context, session Session, collectionID string) error {
	role, err := s.collectionRole(ctx, session, collectionID)
	if err != nil {
		return err
	}
	if !rbac.Can(rbac.Normalize(role), rbac.ActionWrite) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "You do not have write access to this collection", nil)
	}
	return nil
}

func (s *Service) CreateVersion(ctx context.Context, session Session, kind engine.Kind, input CreateVersionInput) (map[string]any, error) {
	if err := s.requireWrite(ctx, session, strings.TrimSpace(input.CollectionID)); err != nil {
		return nil, err
	}
	branchType := engine.BranchPublished
	if trimmed := strings.TrimSpace(input.BranchType); trimmed != "" {
		parsed, err := engine.ParseBranchType(trimmed)
		if err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "branchType must be 'published' or 'draft'", nil)
		}
		branchType = parsed
	}
	row, err := s.versions.Create(ctx, kind, engine.CreateInput{
		Name:                   input.Name,
		Description:            input.Description,
		Doc:                    input.Doc,
		MajorChangeDescription: normalizeJSON(input.MajorChangeDescription),
		BranchType:             branchType,
		CollectionID:           strings.TrimSpace(input.CollectionID),
		AuthorID:               session.UserID,
	})
	if err != nil {
		return nil, fromEngineError(err)
	}
	return versionView(row), nil
}

func (s *Service) UpdateVersion(ctx context.Context, session Session, kind engine.Kind, id int64, input UpdateVersionInput) (map[string]any, error) {
	row, err := s.store.GetVersion(ctx, kind, id)
	if err != nil {
		return nil, fromEngineError(err)
	}
	if err := s.requireWrite(ctx, session, row.CollectionID); err != nil {
		return nil, err
	}
	var branchChange *engine.BranchType
	if input.BranchType != nil {
		parsed, err := engine.ParseBranchType(*input.BranchType)
		if err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "branchType must be 'published', 'draft', or 'suggestion'", nil)
		}
		branchChange = &parsed
	}
	updated, err := s.versions.Update(ctx, kind, id, input.payload(), branchChange, session.UserID)
	if err != nil {
		return nil, fromEngineError(err)
	}
	return versionView(updated), nil
}

func (s *Service) MergeVersion(ctx context.Context, session Session, kind engine.Kind, id int64, input MergeVersionInput) (map[string]any, error) {
	row, err := s.store.GetVersion(ctx, kind, id)
	if err != nil {
		return nil, fromEngineError(err)
	}
	if err := s.requireWrite(ctx, session, row.CollectionID); err != nil {
		return nil, err
	}
	result, err := s.versions.Merge(ctx, kind, id, input.ToVersionID, input.payload(), session.UserID)
	if err != nil {
		return nil, fromEngineError(err)
	}
	return map[string]any{
		"published": versionView(result.Published),
		"closed":    versionView(result.Closed),
	}, nil
}

func (s *Service) ArchiveVersion(ctx context.Context, session Session, kind engine.Kind, id int64) (map[string]any, error) {
	row, err := s.store.GetVersion(ctx, kind, id)
	if err != nil {
		return nil, fromEngineError(err)
	}
	if err := s.requireWrite(ctx, session, row.CollectionID); err != nil {
		return nil, err
	}
	archived, err := s.versions.Archive(ctx, kind, id, session.UserID)
	if err != nil {
		return nil, fromEngineError(err)
	}
	return versionView(archived), nil
}

// ListPublished returns the published heads of a kind, optionally scoped
// to one collection.
func (s *Service) ListPublished(ctx context.Context, kind engine.Kind, collectionID string) ([]map[string]any, error) {
	rows, err := s.store.ListPublishedHeads(ctx, kind)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		if collectionID != "" && row.CollectionID != collectionID {
			continue
		}
		items = append(items, versionView(row))
	}
	return items, nil
}

func (s *Service) GetPublishedHead(ctx context.Context, kind engine.Kind, staticID string) (map[string]any, error) {
	head, err := s.store.PublishedHead(ctx, kind, staticID)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "No published version exists", nil)
	}
	return versionView(*head), nil
}

func (s *Service) GetHistory(ctx context.Context, kind engine.Kind, staticID string) (map[string]any, error) {
	rows, err := s.store.History(ctx, kind, staticID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Unknown object", nil)
	}
	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		items = append(items, versionView(row))
	}
	return map[string]any{
		"staticId": staticID,
		"kind":     string(kind),
		"versions": items,
	}, nil
}

func (s *Service) GetActiveSuggestion(ctx context.Context, kind engine.Kind, staticID string) (map[string]any, error) {
	suggestion, err := s.store.ActiveSuggestion(ctx, kind, staticID)
	if err != nil {
		return nil, err
	}
	if suggestion == nil {
		return map[string]any{"staticId": staticID, "suggestion": nil}, nil
	}
	return map[string]any{"staticId": staticID, "suggestion": versionView(*suggestion)}, nil
}

func (s *Service) GetVersion(ctx context.Context, kind engine.Kind, id int64) (map[string]any, error) {
	row, err := s.store.GetVersion(ctx, kind, id)
	if err != nil {
		return nil, fromEngineError(err)
	}
	return versionView(row), nil
}

func (s *Service) Search(ctx context.Context, query, kindFilter string, limit int) (search.Response, error) {
	if strings.TrimSpace(query) == "" {
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
	}
	if kindFilter != "" {
		if _, err := engine.ParseKind(kindFilter); err != nil {
			return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid kind filter", nil)
		}
	}
	return s.search.Search(search.Query{Text: query, Kind: kindFilter, Limit: limit}), nil
}

func (s *Service) ExportVersion(ctx context.Context, kind engine.Kind, id int64, format string) (*export.Result, error) {
	exportFormat, ok := export.ParseFormat(format)
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be 'pdf' or 'docx'", nil)
	}
	row, err := s.store.GetVersion(ctx, kind, id)
	if err != nil {
		return nil, fromEngineError(err)
	}
	return s.exports.Export(ctx, export.Snapshot{
		Kind:        string(kind),
		StaticID:    row.StaticID,
		Name:        row.Name,
		Description: row.Description,
		Doc:         row.Doc,
		VersionID:   row.ID,
		CreatedBy:   row.CreatedBy,
		CreatedAt:   row.CreatedAt,
	}, exportFormat)
}

func (s *Service) MirrorHistory(ctx context.Context, kind engine.Kind, staticID string, limit int) (map[string]any, error) {
	if s.mirror == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Mirror is not enabled", nil)
	}
	commits, err := s.mirror.History(string(kind), staticID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, map[string]any{
			"hash":      commit.Hash,
			"message":   commit.Message,
			"author":    commit.Author,
			"createdAt": commit.CreatedAt.Format(time.RFC3339),
		})
	}
	return map[string]any{
		"staticId": staticID,
		"kind":     string(kind),
		"commits":  items,
	}, nil
}

func (s *Service) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// payload maps the wire patch onto the engine's tri-state payload.
func (p ContentPatch) payload() engine.Payload {
	payload := engine.Payload{
		Name:        p.Name,
		Description: p.Description,
		Doc:         normalizeJSON(p.Doc),
	}
	if p.hasMajorChange {
		payload.MajorChange = &engine.MajorChange{Doc: normalizeJSON(p.MajorChangeDescription)}
	}
	return payload
}

// markMajorChangePresence records whether the raw request body mentioned
// majorChangeDescription at all, which json.Unmarshal alone cannot tell
// apart from an explicit null.
func (p *ContentPatch) markMajorChangePresence(body []byte) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return
	}
	_, p.hasMajorChange = fields["majorChangeDescription"]
}

// normalizeJSON treats literal null and whitespace-only payloads as absent.
func normalizeJSON(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	return raw
}

func versionView(row engine.VersionRow) map[string]any {
	view := map[string]any{
		"id":          row.ID,
		"staticId":    row.StaticID,
		"branchType":  string(row.BranchType),
		"branchId":    row.BranchID,
		"isLatest":    row.IsLatest,
		"isArchived":  row.IsArchived,
		"name":        row.Name,
		"description": row.Description,
		"createdBy":   row.CreatedBy,
		"createdAt":   row.CreatedAt.Format(time.RFC3339),
	}
	if row.PreviousVersionID != nil {
		view["previousVersionId"] = *row.PreviousVersionID
	} else {
		view["previousVersionId"] = nil
	}
	if row.BranchedFromID != nil {
		view["branchedFromId"] = *row.BranchedFromID
	} else {
		view["branchedFromId"] = nil
	}
	if len(row.Doc) > 0 {
		view["doc"] = json.RawMessage(row.Doc)
	} else {
		view["doc"] = nil
	}
	if len(row.MajorChangeDescription) > 0 {
		view["majorChangeDescription"] = json.RawMessage(row.MajorChangeDescription)
	} else {
		view["majorChangeDescription"] = nil
	}
	if row.CollectionID != "" {
		view["collectionId"] = row.CollectionID
	} else {
		view["collectionId"] = nil
	}
	return view
}

func collectionView(collection store.Collection) map[string]any {
	view := map[string]any{
		"id":          collection.ID,
		"name":        collection.Name,
		"slug":        collection.Slug,
		"description": collection.Description,
	}
	if !collection.CreatedAt.IsZero() {
		view["createdAt"] = collection.CreatedAt.Format(time.RFC3339)
	}
	return view
}

func slugify(value string) string {
	slug := make([]rune, 0, len(value))
	lastDash := false
	for _, ch := range strings.ToLower(strings.TrimSpace(value)) {
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') {
			slug = append(slug, ch)
			lastDash = false
			continue
		}
		if !lastDash {
			slug = append(slug, '-')
			lastDash = true
		}
	}
	return strings.Trim(string(slug), "-")
}
