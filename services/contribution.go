package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"data-marketplace/apperr"
	"data-marketplace/logger"
	"data-marketplace/metrics"
	"data-marketplace/models"
	"data-marketplace/providers"
	"data-marketplace/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubmitResult string

const (
	ResultAccepted  SubmitResult = "accepted"
	ResultDuplicate SubmitResult = "duplicate"
	ResultSkipped   SubmitResult = "skipped"
)

// Submission is a normalized contribution as handed over by the gateway.
type Submission struct {
	ID               string                 `json:"id,omitempty"`
	UserID           string                 `json:"user_id"`
	ProviderType     models.ProviderType    `json:"provider_type"`
	ProofID          string                 `json:"proof_id"`
	Payload          map[string]interface{} `json:"payload"`
	DerivedMetadata  map[string]interface{} `json:"derived_metadata,omitempty"`
	Status           string                 `json:"status,omitempty"`
	ProcessingMethod string                 `json:"processing_method,omitempty"`
	CreatedAt        *time.Time             `json:"created_at,omitempty"`
	WalletAddress    *string                `json:"wallet_address,omitempty"`
}

type Outcome struct {
	Result     SubmitResult `json:"result"`
	ID         string       `json:"id,omitempty"`
	ExistingID string       `json:"existing_id,omitempty"`
	Message    string       `json:"message,omitempty"`
	// Created is true only when no row existed for the submission before.
	Created bool `json:"created"`
}

type ContributionService struct {
	Store *store.Store
}

func NewContributionService(st *store.Store) *ContributionService {
	return &ContributionService{Store: st}
}

// NewContributionID returns "<unix millis>-<random>".
func NewContributionID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// mutable columns rewritten on every upsert; id and created_at never change.
var envelopeUpdateColumns = []string{
	"user_id", "proof_id", "status", "processing_method", "wallet_address",
	"payload", "derived_metadata", "opt_out", "updated_at",
}

// SubmitContribution stores sub in its provider table. A submission whose
// fingerprint matches a live row is a duplicate unless it is strictly more
// complete; resubmitting a known proof id always overwrites that row.
func (s *ContributionService) SubmitContribution(ctx context.Context, sub Submission) (*Outcome, error) {
	if len(sub.Payload) == 0 {
		metrics.ContributionsTotal.WithLabelValues(string(sub.ProviderType), string(ResultSkipped)).Inc()
		return &Outcome{Result: ResultSkipped}, nil
	}
	if sub.UserID == "" {
		return nil, apperr.New(apperr.KindInvalid, apperr.CodeMissingInput, "user id is required")
	}
	if sub.ProofID == "" {
		return nil, apperr.New(apperr.KindInvalid, apperr.CodeMissingInput, "proof id is required")
	}
	p, err := providers.Get(sub.ProviderType)
	if err != nil {
		return nil, err
	}

	env, err := newEnvelope(sub)
	if err != nil {
		return nil, err
	}

	var out *Outcome
	err = s.Store.Transaction(ctx, "submit_contribution", func(tx *gorm.DB) error {
		// env is copied per attempt so a replay starts from the caller's input.
		o, err := submitInTx(tx, p, env, providers.Record(sub.Payload))
		out = o
		return err
	})
	if err != nil {
		logger.WithFields(logrus.Fields{
			"provider": p.Type(),
			"user_id":  sub.UserID,
			"proof_id": sub.ProofID,
		}).Errorf("contribution submit failed: %v", err)
		return nil, err
	}

	metrics.ContributionsTotal.WithLabelValues(string(p.Type()), string(out.Result)).Inc()
	return out, nil
}

func newEnvelope(sub Submission) (models.ContributionEnvelope, error) {
	payload, err := json.Marshal(sub.Payload)
	if err != nil {
		return models.ContributionEnvelope{}, apperr.Wrap(apperr.KindInvalid, apperr.CodeMissingInput, "payload is not serializable", err)
	}
	env := models.ContributionEnvelope{
		ID:               sub.ID,
		UserID:           sub.UserID,
		ProofID:          sub.ProofID,
		Status:           sub.Status,
		ProcessingMethod: sub.ProcessingMethod,
		WalletAddress:    sub.WalletAddress,
		Payload:          payload,
	}
	if env.Status == "" {
		env.Status = models.DefaultContributionStatus
	}
	if sub.DerivedMetadata != nil {
		meta, err := json.Marshal(sub.DerivedMetadata)
		if err != nil {
			return models.ContributionEnvelope{}, apperr.Wrap(apperr.KindInvalid, apperr.CodeMissingInput, "derived metadata is not serializable", err)
		}
		env.DerivedMetadata = meta
	}
	if sub.CreatedAt != nil {
		env.CreatedAt = *sub.CreatedAt
	}
	return env, nil
}

func submitInTx(tx *gorm.DB, p providers.Provider, env models.ContributionEnvelope, payload providers.Record) (*Outcome, error) {
	row := p.Build(env, payload)
	fingerprint := providers.Fingerprint(p, row)
	if err := lockFingerprint(tx, providers.FingerprintKey(p, row)); err != nil {
		return nil, err
	}
	locked := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Session(&gorm.Session{})

	reuseID := ""

	byProof := p.NewRow()
	err := locked.Where("proof_id = ?", env.ProofID).Take(byProof).Error
	switch {
	case err == nil:
		reuseID = byProof.Envelope().ID
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	if reuseID == "" {
		match := p.NewRow()
		err := locked.Where(fingerprint).Where("opt_out = ?", false).Order("created_at").Take(match).Error
		switch {
		case err == nil:
			if p.Completeness(row) <= p.Completeness(match) {
				existing := match.Envelope().ID
				return &Outcome{
					Result:     ResultDuplicate,
					ExistingID: existing,
					Message:    fmt.Sprintf("this %s data has already been contributed (contribution %s)", p.Type(), existing),
				}, nil
			}
			reuseID = match.Envelope().ID
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, err
		}
	}

	if reuseID == "" && p.ReactivatesOptedOut() {
		prior := p.NewRow()
		err := locked.Where(fingerprint).
			Where("opt_out = ? AND user_id = ?", true, env.UserID).
			Order("updated_at DESC").
			Take(prior).Error
		switch {
		case err == nil:
			reuseID = prior.Envelope().ID
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, err
		}
	}

	created := reuseID == ""
	conflict := "proof_id"
	if created {
		if row.Envelope().ID == "" {
			row.Envelope().ID = NewContributionID()
		}
	} else {
		row.Envelope().ID = reuseID
		conflict = "id"
	}
	row.Envelope().OptOut = false

	updates := append(append([]string{}, envelopeUpdateColumns...), p.IndexedColumns()...)
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: conflict}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(row).Error; err != nil {
		return nil, err
	}

	// A concurrent insert of the same proof id can win the race past the
	// lookup; the upsert then lands on its row, so report the stored id.
	stored := p.NewRow()
	if err := tx.Select("id").Where("proof_id = ?", env.ProofID).Take(stored).Error; err != nil {
		return nil, err
	}
	id := stored.Envelope().ID
	if id != row.Envelope().ID {
		created = false
	}

	return &Outcome{Result: ResultAccepted, ID: id, Created: created}, nil
}

// lockFingerprint serializes submissions sharing a fingerprint until the
// transaction ends. Row locks cannot do this when no matching row exists
// yet. SQLite runs one writer at a time and needs no lock.
func lockFingerprint(tx *gorm.DB, key string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error
}

// Filter selects contributions. Eq, Min and Max are keyed by indexed column
// and require Provider to be set.
type Filter struct {
	Provider models.ProviderType
	UserID   string
	From     *time.Time
	To       *time.Time
	Eq       map[string]string
	Min      map[string]float64
	Max      map[string]float64
	Limit    int
	Offset   int
}

func (f Filter) hasFieldPredicates() bool {
	return len(f.Eq) > 0 || len(f.Min) > 0 || len(f.Max) > 0
}

// QueryContributions never returns opted-out rows. Without a provider it
// queries every provider table and merges the results newest first.
func (s *ContributionService) QueryContributions(ctx context.Context, f Filter) ([]models.Contribution, error) {
	targets := providers.All()
	if f.Provider != "" {
		p, err := providers.Get(f.Provider)
		if err != nil {
			return nil, err
		}
		targets = []providers.Provider{p}
	} else if f.hasFieldPredicates() {
		return nil, apperr.New(apperr.KindInvalid, apperr.CodeInvalidFilter, "field filters require a provider")
	}

	var out []models.Contribution
	err := s.Store.WithRetry(ctx, "query_contributions", func(ctx context.Context) error {
		out = out[:0]
		for _, p := range targets {
			q, err := buildQuery(s.Store.DB.WithContext(ctx), p, f)
			if err != nil {
				return err
			}
			rows, err := p.Find(q)
			if err != nil {
				return err
			}
			for _, row := range rows {
				out = append(out, toContribution(p, row))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(targets) > 1 {
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
		out = paginate(out, f.Offset, f.Limit)
	}
	return out, nil
}

// GetUserContributions returns every live contribution owned by userID.
func (s *ContributionService) GetUserContributions(ctx context.Context, userID string) ([]models.Contribution, error) {
	if userID == "" {
		return nil, apperr.New(apperr.KindInvalid, apperr.CodeMissingInput, "user id is required")
	}
	return s.QueryContributions(ctx, Filter{UserID: userID})
}

func buildQuery(db *gorm.DB, p providers.Provider, f Filter) (*gorm.DB, error) {
	allowed := make(map[string]bool, len(p.IndexedColumns()))
	for _, c := range p.IndexedColumns() {
		allowed[c] = true
	}
	check := func(col string) error {
		if !allowed[col] {
			return apperr.New(apperr.KindInvalid, apperr.CodeInvalidFilter,
				fmt.Sprintf("%s has no filterable column %q", p.Type(), col))
		}
		return nil
	}

	q := db.Table(p.TableName()).Where("opt_out = ?", false)
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}
	// column names are checked against the provider's fixed set before
	// being placed in SQL.
	for col, v := range f.Eq {
		if err := check(col); err != nil {
			return nil, err
		}
		q = q.Where(clause.Eq{Column: clause.Column{Name: col}, Value: v})
	}
	for col, v := range f.Min {
		if err := check(col); err != nil {
			return nil, err
		}
		q = q.Where(clause.Gte{Column: clause.Column{Name: col}, Value: v})
	}
	for col, v := range f.Max {
		if err := check(col); err != nil {
			return nil, err
		}
		q = q.Where(clause.Lte{Column: clause.Column{Name: col}, Value: v})
	}

	q = q.Order("created_at DESC")
	if f.Provider != "" {
		if f.Limit > 0 {
			q = q.Limit(f.Limit)
		}
		if f.Offset > 0 {
			q = q.Offset(f.Offset)
		}
	} else if f.Limit > 0 {
		q = q.Limit(f.Offset + f.Limit)
	}
	return q, nil
}

func paginate(in []models.Contribution, offset, limit int) []models.Contribution {
	if offset >= len(in) {
		return []models.Contribution{}
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

func toContribution(p providers.Provider, row models.ContributionRow) models.Contribution {
	env := row.Envelope()
	c := models.Contribution{
		ID:               env.ID,
		ProviderType:     p.Type(),
		UserID:           env.UserID,
		ProofID:          env.ProofID,
		Status:           env.Status,
		ProcessingMethod: env.ProcessingMethod,
		WalletAddress:    env.WalletAddress,
		CreatedAt:        env.CreatedAt,
		UpdatedAt:        env.UpdatedAt,
		IndexedFields:    row.IndexedFields(),
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &c.Payload); err != nil {
			logUndecodable(p, env.ID, "payload", err)
		}
	}
	if len(env.DerivedMetadata) > 0 {
		if err := json.Unmarshal(env.DerivedMetadata, &c.DerivedMetadata); err != nil {
			logUndecodable(p, env.ID, "derived_metadata", err)
		}
	}
	return c
}

func logUndecodable(p providers.Provider, id, column string, err error) {
	logger.WithFields(logrus.Fields{
		"provider":        p.Type(),
		"contribution_id": id,
		"column":          column,
	}).Warnf("stored contribution %s is not valid JSON: %v", column, err)
}
