package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/BTreeMap/VoiceIntake/internal/chain"
	"github.com/BTreeMap/VoiceIntake/internal/genai"
	"github.com/BTreeMap/VoiceIntake/internal/questionnaire"
	"github.com/BTreeMap/VoiceIntake/internal/store"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidInput marks requests rejected before any model is called.
var ErrInvalidInput = errors.New("invalid input")

// Replier produces the interviewer's reply for a turn. It must not write the
// session history; the orchestrator appends the returned messages.
type Replier interface {
	Generate(ctx context.Context, sessionID string, history []store.Message, utterance, nextQuestion string) (chain.Reply, error)
}

// Extractor re-derives the record from the conversation.
type Extractor interface {
	Extract(ctx context.Context, sessionID string, history []store.Message, utterance string, current questionnaire.Record) (questionnaire.Record, error)
}

// TurnRequest is one user utterance within a session.
type TurnRequest struct {
	SessionID   string
	ProlificPID string
	TTSVoice    string
	Transcript  string
}

// TurnResult is the outcome of a turn.
type TurnResult struct {
	ResponseText string
	// AllQuestionsAnswered is computed from the record as it was before this turn.
	AllQuestionsAnswered bool
}

// Orchestrator runs interview turns against the record and history stores.
type Orchestrator struct {
	cfg       Config
	catalog   *questionnaire.Catalog
	selector  *questionnaire.Selector
	store     store.Store
	replier   Replier
	extractor Extractor
}

// Option configures an Orchestrator.
type Option func(*orchestratorOpts)

type orchestratorOpts struct {
	catalog   *questionnaire.Catalog
	source    rand.Source
	replier   Replier
	extractor Extractor
}

// WithCatalog replaces the default question catalog.
func WithCatalog(c *questionnaire.Catalog) Option {
	return func(o *orchestratorOpts) { o.catalog = c }
}

// WithRandomSource fixes the source used to pick the next question.
func WithRandomSource(src rand.Source) Option {
	return func(o *orchestratorOpts) { o.source = src }
}

// WithReplier replaces the model-backed reply chain.
func WithReplier(r Replier) Option {
	return func(o *orchestratorOpts) { o.replier = r }
}

// WithExtractor replaces the model-backed extraction chain.
func WithExtractor(e Extractor) Option {
	return func(o *orchestratorOpts) { o.extractor = e }
}

// NewOrchestrator builds an orchestrator. client backs both chains unless they
// are replaced through options.
func NewOrchestrator(cfg Config, client genai.ClientInterface, st store.Store, opts ...Option) (*Orchestrator, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	var o orchestratorOpts
	for _, opt := range opts {
		opt(&o)
	}
	if o.catalog == nil {
		o.catalog = questionnaire.DefaultCatalog()
	}
	if (o.replier == nil || o.extractor == nil) && client == nil {
		return nil, fmt.Errorf("genai client is required")
	}
	if o.replier == nil {
		o.replier = chain.NewReplyChain(client, chain.Settings{
			Model:       cfg.ReplyModel,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
	}
	if o.extractor == nil {
		extractor, err := chain.NewExtractionChain(client, o.catalog, chain.Settings{
			Model:       cfg.ExtractionModel,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		o.extractor = extractor
	}

	return &Orchestrator{
		cfg:       cfg,
		catalog:   o.catalog,
		selector:  questionnaire.NewSelector(o.catalog, o.source),
		store:     st,
		replier:   o.replier,
		extractor: o.extractor,
	}, nil
}

// Config returns the orchestrator configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// RunTurn processes one utterance. A reply failure or a storage failure aborts the
// turn and leaves the history untouched; an extraction failure only keeps the
// previous record. The turn's messages are appended once the record is settled.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return TurnResult{}, fmt.Errorf("%w: missing session id", ErrInvalidInput)
	}
	if strings.TrimSpace(req.Transcript) == "" {
		return TurnResult{}, fmt.Errorf("%w: empty transcript", ErrInvalidInput)
	}
	turnID := uuid.NewString()
	log := slog.With("sessionID", sessionID, "turnID", turnID)

	current, err := o.loadRecord(ctx, sessionID)
	if err != nil {
		return TurnResult{}, err
	}

	selection := o.selector.Next(current)
	nextQuestion := selection.Prompt()
	log.Info("Orchestrator.RunTurn: selected next question", "question", selection.Question.Key, "allAnswered", selection.AllAnswered)

	history, err := o.store.History(ctx, sessionID)
	if err != nil {
		log.Error("Orchestrator.RunTurn: failed to load history", "error", err)
		return TurnResult{}, fmt.Errorf("failed to load history: %w", err)
	}

	var (
		reply      chain.Reply
		replyErr   error
		extracted  questionnaire.Record
		extractErr error
		g          errgroup.Group
	)
	// Each chain records its own outcome so one failing does not cancel the other.
	g.Go(func() error {
		reply, replyErr = o.replier.Generate(ctx, sessionID, history, req.Transcript, nextQuestion)
		return nil
	})
	g.Go(func() error {
		extracted, extractErr = o.extractor.Extract(ctx, sessionID, history, req.Transcript, current)
		return nil
	})
	_ = g.Wait()

	if replyErr != nil {
		log.Error("Orchestrator.RunTurn: reply chain failed", "error", replyErr)
		return TurnResult{}, fmt.Errorf("reply chain failed: %w", replyErr)
	}

	if extractErr != nil {
		log.Warn("Orchestrator.RunTurn: extraction discarded, keeping previous record", "error", extractErr)
	} else if err := o.persist(ctx, sessionID, current, extracted, store.SessionMetadata{
		ProlificPID: req.ProlificPID,
		TTSVoice:    req.TTSVoice,
	}); err != nil {
		if !errors.Is(err, errRejectedRecord) {
			log.Error("Orchestrator.RunTurn: failed to persist record", "error", err)
			return TurnResult{}, err
		}
		log.Warn("Orchestrator.RunTurn: extraction discarded, keeping previous record", "error", err)
	}

	if err := o.store.AppendMessages(ctx, sessionID, reply.Messages...); err != nil {
		log.Error("Orchestrator.RunTurn: failed to append history", "error", err)
		return TurnResult{}, fmt.Errorf("failed to record conversation turn: %w", err)
	}

	text := reply.Text
	if strings.TrimSpace(text) == "" {
		text = NoInformationText
	}
	return TurnResult{
		ResponseText:         text,
		AllQuestionsAnswered: selection.AllAnswered,
	}, nil
}

var errRejectedRecord = errors.New("extracted record rejected")

// persist validates the extracted record and writes it as the session's record.
func (o *Orchestrator) persist(ctx context.Context, sessionID string, current, extracted questionnaire.Record, meta store.SessionMetadata) error {
	record := extracted
	if o.cfg.MergeExtraction {
		record = o.catalog.Merge(current, extracted)
	}
	if err := o.catalog.Validate(record); err != nil {
		return fmt.Errorf("%w: %w", errRejectedRecord, err)
	}
	if err := o.store.UpsertRecord(ctx, store.CollectionResponses, sessionID, record, meta); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	slog.Debug("Orchestrator.persist: record saved", "sessionID", sessionID, "unanswered", len(o.selector.Unanswered(record)))
	return nil
}

// loadRecord returns the stored working record, or the empty record when the
// session has none. A stored record that no longer matches the catalog is
// treated as absent.
func (o *Orchestrator) loadRecord(ctx context.Context, sessionID string) (questionnaire.Record, error) {
	doc, err := o.store.GetRecord(ctx, store.CollectionResponses, sessionID)
	if err != nil {
		slog.Error("Orchestrator.loadRecord: failed to load record", "sessionID", sessionID, "error", err)
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	if doc == nil {
		return o.catalog.EmptyRecord(), nil
	}
	if err := o.catalog.Validate(doc.Data); err != nil {
		slog.Error("Orchestrator.loadRecord: stored record is invalid, starting empty", "sessionID", sessionID, "error", err)
		return o.catalog.EmptyRecord(), nil
	}
	return doc.Data, nil
}

// Responses returns the working record of a session, or nil when there is none
// or the stored one is invalid.
func (o *Orchestrator) Responses(ctx context.Context, sessionID string) (questionnaire.Record, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidInput)
	}
	doc, err := o.store.GetRecord(ctx, store.CollectionResponses, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	if doc == nil {
		return nil, nil
	}
	if err := o.catalog.Validate(doc.Data); err != nil {
		slog.Warn("Orchestrator.Responses: stored record is invalid", "sessionID", sessionID, "error", err)
		return nil, nil
	}
	return doc.Data, nil
}

// SaveFinalResponses stores the record the participant confirmed.
func (o *Orchestrator) SaveFinalResponses(ctx context.Context, sessionID string, record questionnaire.Record, meta store.SessionMetadata) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: missing session id", ErrInvalidInput)
	}
	if err := o.catalog.Validate(record); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := o.store.UpsertRecord(ctx, store.CollectionFinalResponses, sessionID, record, meta); err != nil {
		slog.Error("Orchestrator.SaveFinalResponses: failed to save", "sessionID", sessionID, "error", err)
		return fmt.Errorf("failed to save final responses: %w", err)
	}
	slog.Info("Orchestrator.SaveFinalResponses: final responses saved", "sessionID", sessionID)
	return nil
}
