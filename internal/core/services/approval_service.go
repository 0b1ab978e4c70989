package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sentinel/console/internal/core/ports"
	"github.com/sentinel/console/internal/domain"
	"github.com/sentinel/console/internal/infrastructure/logger"
	"github.com/sentinel/console/internal/infrastructure/metrics"
)

// Approval decisions
const (
	DecisionApproveAll    = "approve_all"
	DecisionApproveSingle = "approve_single"
	DecisionReject        = "reject"
	DecisionExpired       = "expired"
)

const DefaultApprovalTTL = time.Hour

// pendingApproval is one outstanding proposal, keyed by its message id.
type pendingApproval struct {
	ref       domain.MessageRef
	message   domain.Message
	actions   []domain.ApprovalAction
	responded bool
	expiresAt time.Time
}

// ApprovalService posts action proposals and carries them out once a user
// reacts. Only the first response to a proposal has any effect.
type ApprovalService struct {
	notify  ports.Notifier
	applier ports.ActionApplier
	log     *logger.Logger
	metrics *metrics.Collector
	ttl     time.Duration

	mu      sync.Mutex
	pending map[string]*pendingApproval
	closed  bool
	now     func() time.Time

	// While a proposal is being posted its message id is unknown. Reactions
	// for unknown messages seen in that window are held in early and
	// replayed once the id is registered.
	posting int
	early   map[string][]domain.Reaction

	runCtx    context.Context
	runCancel context.CancelFunc
	running   sync.WaitGroup
}

func NewApprovalService(notify ports.Notifier, applier ports.ActionApplier, ttl time.Duration, log *logger.Logger, m *metrics.Collector) *ApprovalService {
	if ttl <= 0 {
		ttl = DefaultApprovalTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ApprovalService{
		notify:    notify,
		applier:   applier,
		log:       log,
		metrics:   m,
		ttl:       ttl,
		pending:   make(map[string]*pendingApproval),
		early:     make(map[string][]domain.Reaction),
		now:       time.Now,
		runCtx:    ctx,
		runCancel: cancel,
	}
}

// SetClock replaces the clock used for expiry.
func (s *ApprovalService) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Propose posts msg to category with one numbered field per action and
// registers it for a response. At most len(domain.NumberEmoji) actions are
// offered.
func (s *ApprovalService) Propose(ctx context.Context, category domain.Category, msg domain.Message, actions []domain.ApprovalAction) (domain.MessageRef, error) {
	if len(actions) == 0 {
		return domain.MessageRef{}, ErrProposalEmpty
	}
	if len(actions) > len(domain.NumberEmoji) {
		s.log.Warnw("approval_propose_truncated", "offered", len(actions), "kept", len(domain.NumberEmoji))
		actions = actions[:len(domain.NumberEmoji)]
	}

	actions = append([]domain.ApprovalAction(nil), actions...)
	for i, a := range actions {
		msg.AddField(domain.NumberEmoji[i]+" "+a.Target, a.Host, true)
	}
	msg.Reactions = append([]string{domain.EmojiApprove, domain.EmojiReject}, domain.NumberEmoji[:len(actions)]...)
	if msg.Footer == "" {
		msg.Footer = fmt.Sprintf("%s approve all · %s reject · number to approve one", domain.EmojiApprove, domain.EmojiReject)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.MessageRef{}, ErrApprovalsClosed
	}
	s.posting++
	s.mu.Unlock()

	ref, ok := s.notify.Send(ctx, category, msg)

	s.mu.Lock()
	s.posting--
	held := s.early[ref.MessageID]
	delete(s.early, ref.MessageID)
	if s.posting == 0 {
		s.early = make(map[string][]domain.Reaction)
	}
	if !ok {
		s.mu.Unlock()
		return domain.MessageRef{}, ErrProposalNotDelivered
	}
	if s.closed {
		s.mu.Unlock()
		return ref, ErrApprovalsClosed
	}
	s.pending[ref.MessageID] = &pendingApproval{
		ref:       ref,
		message:   msg,
		actions:   actions,
		expiresAt: s.now().Add(s.ttl),
	}
	s.mu.Unlock()
	s.log.Infow("approval_proposed", "message_id", ref.MessageID, "actions", len(actions))

	for _, r := range held {
		s.HandleReaction(ctx, r)
	}
	return ref, nil
}

// HandleReaction consumes a reaction on a known proposal. It reports false
// for messages that are not pending proposals. A proposal past its TTL is
// discarded and the reaction has no effect. Approved actions run in the
// background; Wait blocks until they finish.
func (s *ApprovalService) HandleReaction(ctx context.Context, r domain.Reaction) bool {
	decision, selected, ok := s.decide(r)
	if !ok {
		return s.isProposal(r.MessageID)
	}

	s.mu.Lock()
	p, found := s.pending[r.MessageID]
	if !found || s.closed {
		if !found && !s.closed && s.posting > 0 {
			s.early[r.MessageID] = append(s.early[r.MessageID], r)
		}
		s.mu.Unlock()
		return found
	}
	if !s.now().Before(p.expiresAt) {
		delete(s.pending, r.MessageID)
		expired := !p.responded
		s.mu.Unlock()
		if expired {
			s.metrics.Approval(DecisionExpired)
		}
		s.log.Infow("approval_reaction_after_expiry", "message_id", r.MessageID, "user", r.UserID)
		return true
	}
	if p.responded {
		s.mu.Unlock()
		s.log.Debugw("approval_already_responded", "message_id", r.MessageID, "user", r.UserID)
		return true
	}
	if decision == DecisionApproveSingle && selected >= len(p.actions) {
		s.mu.Unlock()
		return true
	}
	p.responded = true
	s.running.Add(1)
	s.mu.Unlock()

	s.metrics.Approval(decision)
	s.log.Infow("approval_responded", "message_id", r.MessageID, "user", r.UserID, "decision", decision)

	var actions []domain.ApprovalAction
	switch decision {
	case DecisionApproveAll:
		actions = p.actions
	case DecisionApproveSingle:
		actions = p.actions[selected : selected+1]
	}

	go func() {
		defer s.running.Done()
		s.execute(s.runCtx, p, decision, actions, r.UserID)
	}()
	return true
}

func (s *ApprovalService) decide(r domain.Reaction) (string, int, bool) {
	switch r.Emoji {
	case domain.EmojiApprove:
		return DecisionApproveAll, 0, true
	case domain.EmojiReject, domain.EmojiCancel:
		return DecisionReject, 0, true
	}
	if i, ok := domain.NumberIndex(r.Emoji); ok {
		return DecisionApproveSingle, i, true
	}
	return "", 0, false
}

func (s *ApprovalService) isProposal(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[messageID]
	return ok
}

// execute runs the chosen actions in order. Each outcome is independent of
// the others.
func (s *ApprovalService) execute(ctx context.Context, p *pendingApproval, decision string, actions []domain.ApprovalAction, user string) {
	msg := p.message
	msg.Fields = append([]domain.Field(nil), msg.Fields...)
	msg.Reactions = nil

	if decision == DecisionReject {
		msg.Color = domain.ColorMuted
		msg.Footer = "Rejected by " + user
		s.notify.Edit(ctx, p.ref, msg)
		return
	}

	failed := 0
	for _, a := range actions {
		res := s.applier.Apply(ctx, a, user)
		mark := "✅"
		if !res.Success {
			failed++
			mark = "❌"
		}
		msg.AddField(mark+" "+a.Target, truncate(res.Output(), 200), false)
		s.log.Infow("approval_action_done",
			"message_id", p.ref.MessageID,
			"target", a.Target,
			"host", a.Host,
			"success", res.Success,
		)
	}

	msg.Color = domain.ColorSuccess
	if failed > 0 {
		msg.Color = domain.ColorWarning
	}
	msg.Footer = fmt.Sprintf("Approved by %s · %d/%d succeeded", user, len(actions)-failed, len(actions))
	s.notify.Edit(ctx, p.ref, msg)
}

// Sweep discards proposals past their TTL and returns how many unanswered
// proposals expired.
func (s *ApprovalService) Sweep(ctx context.Context) int {
	s.mu.Lock()
	now := s.now()
	expired := 0
	for id, p := range s.pending {
		if now.Before(p.expiresAt) {
			continue
		}
		if !p.responded {
			expired++
		}
		delete(s.pending, id)
	}
	s.mu.Unlock()

	for i := 0; i < expired; i++ {
		s.metrics.Approval(DecisionExpired)
	}
	if expired > 0 {
		s.log.Infow("approval_sweep", "expired", expired)
	}
	return expired
}

// Pending returns the number of tracked proposals.
func (s *ApprovalService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Wait blocks until every approved batch has finished.
func (s *ApprovalService) Wait() {
	s.running.Wait()
}

// Close drops every pending proposal and waits for running batches, which
// see a cancelled context.
func (s *ApprovalService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pending = make(map[string]*pendingApproval)
	s.early = make(map[string][]domain.Reaction)
	s.mu.Unlock()

	s.runCancel()
	s.running.Wait()
	return nil
}
