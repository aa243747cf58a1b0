// -----------------------------------------------------------------------
// Chat service - conversation sessions feeding the interpreter. User text
// plus the live schema go to the interpreter; accepted proposals become
// jobs through the coordinator. The batch core never sees chat history.
// -----------------------------------------------------------------------

package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/common"
	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/jobs/coordinator"
	"github.com/matt-hans/shipagent/internal/models"
)

// Reply is the chat service's answer to one user message. Either Question
// asks for clarification, or Job carries the created/refined job with its
// preview pending.
type Reply struct {
	ConversationID string                     `json:"conversation_id"`
	Question       string                     `json:"question,omitempty"`
	Job            *models.Job                `json:"job,omitempty"`
	Proposal       *interfaces.IntentProposal `json:"proposal,omitempty"`
}

// Options tunes message handling
type Options struct {
	Mode        models.JobMode
	AutoConfirm bool
}

// Service drives conversations
type Service struct {
	sessions    interfaces.ConversationStorage
	interpreter interfaces.Interpreter
	gateway     interfaces.DataGateway
	coordinator *coordinator.Coordinator
	logger      arbor.ILogger
}

// NewService creates the chat service
func NewService(
	sessions interfaces.ConversationStorage,
	interp interfaces.Interpreter,
	gateway interfaces.DataGateway,
	coord *coordinator.Coordinator,
	logger arbor.ILogger,
) *Service {
	return &Service{
		sessions:    sessions,
		interpreter: interp,
		gateway:     gateway,
		coordinator: coord,
		logger:      logger,
	}
}

// OpenSession starts a new conversation
func (s *Service) OpenSession(ctx context.Context) (*models.Conversation, error) {
	conv := &models.Conversation{
		ID:        common.NewConversationID(),
		CreatedAt: time.Now(),
	}
	if err := s.sessions.Save(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.logger.Debug().Str("conversation_id", conv.ID).Msg("Session opened")
	return conv, nil
}

// GetSession returns an existing conversation
func (s *Service) GetSession(ctx context.Context, id string) (*models.Conversation, error) {
	return s.sessions.Get(ctx, id)
}

// PostMessage runs one turn: interpret the user's text against the live
// schema and either ask a clarifying question or hand a job to the
// coordinator. A session with a pending job refines it instead of opening a
// second one.
func (s *Service) PostMessage(ctx context.Context, conversationID, text string, opts Options) (*Reply, error) {
	conv, err := s.sessions.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	schema, err := s.gateway.GetSchema(ctx)
	if err != nil {
		return nil, err
	}

	proposal, err := s.interpreter.Interpret(ctx, text, schema, conv.Messages)
	if err != nil {
		return nil, err
	}

	conv.Messages = append(conv.Messages, models.ConversationMessage{
		Role: "user", Content: text, Timestamp: time.Now(),
	})

	if proposal.NeedsClarification {
		conv.Messages = append(conv.Messages, models.ConversationMessage{
			Role: "assistant", Content: proposal.Question, Timestamp: time.Now(),
		})
		if err := s.sessions.Save(ctx, conv); err != nil {
			return nil, fmt.Errorf("failed to save session: %w", err)
		}
		return &Reply{ConversationID: conv.ID, Question: proposal.Question, Proposal: proposal}, nil
	}

	req := coordinator.CreateRequest{
		Command:     text,
		Where:       proposal.Where,
		Summary:     proposal.Summary,
		ServiceCode: proposal.ServiceCode,
		Mode:        opts.Mode,
		AutoConfirm: opts.AutoConfirm,
	}

	var job *models.Job
	if conv.JobID != "" {
		job, err = s.refineOrCreate(ctx, conv.JobID, req)
	} else {
		job, err = s.coordinator.CreateJob(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	conv.JobID = job.ID
	conv.Messages = append(conv.Messages, models.ConversationMessage{
		Role: "assistant", Content: proposal.Summary, Timestamp: time.Now(),
	})
	if err := s.sessions.Save(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.Info().
		Str("conversation_id", conv.ID).
		Str("job_id", job.ID).
		Msg("Message resolved to job")
	return &Reply{ConversationID: conv.ID, Job: job, Proposal: proposal}, nil
}

// refineOrCreate refines the session's pending job; a job that already ran
// (or was cancelled) gets a fresh one instead.
func (s *Service) refineOrCreate(ctx context.Context, jobID string, req coordinator.CreateRequest) (*models.Job, error) {
	job, err := s.coordinator.Refine(ctx, jobID, req)
	if err == nil {
		return job, nil
	}
	return s.coordinator.CreateJob(ctx, req)
}
