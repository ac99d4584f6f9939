package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// QuestionService manages the question bank.
type QuestionService struct {
	questionRepo *repository.QuestionRepository
	log          zerolog.Logger
}

func NewQuestionService(questionRepo *repository.QuestionRepository, log zerolog.Logger) *QuestionService {
	return &QuestionService{
		questionRepo: questionRepo,
		log:          log.With().Str("component", "question_service").Logger(),
	}
}

// PaginatedQuestions is one page of the question bank.
type PaginatedQuestions struct {
	Data    []model.Question `json:"data"`
	Total   int              `json:"total"`
	Page    int              `json:"page"`
	PerPage int              `json:"per_page"`
}

func (s *QuestionService) List(ctx context.Context, status, search string, page, perPage int) (*PaginatedQuestions, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	questions, total, err := s.questionRepo.List(ctx, status, search, page, perPage)
	if err != nil {
		return nil, err
	}
	if questions == nil {
		questions = []model.Question{}
	}
	return &PaginatedQuestions{Data: questions, Total: total, Page: page, PerPage: perPage}, nil
}

func (s *QuestionService) Get(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	return s.questionRepo.GetByID(ctx, id)
}

// Create stores a new question as draft.
func (s *QuestionService) Create(ctx context.Context, req model.UpsertQuestionRequest) (*model.Question, error) {
	q := questionFrom(req)
	if err := s.questionRepo.Create(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

// Update edits a question and returns it to draft. Existing exam instances are
// unaffected.
func (s *QuestionService) Update(ctx context.Context, id uuid.UUID, req model.UpsertQuestionRequest) (*model.Question, error) {
	q := questionFrom(req)
	q.ID = id
	if err := s.questionRepo.Update(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

// Approve makes a question eligible for new exam instances.
func (s *QuestionService) Approve(ctx context.Context, id uuid.UUID) error {
	q, err := s.questionRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if q.Type == model.QuestionTypeMultipleChoice {
		if _, ok := q.CorrectOption(); !ok {
			return ErrInvalidAnswerKey
		}
	}
	return s.questionRepo.SetStatus(ctx, id, model.ApprovalStatusApproved)
}

func (s *QuestionService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.questionRepo.Delete(ctx, id)
}

func questionFrom(req model.UpsertQuestionRequest) *model.Question {
	q := &model.Question{
		Type:       req.Type,
		Text:       req.Text,
		ImageURL:   req.ImageURL,
		Topic:      req.Topic,
		Difficulty: req.Difficulty,
	}
	if req.Type == model.QuestionTypeMultipleChoice {
		q.Options = req.Options
		q.CorrectIndex = req.CorrectIndex
	} else {
		q.Options = []string{}
	}
	if q.Difficulty == "" {
		q.Difficulty = "medium"
	}
	return q
}
