package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/progress"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// memDB is an in-memory stand-in for the Postgres repositories. txMu plays the
// role of row locks: every unit of work holds it for its whole duration.
type memDB struct {
	mu   sync.Mutex
	txMu sync.Mutex

	schedules map[uuid.UUID]*model.Schedule
	links     map[uuid.UUID][]uuid.UUID
	questions map[uuid.UUID]model.Question
	users     map[int]*model.User
	sessions  map[uuid.UUID]*model.Session
	instances map[uuid.UUID]*model.ExamInstance
	durable   map[uuid.UUID]*model.Progress
	results   []*model.Result
	essays    []*model.EssaySubmission
	nextEssay int64

	now func() time.Time
}

func newMemDB() *memDB {
	return &memDB{
		schedules: map[uuid.UUID]*model.Schedule{},
		links:     map[uuid.UUID][]uuid.UUID{},
		questions: map[uuid.UUID]model.Question{},
		users:     map[int]*model.User{},
		sessions:  map[uuid.UUID]*model.Session{},
		instances: map[uuid.UUID]*model.ExamInstance{},
		durable:   map[uuid.UUID]*model.Progress{},
		now:       time.Now,
	}
}

func (db *memDB) addSchedule(s *model.Schedule) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	db.schedules[s.ID] = s
}

func (db *memDB) addQuestion(scheduleID uuid.UUID, q model.Question) uuid.UUID {
	db.mu.Lock()
	defer db.mu.Unlock()
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	if q.Status == "" {
		q.Status = model.ApprovalStatusApproved
	}
	db.questions[q.ID] = q
	db.links[scheduleID] = append(db.links[scheduleID], q.ID)
	return q.ID
}

func (db *memDB) activeCount(userID int) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, s := range db.sessions {
		if s.UserID == userID && s.Status == model.SessionStatusActive {
			n++
		}
	}
	return n
}

func (db *memDB) resultCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.results)
}

// ─── SessionStore / ApprovedQuestionSource ──────────────────────────────────

func (db *memDB) ListApprovedByIDs(_ context.Context, ids []uuid.UUID) ([]model.Question, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []model.Question
	for _, id := range ids {
		if q, ok := db.questions[id]; ok && q.Status == model.ApprovalStatusApproved {
			out = append(out, q)
		}
	}
	return out, nil
}

func (db *memDB) findActiveLocked(userID int) *model.Session {
	for _, s := range db.sessions {
		if s.UserID == userID && s.Status == model.SessionStatusActive {
			cp := *s
			return &cp
		}
	}
	return nil
}

func (db *memDB) FindActive(_ context.Context, userID int) (*model.Session, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if s := db.findActiveLocked(userID); s != nil {
		return s, nil
	}
	return nil, repository.ErrNotFound
}

func (db *memDB) LoadInstance(_ context.Context, sessionID uuid.UUID) (*model.ExamInstance, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	inst, ok := db.instances[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: no instance", model.ErrStaleOrMissingProgress)
	}
	if err := inst.Validate(); err != nil {
		return nil, err
	}
	return inst, nil
}

func (db *memDB) LoadProgressSnapshot(_ context.Context, sessionID uuid.UUID) (*model.Progress, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	p, ok := db.durable[sessionID]
	if !ok {
		return nil, model.ErrStaleOrMissingProgress
	}
	return p.Clone(), nil
}

func (db *memDB) CreateActive(_ context.Context, s *model.Session, inst *model.ExamInstance, staleID uuid.UUID) (*model.Session, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if staleID != uuid.Nil {
		if old, ok := db.sessions[staleID]; ok && old.Status == model.SessionStatusActive {
			delete(db.sessions, staleID)
			delete(db.instances, staleID)
			delete(db.durable, staleID)
		}
	}
	if winner := db.findActiveLocked(s.UserID); winner != nil {
		return winner, false, nil
	}
	now := db.now()
	cp := *s
	cp.ID = uuid.New()
	cp.Status = model.SessionStatusActive
	cp.QuestionCount = len(inst.Questions)
	cp.StartedAt, cp.LastUpdate = now, now
	db.sessions[cp.ID] = &cp
	db.instances[cp.ID] = inst
	db.durable[cp.ID] = model.NewProgress()
	out := cp
	return &out, true, nil
}

func (db *memDB) Finalize(ctx context.Context, fn func(repository.FinalizeTx) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()
	tx := &memFinalizeTx{db: db}
	if err := fn(tx); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.results = append(db.results, tx.results...)
	db.essays = append(db.essays, tx.essays...)
	if tx.finished != nil {
		s := db.sessions[tx.finished.id]
		s.Status = model.SessionStatusFinished
		at := tx.finished.at
		s.FinishedAt = &at
		db.durable[s.ID] = tx.finished.final
	}
	return nil
}

type memFinalizeTx struct {
	db       *memDB
	results  []*model.Result
	essays   []*model.EssaySubmission
	finished *finishRecord
}

type finishRecord struct {
	id    uuid.UUID
	final *model.Progress
	at    time.Time
}

func (t *memFinalizeTx) LockActiveSession(ctx context.Context, userID int) (*model.Session, error) {
	return t.db.FindActive(ctx, userID)
}

func (t *memFinalizeTx) LoadInstance(ctx context.Context, sessionID uuid.UUID) (*model.ExamInstance, error) {
	return t.db.LoadInstance(ctx, sessionID)
}

func (t *memFinalizeTx) LoadProgress(ctx context.Context, sessionID uuid.UUID) (*model.Progress, error) {
	return t.db.LoadProgressSnapshot(ctx, sessionID)
}

func (t *memFinalizeTx) CountResults(_ context.Context, userID int, scheduleID uuid.UUID) (int, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	n := 0
	for _, r := range t.db.results {
		if r.UserID == userID && r.ScheduleID == scheduleID {
			n++
		}
	}
	return n, nil
}

func (t *memFinalizeTx) InsertResult(_ context.Context, res *model.Result) error {
	res.ID = uuid.New()
	cp := *res
	t.results = append(t.results, &cp)
	return nil
}

func (t *memFinalizeTx) InsertEssays(_ context.Context, essays []model.EssaySubmission) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	for i := range essays {
		t.db.nextEssay++
		essays[i].ID = t.db.nextEssay
		cp := essays[i]
		t.essays = append(t.essays, &cp)
	}
	return nil
}

func (t *memFinalizeTx) FinishSession(_ context.Context, sessionID uuid.UUID, final *model.Progress, at time.Time) error {
	t.finished = &finishRecord{id: sessionID, final: final.Clone(), at: at}
	return nil
}

// ─── Grading ────────────────────────────────────────────────────────────────

func (db *memDB) ListPendingEssays(_ context.Context, _ *uuid.UUID, limit int) ([]model.EssaySubmission, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []model.EssaySubmission
	for _, e := range db.essays {
		if e.Status == model.EssayStatusPending && len(out) < limit {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (db *memDB) Grade(_ context.Context, fn func(repository.GradingTx) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()
	tx := &memGradingTx{db: db, grades: map[int64]float64{}}
	if err := fn(tx); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	for id, score := range tx.grades {
		for _, e := range db.essays {
			if e.ID == id {
				s := score
				e.Score, e.Status = &s, model.EssayStatusGraded
			}
		}
	}
	if tx.update != nil {
		for _, r := range db.results {
			if r.ID == tx.update.ID {
				r.Score, r.Status, r.GradingStatus = tx.update.Score, tx.update.Status, tx.update.GradingStatus
			}
		}
	}
	return nil
}

type memGradingTx struct {
	db     *memDB
	grades map[int64]float64
	update *model.Result
}

func (t *memGradingTx) essay(id int64) *model.EssaySubmission {
	for _, e := range t.db.essays {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (t *memGradingTx) EssayResultID(_ context.Context, essayID int64) (uuid.UUID, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if e := t.essay(essayID); e != nil {
		return e.ResultID, nil
	}
	return uuid.Nil, repository.ErrNotFound
}

func (t *memGradingTx) LockResult(_ context.Context, resultID uuid.UUID) (*model.Result, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	for _, r := range t.db.results {
		if r.ID == resultID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (t *memGradingTx) GradeEssay(_ context.Context, essayID int64, score float64, _ int, _ time.Time) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	e := t.essay(essayID)
	if e == nil || e.Status != model.EssayStatusPending {
		return repository.ErrAlreadyGraded
	}
	t.grades[essayID] = score
	return nil
}

func (t *memGradingTx) EssayScores(_ context.Context, resultID uuid.UUID) ([]float64, int, int, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	var scores []float64
	total, pending := 0, 0
	for _, e := range t.db.essays {
		if e.ResultID != resultID {
			continue
		}
		total++
		if s, ok := t.grades[e.ID]; ok {
			scores = append(scores, s)
			continue
		}
		if e.Status == model.EssayStatusPending {
			pending++
			continue
		}
		scores = append(scores, *e.Score)
	}
	return scores, total, pending, nil
}

func (t *memGradingTx) UpdateResultScore(_ context.Context, resultID uuid.UUID, score float64, status string, gs model.GradingStatus) error {
	t.update = &model.Result{ID: resultID, Score: score, Status: status, GradingStatus: gs}
	return nil
}

// ─── Narrow views ───────────────────────────────────────────────────────────

type memSchedules struct{ db *memDB }

func (m memSchedules) FindCurrent(_ context.Context, now time.Time) (*model.Schedule, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var best *model.Schedule
	for _, s := range m.db.schedules {
		if s.IsCurrent(now) && (best == nil || s.StartTime.After(best.StartTime)) {
			best = s
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m memSchedules) GetByID(_ context.Context, id uuid.UUID) (*model.Schedule, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	s, ok := m.db.schedules[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m memSchedules) CountAttempts(_ context.Context, userID int, scheduleID uuid.UUID) (int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	n := 0
	for _, r := range m.db.results {
		if r.UserID == userID && r.ScheduleID == scheduleID {
			n++
		}
	}
	return n, nil
}

func (m memSchedules) LinkedQuestionIDs(_ context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	return append([]uuid.UUID(nil), m.db.links[id]...), nil
}

type memResults struct{ db *memDB }

func (m memResults) find(match func(*model.Result) bool) (*model.Result, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for i := len(m.db.results) - 1; i >= 0; i-- {
		if r := m.db.results[i]; match(r) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m memResults) GetByID(_ context.Context, id uuid.UUID) (*model.Result, error) {
	return m.find(func(r *model.Result) bool { return r.ID == id })
}

func (m memResults) GetBySession(_ context.Context, sessionID uuid.UUID) (*model.Result, error) {
	return m.find(func(r *model.Result) bool { return r.SessionID == sessionID })
}

func (m memResults) LatestForUser(_ context.Context, userID int, since time.Time) (*model.Result, error) {
	return m.find(func(r *model.Result) bool { return r.UserID == userID && !r.CompletedAt.Before(since) })
}

func (m memResults) ListReleasedByUser(_ context.Context, userID int) ([]model.Result, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []model.Result
	for _, r := range m.db.results {
		if s := m.db.schedules[r.ScheduleID]; r.UserID == userID && s != nil && s.ResultsReleased {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	return out, nil
}

type memUsers struct{ db *memDB }

func (m memUsers) GetByID(_ context.Context, id int) (*model.User, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if u, ok := m.db.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (m memUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, u := range m.db.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

// memDurable is the durable progress tier over memDB: the snapshot of the user's
// active session for the schedule.
type memDurable struct{ db *memDB }

func (m memDurable) sessionFor(key progress.Key) (uuid.UUID, bool) {
	for id, s := range m.db.sessions {
		if s.UserID == key.UserID && s.ScheduleID == key.ScheduleID && s.Status == model.SessionStatusActive {
			return id, true
		}
	}
	return uuid.Nil, false
}

func (m memDurable) Get(_ context.Context, key progress.Key) (*model.Progress, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	id, ok := m.sessionFor(key)
	if !ok {
		return nil, model.ErrStaleOrMissingProgress
	}
	return m.db.durable[id].Clone(), nil
}

func (m memDurable) Put(_ context.Context, key progress.Key, p *model.Progress, _ time.Duration) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	id, ok := m.sessionFor(key)
	if !ok {
		return model.ErrStaleOrMissingProgress
	}
	m.db.durable[id] = p.Clone()
	return nil
}

func (m memDurable) Delete(context.Context, progress.Key) error { return nil }

func (m memDurable) Patch(_ context.Context, key progress.Key, patch model.ProgressPatch, _ time.Duration) (int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	id, ok := m.sessionFor(key)
	if !ok {
		return 0, model.ErrStaleOrMissingProgress
	}
	p := m.db.durable[id]
	p.Apply(patch)
	return p.AnsweredCount(), nil
}

// ─── Sinks ──────────────────────────────────────────────────────────────────

type recorder struct {
	mu      sync.Mutex
	events  []model.ExamEvent
	audits  []model.AuditEvent
	monitor []MonitorEvent
}

func (r *recorder) Emit(_ context.Context, ev model.ExamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Record(_ context.Context, ev model.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, ev)
}

func (r *recorder) Publish(_ context.Context, ev MonitorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitor = append(r.monitor, ev)
}

func (r *recorder) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.EventType
	}
	return out
}

func (r *recorder) auditActions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.audits))
	for i, ev := range r.audits {
		out[i] = ev.Action
	}
	return out
}

type fixedThreshold float64

func (f fixedThreshold) PassingScore(context.Context) float64 { return float64(f) }

// ─── Harness ────────────────────────────────────────────────────────────────

type harness struct {
	db       *memDB
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	rec      *recorder
	store    progress.Store
	sessions *SessionService
	finalize *FinalizeService
	grading  *GradingService
	schedule *model.Schedule
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	db := newMemDB()
	rec := &recorder{}
	log := zerolog.Nop()
	store := progress.NewFallbackStore(progress.NewRedisStore(rdb, time.Second), memDurable{db}, nil, time.Hour, log)
	active := NewActiveSessionCache(rdb, time.Second)

	now := time.Now()
	sched := &model.Schedule{
		Title:           "Ujian Akhir Biologi",
		StartTime:       now.Add(-time.Hour),
		EndTime:         now.Add(time.Hour),
		DurationMinutes: 90,
		MaxAttempts:     2,
		IsActive:        true,
	}
	db.addSchedule(sched)
	db.users[42] = &model.User{ID: 42, Username: "siswa42", Name: "Siswa Empat Dua", Role: model.RoleParticipant}

	h := &harness{db: db, mr: mr, rdb: rdb, rec: rec, store: store, schedule: sched}
	h.sessions = NewSessionService(memSchedules{db}, db, db, store, active, rec, rec, rec, NewSeededShuffler(7), time.Hour, log)
	h.finalize = NewFinalizeService(db, memResults{db}, memSchedules{db}, memUsers{db}, store, active, fixedThreshold(70), rec, rec, rec, log)
	h.grading = NewGradingService(db, fixedThreshold(70), rec, log)
	return h
}

func intPtr(v int) *int { return &v }

func boolPtr(v bool) *bool { return &v }

// addMC links a multiple-choice question whose correct option is at index correct.
func (h *harness) addMC(text string, correct int) uuid.UUID {
	return h.db.addQuestion(h.schedule.ID, model.Question{
		Type:         model.QuestionTypeMultipleChoice,
		Text:         text,
		Options:      []string{text + " A", text + " B", text + " C", text + " D"},
		CorrectIndex: intPtr(correct),
		Topic:        "sel",
	})
}

func (h *harness) addEssay(text string) uuid.UUID {
	return h.db.addQuestion(h.schedule.ID, model.Question{
		Type:  model.QuestionTypeEssay,
		Text:  text,
		Topic: "genetika",
	})
}

var alice = Participant{UserID: 42, Username: "siswa42", Name: "Siswa Empat Dua"}

// correctAnswers answers every multiple-choice position of the session correctly.
func (h *harness) correctAnswers(t *testing.T, sessionID uuid.UUID) map[int]model.Answer {
	t.Helper()
	inst, err := h.db.LoadInstance(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("load instance: %v", err)
	}
	out := map[int]model.Answer{}
	for pos, q := range inst.Questions {
		if q.Type == model.QuestionTypeMultipleChoice {
			out[pos] = model.Answer{Option: intPtr(q.CorrectIndex)}
		}
	}
	return out
}
