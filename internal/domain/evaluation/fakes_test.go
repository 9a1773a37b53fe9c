package evaluation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type memStore struct {
	mu                sync.Mutex
	seq               int
	campaigns         map[string]Campaign
	questions         map[string]Question
	campaignQuestions map[string][]string
	assignments       map[string]Assignment
	assignmentOrder   []string
	responses         map[string]Response
	results           map[string]Result
	adjustments       map[string][]AdjustmentRecord

	// failFinalize makes MarkFinalized fail for these result ids.
	failFinalize map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		campaigns:         map[string]Campaign{},
		questions:         map[string]Question{},
		campaignQuestions: map[string][]string{},
		assignments:       map[string]Assignment{},
		responses:         map[string]Response{},
		results:           map[string]Result{},
		adjustments:       map[string][]AdjustmentRecord{},
		failFinalize:      map[string]bool{},
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) CreateCampaign(_ context.Context, c Campaign) (Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.nextID("campaign")
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	m.campaigns[c.ID] = c
	return c, nil
}

func (m *memStore) GetCampaign(_ context.Context, id string) (Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return Campaign{}, notFound("campaign", id)
	}
	return c, nil
}

func (m *memStore) ListCampaigns(_ context.Context, tenantID, status string) ([]Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Campaign
	for _, c := range m.campaigns {
		if c.TenantID == tenantID && (status == "" || c.Status == status) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListActiveCampaigns(_ context.Context) ([]Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Campaign
	for _, c := range m.campaigns {
		if c.Status == CampaignStatusActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) hasResponsesLocked(campaignID string) bool {
	for _, r := range m.responses {
		if m.assignments[r.AssignmentID].CampaignID == campaignID {
			return true
		}
	}
	return false
}

func (m *memStore) UpdateCampaignWeights(_ context.Context, id string, w Weights) (Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return Campaign{}, notFound("campaign", id)
	}
	if m.hasResponsesLocked(id) {
		return Campaign{}, &CampaignLockedError{CampaignID: id}
	}
	c.Weights = w
	m.campaigns[id] = c
	return c, nil
}

func (m *memStore) UpdateCampaignStatus(_ context.Context, id, from, to string) (Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return Campaign{}, notFound("campaign", id)
	}
	if c.Status != from {
		return Campaign{}, &StateError{Op: "change campaign status", Reason: "campaign is " + c.Status}
	}
	c.Status = to
	m.campaigns[id] = c
	return c, nil
}

func (m *memStore) CancelCampaign(_ context.Context, id string) (Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return Campaign{}, 0, notFound("campaign", id)
	}
	c.Status = CampaignStatusCancelled
	m.campaigns[id] = c
	n := 0
	for aid, a := range m.assignments {
		if a.CampaignID == id && a.Status != AssignmentStatusCancelled {
			a.Status = AssignmentStatusCancelled
			m.assignments[aid] = a
			n++
		}
	}
	return c, n, nil
}

func (m *memStore) HasResponses(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasResponsesLocked(id), nil
}

func (m *memStore) addQuestion(q Question) Question {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q.ID == "" {
		q.ID = m.nextID("question")
	}
	m.questions[q.ID] = q
	return q
}

func (m *memStore) AttachQuestions(_ context.Context, id string, qids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	added := 0
	for _, qid := range qids {
		exists := false
		for _, have := range m.campaignQuestions[id] {
			if have == qid {
				exists = true
			}
		}
		if !exists {
			m.campaignQuestions[id] = append(m.campaignQuestions[id], qid)
			added++
		}
	}
	return added, nil
}

func (m *memStore) QuestionsFor(_ context.Context, id string) ([]Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.questionsLocked(id), nil
}

func (m *memStore) questionsLocked(id string) []Question {
	var out []Question
	for _, qid := range m.campaignQuestions[id] {
		out = append(out, m.questions[qid])
	}
	return out
}

func (m *memStore) GetQuestion(_ context.Context, id string) (Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[id]
	if !ok {
		return Question{}, notFound("question", id)
	}
	return q, nil
}

func (m *memStore) InsertAssignments(_ context.Context, campaignID string, specs []AssignmentSpec) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := 0
	for _, spec := range specs {
		dup := false
		for _, a := range m.assignments {
			if a.CampaignID == campaignID && a.EvaluatorID == spec.EvaluatorID && a.EvaluateeID == spec.EvaluateeID {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		a := Assignment{
			ID:           m.nextID("assignment"),
			CampaignID:   campaignID,
			EvaluatorID:  spec.EvaluatorID,
			EvaluateeID:  spec.EvaluateeID,
			Relationship: spec.Relationship,
			Status:       AssignmentStatusPending,
			CreatedAt:    time.Now().UTC(),
		}
		m.assignments[a.ID] = a
		m.assignmentOrder = append(m.assignmentOrder, a.ID)
		created++
	}
	return created, nil
}

func (m *memStore) GetAssignment(_ context.Context, id string) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return Assignment{}, notFound("assignment", id)
	}
	return a, nil
}

func (m *memStore) ListAssignmentsForEvaluator(_ context.Context, campaignID, evaluatorID string) ([]AssignmentProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AssignmentProgress
	for _, id := range m.assignmentOrder {
		a := m.assignments[id]
		if a.CampaignID != campaignID || a.EvaluatorID != evaluatorID {
			continue
		}
		answered := 0
		for _, r := range m.responses {
			if r.AssignmentID == a.ID {
				answered++
			}
		}
		out = append(out, AssignmentProgress{Assignment: a, Answered: answered, Questions: len(m.campaignQuestions[campaignID])})
	}
	return out, nil
}

func (m *memStore) ListAssignmentsForEvaluatee(_ context.Context, campaignID, evaluateeID string) ([]Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Assignment
	for _, id := range m.assignmentOrder {
		a := m.assignments[id]
		if a.CampaignID == campaignID && a.EvaluateeID == evaluateeID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) AssignmentCounts(_ context.Context, campaignID, evaluateeID string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total, completed := 0, 0
	for _, a := range m.assignments {
		if a.CampaignID != campaignID || a.EvaluateeID != evaluateeID || a.Status == AssignmentStatusCancelled {
			continue
		}
		total++
		if a.Status == AssignmentStatusCompleted {
			completed++
		}
	}
	return total, completed, nil
}

func (m *memStore) ListEvaluatees(_ context.Context, campaignID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, a := range m.assignments {
		if a.CampaignID == campaignID && a.Status != AssignmentStatusCancelled && !seen[a.EvaluateeID] {
			seen[a.EvaluateeID] = true
			out = append(out, a.EvaluateeID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) SaveResponse(_ context.Context, w ResponseWrite, at time.Time) (Response, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[w.AssignmentID]
	if !ok {
		return Response{}, false, notFound("assignment", w.AssignmentID)
	}
	key := w.AssignmentID + "/" + w.QuestionID
	resp, exists := m.responses[key]
	if !exists {
		resp = Response{ID: m.nextID("response"), AssignmentID: w.AssignmentID, QuestionID: w.QuestionID, CreatedAt: at}
	}
	resp.Score = w.Score
	resp.TextAnswer = w.TextAnswer
	resp.BooleanAnswer = w.BooleanAnswer
	resp.UpdatedAt = at
	m.responses[key] = resp

	if a.Status != AssignmentStatusPending {
		return resp, false, nil
	}
	for _, q := range m.questionsLocked(a.CampaignID) {
		if !q.IsRequired {
			continue
		}
		r, ok := m.responses[a.ID+"/"+q.ID]
		if !ok {
			return resp, false, nil
		}
		if !r.Score.Valid && r.BooleanAnswer == nil && (r.TextAnswer == nil || strings.TrimSpace(*r.TextAnswer) == "") {
			return resp, false, nil
		}
	}
	a.Status = AssignmentStatusCompleted
	a.CompletedAt = &at
	m.assignments[a.ID] = a
	return resp, true, nil
}

func (m *memStore) ScoreRows(_ context.Context, campaignID, evaluateeID string) ([]ScoreRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inCampaign := map[string]bool{}
	for _, qid := range m.campaignQuestions[campaignID] {
		inCampaign[qid] = true
	}
	var out []ScoreRow
	for _, r := range m.responses {
		a := m.assignments[r.AssignmentID]
		q := m.questions[r.QuestionID]
		if a.CampaignID != campaignID || a.EvaluateeID != evaluateeID || a.Status != AssignmentStatusCompleted {
			continue
		}
		if !inCampaign[q.ID] || q.Type != QuestionTypeScale || !r.Score.Valid {
			continue
		}
		out = append(out, ScoreRow{
			Relationship: a.Relationship,
			EvaluatorID:  a.EvaluatorID,
			QuestionID:   q.ID,
			CategoryID:   q.CategoryID,
			CategoryName: q.CategoryName,
			Score:        r.Score.Decimal,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EvaluatorID != out[j].EvaluatorID {
			return out[i].EvaluatorID < out[j].EvaluatorID
		}
		return out[i].QuestionID < out[j].QuestionID
	})
	return out, nil
}

func (m *memStore) GetResult(_ context.Context, id string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if !ok {
		return Result{}, notFound("result", id)
	}
	return r, nil
}

func (m *memStore) FindResult(_ context.Context, campaignID, evaluateeID string) (Result, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.findLocked(campaignID, evaluateeID)
	return r, ok, nil
}

func (m *memStore) findLocked(campaignID, evaluateeID string) (Result, bool) {
	for _, r := range m.results {
		if r.CampaignID == campaignID && r.EvaluateeID == evaluateeID {
			return r, true
		}
	}
	return Result{}, false
}

func (m *memStore) ListResults(_ context.Context, campaignID string) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Result
	for _, r := range m.results {
		if r.CampaignID == campaignID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EvaluateeID < out[j].EvaluateeID })
	return out, nil
}

func (m *memStore) SaveComputation(_ context.Context, campaignID, evaluateeID string, c Computation, at time.Time) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.findLocked(campaignID, evaluateeID)
	if !ok {
		r = Result{ID: m.nextID("result"), CampaignID: campaignID, EvaluateeID: evaluateeID}
	}
	if r.IsFinalized {
		return Result{}, ErrResultLocked
	}
	adjusted := r.AdjustedBy != ""
	override := r.OverallScore
	c.applyTo(&r)
	if adjusted {
		r.OverallScore = override
	}
	r.CalculatedAt = at
	if ok {
		r.Version++
	}
	m.results[r.ID] = r
	return r, nil
}

func (m *memStore) ApplyAdjustment(_ context.Context, resultID string, expected int, score decimal.Decimal, reason, actorID string, at time.Time) (Result, AdjustmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[resultID]
	if !ok {
		return Result{}, AdjustmentRecord{}, notFound("result", resultID)
	}
	if r.IsFinalized {
		return Result{}, AdjustmentRecord{}, ErrAdjustFinalized
	}
	if r.Version != expected {
		return Result{}, AdjustmentRecord{}, ErrVersionConflict
	}
	rec := AdjustmentRecord{
		ID:            m.nextID("adjustment"),
		ResultID:      resultID,
		PreviousScore: r.OverallScore,
		NewScore:      score,
		Reason:        reason,
		ActorID:       actorID,
		CreatedAt:     at,
	}
	r.OverallScore = decimal.NewNullDecimal(score)
	r.AdjustmentReason = reason
	r.AdjustedBy = actorID
	r.Version++
	m.results[resultID] = r
	m.adjustments[resultID] = append(m.adjustments[resultID], rec)
	return r, rec, nil
}

func (m *memStore) MarkFinalized(_ context.Context, resultID string, expected int, actorID string, at time.Time) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFinalize[resultID] {
		return Result{}, fmt.Errorf("connection reset")
	}
	r, ok := m.results[resultID]
	if !ok {
		return Result{}, notFound("result", resultID)
	}
	if r.IsFinalized {
		return Result{}, ErrAlreadyFinalized
	}
	if r.Version != expected {
		return Result{}, ErrVersionConflict
	}
	r.IsFinalized = true
	r.FinalizedAt = &at
	r.FinalizedBy = actorID
	r.Version++
	m.results[resultID] = r
	return r, nil
}

func (m *memStore) ListAdjustments(_ context.Context, resultID string) ([]AdjustmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AdjustmentRecord(nil), m.adjustments[resultID]...), nil
}

type memOrg struct {
	users      map[string]OrgUser
	supervisor map[string]string
}

func (o *memOrg) User(_ context.Context, id string) (OrgUser, bool, error) {
	u, ok := o.users[id]
	return u, ok, nil
}

func (o *memOrg) SupervisorOf(_ context.Context, id string) (string, bool, error) {
	s, ok := o.supervisor[id]
	return s, ok, nil
}

func (o *memOrg) DirectReportsOf(_ context.Context, id string) ([]string, error) {
	var out []string
	for user, sup := range o.supervisor {
		if sup == id {
			out = append(out, user)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (o *memOrg) DepartmentOf(_ context.Context, id string) (string, bool, error) {
	u, ok := o.users[id]
	if !ok || u.DepartmentID == "" {
		return "", false, nil
	}
	return u.DepartmentID, true, nil
}

func (o *memOrg) DepartmentPeersOf(_ context.Context, id string) ([]string, error) {
	me := o.users[id]
	var out []string
	for _, u := range o.users {
		if u.ID != id && u.DepartmentID != "" && u.DepartmentID == me.DepartmentID {
			out = append(out, u.ID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (o *memOrg) ActiveUsers(_ context.Context, tenantID string) ([]string, error) {
	var out []string
	for _, u := range o.users {
		if u.TenantID == tenantID && u.Active {
			out = append(out, u.ID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// roleGate lets managers calibrate, admins do everything.
type roleGate struct{}

func (roleGate) CanAdjust(a Actor) bool       { return a.RoleName == "admin" || a.RoleName == "manager" }
func (roleGate) CanFinalize(a Actor) bool     { return a.RoleName == "admin" || a.RoleName == "manager" }
func (roleGate) CanBulkFinalize(a Actor) bool { return a.RoleName == "admin" }
func (roleGate) CanViewCalibration(a Actor, _ Campaign) bool {
	return a.RoleName == "admin" || a.RoleName == "manager"
}
func (roleGate) CanManageCampaigns(a Actor) bool { return a.RoleName == "admin" }

type mutexLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *mutexLocker) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[string]*sync.Mutex{}
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock, nil
}

const tenantID = "tenant-1"

var (
	admin    = Actor{UserID: "u-admin", TenantID: tenantID, RoleName: "admin"}
	manager  = Actor{UserID: "u-boss", TenantID: tenantID, RoleName: "manager"}
	employee = Actor{UserID: "u-emp", TenantID: tenantID, RoleName: "employee"}
	outsider = Actor{UserID: "u-x", TenantID: "tenant-2", RoleName: "admin"}
)

// newOrg builds: u-boss manages u-emp, u-peer1 and u-peer2 (department d1);
// u-rep reports to u-emp from department d2; u-gone is inactive in d1.
func newOrg() *memOrg {
	user := func(id, dept string, active bool) OrgUser {
		return OrgUser{ID: id, TenantID: tenantID, DepartmentID: dept, DepartmentName: strings.ToUpper(dept), FullName: id, Active: active}
	}
	return &memOrg{
		users: map[string]OrgUser{
			"u-admin": user("u-admin", "", true),
			"u-boss":  user("u-boss", "d0", true),
			"u-emp":   user("u-emp", "d1", true),
			"u-peer1": user("u-peer1", "d1", true),
			"u-peer2": user("u-peer2", "d1", true),
			"u-gone":  user("u-gone", "d1", false),
			"u-rep":   user("u-rep", "d2", true),
			"u-x":     {ID: "u-x", TenantID: "tenant-2", DepartmentID: "d1", Active: true},
		},
		supervisor: map[string]string{
			"u-emp":   "u-boss",
			"u-peer1": "u-boss",
			"u-peer2": "u-boss",
			"u-gone":  "u-boss",
			"u-rep":   "u-emp",
		},
	}
}

type fixture struct {
	svc      *Service
	store    *memStore
	org      *memOrg
	campaign Campaign
	scale    []Question
}

// newFixture returns an active campaign with two required scale questions and an
// optional text question, with assignments materialized for every active member.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := newMemStore()
	org := newOrg()
	svc := NewService(store, org, roleGate{}, &mutexLocker{}, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	campaign, err := svc.CreateCampaign(ctx, admin, CampaignInput{
		Title:               "Annual review",
		StartDate:           time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:             time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		AllowSelfEvaluation: true,
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	q1 := store.addQuestion(Question{ID: "q-1", TenantID: tenantID, CategoryID: "cat-lead", CategoryName: "Leadership", Text: "Sets direction", Type: QuestionTypeScale, MaxScore: 5, IsRequired: true})
	q2 := store.addQuestion(Question{ID: "q-2", TenantID: tenantID, CategoryID: "cat-comm", CategoryName: "Communication", Text: "Listens", Type: QuestionTypeScale, MaxScore: 5, IsRequired: true})
	q3 := store.addQuestion(Question{ID: "q-3", TenantID: tenantID, CategoryID: "cat-gen", CategoryName: "General", Text: "Comments", Type: QuestionTypeText})
	if _, err := svc.AttachQuestions(ctx, admin, campaign.ID, []string{q1.ID, q2.ID, q3.ID}); err != nil {
		t.Fatalf("attach questions: %v", err)
	}
	campaign, _, err = svc.ActivateCampaign(ctx, admin, campaign.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	return &fixture{svc: svc, store: store, org: org, campaign: campaign, scale: []Question{q1, q2}}
}

// assignmentFor finds the assignment evaluator -> evaluatee.
func (f *fixture) assignmentFor(t *testing.T, evaluatorID, evaluateeID string) Assignment {
	t.Helper()
	list, err := f.store.ListAssignmentsForEvaluatee(context.Background(), f.campaign.ID, evaluateeID)
	if err != nil {
		t.Fatalf("list assignments: %v", err)
	}
	for _, a := range list {
		if a.EvaluatorID == evaluatorID {
			return a
		}
	}
	t.Fatalf("no assignment %s -> %s", evaluatorID, evaluateeID)
	return Assignment{}
}

// answerAll submits the same score to every scale question of the assignment.
func (f *fixture) answerAll(t *testing.T, evaluatorID, evaluateeID, score string) {
	t.Helper()
	a := f.assignmentFor(t, evaluatorID, evaluateeID)
	actor := Actor{UserID: evaluatorID, TenantID: tenantID, RoleName: "employee"}
	for _, q := range f.scale {
		value := decimal.RequireFromString(score)
		if _, err := f.svc.SubmitResponse(context.Background(), SubmitInput{AssignmentID: a.ID, QuestionID: q.ID, Score: &value, Actor: actor}); err != nil {
			t.Fatalf("submit %s/%s: %v", a.ID, q.ID, err)
		}
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
