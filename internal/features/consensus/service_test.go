package consensus

import (
	"context"
	"errors"
	"testing"

	"serotonyl.ru/engagement-engine/internal/common"
	"serotonyl.ru/engagement-engine/internal/features/xp"
)

// memStore — модерация в памяти.
type memStore struct {
	targets     map[string]Target
	validations map[string]map[string]Validation
	nextID      int64
}

func newMemStore() *memStore {
	return &memStore{
		targets:     make(map[string]Target),
		validations: make(map[string]map[string]Validation),
	}
}

func (m *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return fn(&memTx{m: m})
}

func (m *memStore) CreateTarget(ctx context.Context, t *Target) (bool, error) {
	if _, ok := m.targets[t.TargetID]; ok {
		return false, nil
	}
	t.Status = StatusPending
	m.targets[t.TargetID] = *t
	return true, nil
}

func (m *memStore) GetTarget(ctx context.Context, targetID string) (*Target, error) {
	t, ok := m.targets[targetID]
	if !ok {
		return nil, common.ErrTargetNotFound
	}
	return &t, nil
}

func (m *memStore) ListValidations(ctx context.Context, targetID string) ([]Validation, error) {
	var out []Validation
	for _, v := range m.validations[targetID] {
		out = append(out, v)
	}
	return out, nil
}

type memTx struct {
	m *memStore
}

func (t *memTx) LockTarget(ctx context.Context, targetID string) (*Target, error) {
	return t.m.GetTarget(ctx, targetID)
}

func (t *memTx) UpsertValidation(ctx context.Context, v *Validation) error {
	if t.m.validations[v.TargetID] == nil {
		t.m.validations[v.TargetID] = make(map[string]Validation)
	}
	if prev, ok := t.m.validations[v.TargetID][v.UserID]; ok {
		v.ID = prev.ID
	} else {
		t.m.nextID++
		v.ID = t.m.nextID
	}
	t.m.validations[v.TargetID][v.UserID] = *v
	return nil
}

func (t *memTx) SumWeights(ctx context.Context, targetID string) (int64, int64, error) {
	var approve, reject int64
	for _, v := range t.m.validations[targetID] {
		switch v.Verdict {
		case VerdictApprove:
			approve += int64(v.Weight)
		case VerdictReject:
			reject += int64(v.Weight)
		}
	}
	return approve, reject, nil
}

func (t *memTx) UpdateTarget(ctx context.Context, target *Target, resolved bool) error {
	t.m.targets[target.TargetID] = *target
	return nil
}

// fakeEngine записывает начисления и списания.
type fakeEngine struct {
	levels    map[string]int
	awards    []xp.AwardInput
	clawbacks []string
	restores  []xp.AwardInput
	awardErr  error
	credited  map[string]bool // user/action/entity, как индекс идемпотентности
}

func (e *fakeEngine) Award(ctx context.Context, in xp.AwardInput) (*xp.AwardResult, error) {
	e.awards = append(e.awards, in)
	if e.awardErr != nil {
		return &xp.AwardResult{UserID: in.UserID}, e.awardErr
	}
	key := in.UserID + "/" + string(in.Action) + "/" + in.RelatedEntityID
	if e.credited == nil {
		e.credited = make(map[string]bool)
	}
	if e.credited[key] {
		return &xp.AwardResult{UserID: in.UserID, Reason: xp.ReasonDuplicate}, nil
	}
	e.credited[key] = true
	return &xp.AwardResult{UserID: in.UserID, Awarded: true, XPAwarded: 3}, nil
}

func (e *fakeEngine) Restore(ctx context.Context, in xp.AwardInput) (*xp.AwardResult, error) {
	e.restores = append(e.restores, in)
	return &xp.AwardResult{UserID: in.UserID, Awarded: true, XPAwarded: 50}, nil
}

func (e *fakeEngine) Clawback(ctx context.Context, userID, entityID, entityType string) (*xp.ClawbackResult, error) {
	e.clawbacks = append(e.clawbacks, userID+"/"+entityID)
	return &xp.ClawbackResult{UserID: userID, Applied: true}, nil
}

func (e *fakeEngine) LevelOf(ctx context.Context, userID string) (xp.Level, error) {
	level, ok := e.levels[userID]
	if !ok {
		level = 1
	}
	return xp.Level{Level: level}, nil
}

func newTestService(t *testing.T, levels map[string]int) (*Service, *memStore, *fakeEngine) {
	t.Helper()
	store := newMemStore()
	engine := &fakeEngine{levels: levels}
	svc := NewService(store, engine, DefaultPolicy())
	if _, err := svc.RegisterTarget(context.Background(), "s-1", "submission", "author"); err != nil {
		t.Fatalf("RegisterTarget() error = %v", err)
	}
	return svc, store, engine
}

func submit(t *testing.T, svc *Service, userID string, v Verdict) *Result {
	t.Helper()
	res, err := svc.SubmitVerdict(context.Background(), VerdictInput{TargetID: "s-1", UserID: userID, Verdict: v})
	if err != nil {
		t.Fatalf("SubmitVerdict(%s, %s) error = %v", userID, v, err)
	}
	return res
}

func TestSelfValidationRejected(t *testing.T) {
	svc, store, engine := newTestService(t, map[string]int{"author": 10})

	res := submit(t, svc, "author", VerdictApprove)
	if res.Applied || res.Reason != ReasonSelfValidation {
		t.Errorf("SubmitVerdict() = %+v, want self_validation", res)
	}
	if n := len(store.validations["s-1"]); n != 0 {
		t.Errorf("validation rows = %d, want 0", n)
	}
	if len(engine.awards) != 0 {
		t.Errorf("awards = %v, want none", engine.awards)
	}
}

func TestLevelTooLowRejected(t *testing.T) {
	svc, store, engine := newTestService(t, map[string]int{"newbie": 2})

	res := submit(t, svc, "newbie", VerdictReject)
	if res.Applied || res.Reason != ReasonLevelTooLow {
		t.Errorf("SubmitVerdict() = %+v, want level_too_low", res)
	}
	if n := len(store.validations["s-1"]); n != 0 {
		t.Errorf("validation rows = %d, want 0", n)
	}
	if len(engine.awards) != 0 {
		t.Errorf("awards = %v, want none", engine.awards)
	}
}

func TestSubmitVerdictInvalidInput(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.SubmitVerdict(ctx, VerdictInput{TargetID: "s-1", UserID: "u1", Verdict: "maybe"}); !errors.Is(err, common.ErrInvalidVerdict) {
		t.Errorf("SubmitVerdict(maybe) error = %v, want %v", err, common.ErrInvalidVerdict)
	}
	if _, err := svc.SubmitVerdict(ctx, VerdictInput{TargetID: "nope", UserID: "u1", Verdict: VerdictApprove}); !errors.Is(err, common.ErrTargetNotFound) {
		t.Errorf("SubmitVerdict(unknown target) error = %v, want %v", err, common.ErrTargetNotFound)
	}
	if _, err := svc.SubmitVerdict(ctx, VerdictInput{TargetID: "s-1", Verdict: VerdictApprove}); !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("SubmitVerdict(no user) error = %v, want %v", err, common.ErrInvalidInput)
	}
}

func TestVerdictAwardsValidator(t *testing.T) {
	svc, _, engine := newTestService(t, map[string]int{"v1": 5})

	res := submit(t, svc, "v1", VerdictApprove)
	if !res.Applied || res.Weight != 3 || res.ApproveWeight != 3 {
		t.Errorf("SubmitVerdict() = %+v, want applied with weight 3", res)
	}
	if res.XP == nil || !res.XP.Awarded {
		t.Errorf("SubmitVerdict().XP = %+v, want awarded", res.XP)
	}
	if len(engine.awards) != 1 {
		t.Fatalf("awards = %d, want 1", len(engine.awards))
	}
	a := engine.awards[0]
	if a.UserID != "v1" || a.Action != xp.ActionModeration || a.RelatedEntityID != "s-1" || a.RelatedEntityType != "submission" {
		t.Errorf("award = %+v, want moderation_action for s-1", a)
	}
}

func TestVerdictOverwritesPrevious(t *testing.T) {
	svc, store, _ := newTestService(t, map[string]int{"v1": 5})

	submit(t, svc, "v1", VerdictApprove)
	res := submit(t, svc, "v1", VerdictReject)

	if n := len(store.validations["s-1"]); n != 1 {
		t.Errorf("validation rows = %d, want 1", n)
	}
	if res.ApproveWeight != 0 || res.RejectWeight != 3 {
		t.Errorf("weights = %d/%d, want 0/3", res.ApproveWeight, res.RejectWeight)
	}
}

func TestAutoResolveApproves(t *testing.T) {
	levels := map[string]int{"r1": 5, "r2": 4, "a1": 10, "a2": 10}
	svc, store, engine := newTestService(t, levels)

	submit(t, svc, "r1", VerdictReject) // 3
	submit(t, svc, "r2", VerdictReject) // 2
	res := submit(t, svc, "a1", VerdictApprove)
	// 10 >= 10, но 10 > 5×2 не выполняется
	if res.Resolved || res.Status != StatusPending {
		t.Fatalf("after a1: resolved %v status %s, want pending", res.Resolved, res.Status)
	}

	res = submit(t, svc, "a2", VerdictApprove)
	if !res.Resolved || res.Status != StatusApproved {
		t.Fatalf("after a2: resolved %v status %s, want approved", res.Resolved, res.Status)
	}
	if res.ApproveWeight != 20 || res.RejectWeight != 5 {
		t.Errorf("weights = %d/%d, want 20/5", res.ApproveWeight, res.RejectWeight)
	}
	if got := store.targets["s-1"].Status; got != StatusApproved {
		t.Errorf("stored status = %s, want approved", got)
	}

	var authorAward *xp.AwardInput
	for i := range engine.awards {
		if engine.awards[i].UserID == "author" {
			authorAward = &engine.awards[i]
		}
	}
	if authorAward == nil || authorAward.Action != xp.ActionSubmissionApproved || authorAward.RelatedEntityID != "s-1" {
		t.Errorf("author award = %+v, want submission_approved for s-1", authorAward)
	}
}

func TestAutoResolveNotCrossed(t *testing.T) {
	levels := map[string]int{"r1": 5, "r2": 5, "a1": 9, "a2": 5}
	svc, _, engine := newTestService(t, levels)

	submit(t, svc, "r1", VerdictReject)
	submit(t, svc, "r2", VerdictReject)
	submit(t, svc, "a1", VerdictApprove)
	res := submit(t, svc, "a2", VerdictApprove)

	// 11 >= 10, но 11 > 6×2 не выполняется
	if res.ApproveWeight != 11 || res.RejectWeight != 6 {
		t.Fatalf("weights = %d/%d, want 11/6", res.ApproveWeight, res.RejectWeight)
	}
	if res.Resolved || res.Status != StatusPending {
		t.Errorf("resolved %v status %s, want pending", res.Resolved, res.Status)
	}
	for _, a := range engine.awards {
		if a.UserID == "author" {
			t.Errorf("author awarded without resolution: %+v", a)
		}
	}
}

func TestAutoResolveRejectClawsBackAuthor(t *testing.T) {
	svc, _, engine := newTestService(t, map[string]int{"r1": 10})

	res := submit(t, svc, "r1", VerdictReject)
	if !res.Resolved || res.Status != StatusRejected {
		t.Fatalf("resolved %v status %s, want rejected", res.Resolved, res.Status)
	}
	if len(engine.clawbacks) != 1 || engine.clawbacks[0] != "author/s-1" {
		t.Errorf("clawbacks = %v, want [author/s-1]", engine.clawbacks)
	}
}

func TestReapprovalRestoresAuthorXP(t *testing.T) {
	levels := map[string]int{"r1": 10, "a1": 10, "a2": 10, "a3": 10}
	svc, _, engine := newTestService(t, levels)

	if res := submit(t, svc, "a1", VerdictApprove); res.Status != StatusApproved {
		t.Fatalf("status = %s, want approved", res.Status)
	}
	submit(t, svc, "a2", VerdictApprove)
	if len(engine.restores) != 0 {
		t.Fatalf("restores after first approval = %d, want 0", len(engine.restores))
	}

	// a1 и a2 передумали: 0 против 10
	submit(t, svc, "a1", VerdictReject)
	if res := submit(t, svc, "a2", VerdictReject); res.Status != StatusRejected {
		t.Fatalf("status = %s, want rejected", res.Status)
	}
	if len(engine.clawbacks) != 1 {
		t.Fatalf("clawbacks = %v, want one", engine.clawbacks)
	}

	// 10:20 и 20:10 статус не меняют, 30:0 снова одобряет
	submit(t, svc, "a3", VerdictApprove)
	submit(t, svc, "a1", VerdictApprove)
	if res := submit(t, svc, "a2", VerdictApprove); res.Status != StatusApproved {
		t.Fatalf("status = %s, want approved again", res.Status)
	}
	if len(engine.restores) != 1 {
		t.Fatalf("restores = %d, want 1", len(engine.restores))
	}
	if r := engine.restores[0]; r.UserID != "author" || r.Action != xp.ActionSubmissionApproved || r.RelatedEntityID != "s-1" {
		t.Errorf("restore = %+v, want submission_approved for author on s-1", r)
	}
}

func TestAwardFailureKeepsVerdict(t *testing.T) {
	svc, store, engine := newTestService(t, map[string]int{"v1": 5})
	engine.awardErr = errors.New("connection reset")

	res, err := svc.SubmitVerdict(context.Background(), VerdictInput{TargetID: "s-1", UserID: "v1", Verdict: VerdictApprove, Reason: "чек приложен"})
	if err != nil {
		t.Fatalf("SubmitVerdict() error = %v, want nil", err)
	}
	if !res.Applied || res.XP != nil {
		t.Errorf("SubmitVerdict() = %+v, want applied without XP", res)
	}
	v := store.validations["s-1"]["v1"]
	if v.Reason == nil || *v.Reason != "чек приложен" {
		t.Errorf("stored reason = %v, want чек приложен", v.Reason)
	}
}

func TestRegisterTargetIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	again, err := svc.RegisterTarget(context.Background(), "s-1", "submission", "someone-else")
	if err != nil {
		t.Fatalf("RegisterTarget() error = %v", err)
	}
	if again.AuthorID != "author" {
		t.Errorf("AuthorID = %q, want author (first registration wins)", again.AuthorID)
	}

	if _, err := svc.RegisterTarget(context.Background(), "", "submission", "a"); !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("RegisterTarget(empty id) error = %v, want %v", err, common.ErrInvalidInput)
	}
}
