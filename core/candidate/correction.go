package candidate

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/rpconcours/concours/core"
	"github.com/rpconcours/concours/core/contest"
)

const (
	gradeScale = 20
	passGrade  = 10
)

type (
	// GradeResult is the outcome of a grading action.
	GradeResult struct {
		Evaluation Evaluation `json:"evaluation"`
		Candidate  Candidate  `json:"candidate"`
	}

	// ResultResponse is a corrected response as shown to the candidate.
	ResultResponse struct {
		ModuleTitle    string                 `json:"module_title"`
		Question       contest.PublicQuestion `json:"question"`
		ResponseText   string                 `json:"response_text,omitempty"`
		SelectedOption *contest.PublicOption  `json:"selected_option,omitempty"`
		IsCorrect      *bool                  `json:"is_correct,omitempty"`
		Score          float64                `json:"score"`
		Feedback       string                 `json:"feedback,omitempty"`
	}

	Result struct {
		Candidate   Candidate        `json:"candidate"`
		ContestID   string           `json:"contest_id"`
		ContestName string           `json:"contest_name"`
		Agency      *contest.Agency  `json:"agency,omitempty"`
		MaxPoints   float64          `json:"max_points"`
		Grade       float64          `json:"grade"`
		Responses   []ResultResponse `json:"responses"`
	}

	ScoreRange struct {
		Range string `json:"range"`
		Count int    `json:"count"`
	}

	ModulePerformance struct {
		ModuleID     string  `json:"module_id"`
		ModuleTitle  string  `json:"module_title"`
		AverageScore float64 `json:"average_score"`
	}

	Statistics struct {
		TotalCandidates      int                 `json:"total_candidates"`
		CompletedCandidates  int                 `json:"completed_candidates"`
		InProgressCandidates int                 `json:"in_progress_candidates"`
		AverageScore         float64             `json:"average_score"` // out of 20
		PassRate             float64             `json:"pass_rate"`     // %
		CompletionRate       float64             `json:"completion_rate"`
		ScoreDistribution    []ScoreRange        `json:"score_distribution"`
		ModulePerformance    []ModulePerformance `json:"module_performance"`
	}
)

func round2(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

// ComputeGrade brings total out of maxPoints on a 20 scale, rounded to 2 decimals.
func ComputeGrade(total, maxPoints float64) float64 {
	if maxPoints <= 0 {
		return 0
	}
	return round2(decimal.NewFromFloat(total).Div(decimal.NewFromFloat(maxPoints)).Mul(decimal.NewFromInt(gradeScale)))
}

func gradeFunc(maxPoints float64) GradeFunc {
	return func(total float64) *float64 {
		g := ComputeGrade(total, maxPoints)
		return &g
	}
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(decimal.NewFromInt(int64(n)).Div(decimal.NewFromInt(int64(total))).Mul(decimal.NewFromInt(100)))
}

// questionOrder maps question ids to their rank in the contest tree.
func questionOrder(tree contest.Contest) map[string]int {
	order := make(map[string]int)
	for _, m := range tree.Modules {
		for _, q := range m.Questions {
			order[q.ID] = len(order)
		}
	}
	return order
}

func (svc *Service) details(ctx context.Context, cand Candidate, tree contest.Contest) ([]ResponseDetail, error) {
	resps, err := svc.repo.QueryResponses(ctx, cand.ID)
	if err != nil {
		return nil, errors.Wrap(err, "querying responses")
	}
	ids := make([]string, len(resps))
	for i, r := range resps {
		ids[i] = r.ID
	}
	evals, err := svc.repo.QueryEvaluations(ctx, ids...)
	if err != nil {
		return nil, errors.Wrap(err, "querying evaluations")
	}
	evalByResp := make(map[string]Evaluation, len(evals))
	for _, e := range evals {
		evalByResp[e.ResponseID] = e
	}

	order := questionOrder(tree)
	details := make([]ResponseDetail, 0, len(resps))
	for _, r := range resps {
		q, modIdx, ok := tree.FindQuestion(r.QuestionID)
		if !ok {
			continue
		}
		d := ResponseDetail{Response: r, Question: q, ModuleTitle: tree.Modules[modIdx].Title}
		if opt, ok := q.Option(r.SelectedOptionID); ok {
			d.SelectedOption = &opt
		}
		if e, ok := evalByResp[r.ID]; ok {
			e := e
			d.Evaluation = &e
		}
		details = append(details, d)
	}
	sort.Slice(details, func(i, j int) bool {
		return order[details[i].QuestionID] < order[details[j].QuestionID]
	})
	return details, nil
}

// Responses returns the responses of a candidate with their question, selected option & evaluation, in contest order.
func (svc *Service) Responses(ctx context.Context, candidateID string) ([]ResponseDetail, error) {
	cand, err := svc.repo.GetCandidate(ctx, GetFilter{ID: candidateID})
	if err != nil {
		return nil, err
	}
	tree, err := svc.contests.GetTree(ctx, cand.ContestID)
	if err != nil {
		return nil, errors.Wrap(err, "getting contest")
	}
	return svc.details(ctx, cand, tree)
}

// Grade records the final evaluation of a response by evaluatorID and recomputes the candidate total & grade.
// The candidate becomes evaluated once every one of their responses has a final evaluation.
func (svc *Service) Grade(ctx context.Context, responseID, evaluatorID string, ng NewGrade) (GradeResult, error) {
	resp, err := svc.repo.GetResponse(ctx, responseID)
	if err != nil {
		return GradeResult{}, err
	}
	cand, err := svc.repo.GetCandidate(ctx, GetFilter{ID: resp.CandidateID})
	if err != nil {
		return GradeResult{}, errors.Wrap(err, "getting candidate")
	}
	if !HasSubmitted(cand.Status) {
		return GradeResult{}, ErrNotGradable
	}
	tree, err := svc.contests.GetTree(ctx, cand.ContestID)
	if err != nil {
		return GradeResult{}, errors.Wrap(err, "getting contest")
	}
	q, _, ok := tree.FindQuestion(resp.QuestionID)
	if !ok {
		return GradeResult{}, contest.ErrQuestionNotFound
	}
	if *ng.Score > q.Points {
		return GradeResult{}, core.NewValidationError(nil, core.FieldError{
			Field: "score",
			Error: fmt.Sprintf("score must be between 0 and %v", q.Points),
		})
	}

	eval, cand, err := svc.repo.SaveEvaluation(ctx, Evaluation{
		ResponseID:  resp.ID,
		EvaluatorID: evaluatorID,
		Score:       *ng.Score,
		Feedback:    ng.Feedback,
		IsFinal:     true,
		EvaluatedAt: NowFunc().UTC(),
	}, gradeFunc(tree.MaxPoints()))
	if err != nil {
		return GradeResult{}, errors.Wrap(err, "saving evaluation")
	}

	if cand.Status == StatusCompleted {
		done, err := svc.fullyEvaluated(ctx, cand.ID)
		if err != nil {
			return GradeResult{}, err
		}
		if done {
			evaluated, err := svc.repo.TransitionCandidate(ctx, Transition{
				ID:   cand.ID,
				From: StatusCompleted,
				To:   StatusEvaluated,
				At:   NowFunc().UTC(),
			})
			switch {
			case err == nil:
				cand = evaluated
			case err != ErrInvalidTransition: // already evaluated by a concurrent grader otherwise
				return GradeResult{}, errors.Wrap(err, "marking candidate evaluated")
			}
		}
	}
	return GradeResult{Evaluation: eval, Candidate: cand}, nil
}

func (svc *Service) fullyEvaluated(ctx context.Context, candidateID string) (bool, error) {
	resps, err := svc.repo.QueryResponses(ctx, candidateID)
	if err != nil {
		return false, errors.Wrap(err, "querying responses")
	}
	ids := make([]string, len(resps))
	for i, r := range resps {
		ids[i] = r.ID
	}
	evals, err := svc.repo.QueryEvaluations(ctx, ids...)
	if err != nil {
		return false, errors.Wrap(err, "querying evaluations")
	}
	final := make(map[string]bool, len(evals))
	for _, e := range evals {
		if e.IsFinal {
			final[e.ResponseID] = true
		}
	}
	for _, r := range resps {
		if !final[r.ID] {
			return false, nil
		}
	}
	return true, nil
}

// Results lets a candidate look up their corrected participation with their credentials.
func (svc *Service) Results(ctx context.Context, lr LoginRequest) (Result, error) {
	cands, err := svc.repo.QueryCandidates(ctx, &QueryFilter{Identifier: lr.Identifier}, nil)
	if err != nil {
		return Result{}, errors.Wrap(err, "querying candidates")
	}
	var cand *Candidate
	for i := range cands {
		if cands[i].CheckPassword(lr.Password) == nil {
			cand = &cands[i]
			break
		}
	}
	if cand == nil {
		return Result{}, ErrInvalidCredentials
	}
	if !HasSubmitted(cand.Status) {
		return Result{}, ErrResultsUnavailable
	}

	tree, err := svc.contests.GetTree(ctx, cand.ContestID)
	if err != nil {
		return Result{}, errors.Wrap(err, "getting contest")
	}
	details, err := svc.details(ctx, *cand, tree)
	if err != nil {
		return Result{}, err
	}

	maxPoints := tree.MaxPoints()
	res := Result{
		Candidate:   *cand,
		ContestID:   tree.ID,
		ContestName: tree.Name,
		Agency:      tree.Agency,
		MaxPoints:   maxPoints,
		Grade:       ComputeGrade(cand.TotalScore, maxPoints),
		Responses:   make([]ResultResponse, 0, len(details)),
	}
	for _, d := range details {
		rr := ResultResponse{
			ModuleTitle:  d.ModuleTitle,
			Question:     d.Question.Public(),
			ResponseText: d.ResponseText,
			IsCorrect:    d.IsCorrect,
			Score:        d.Score,
		}
		if d.SelectedOption != nil {
			rr.SelectedOption = &contest.PublicOption{
				ID:          d.SelectedOption.ID,
				OptionText:  d.SelectedOption.OptionText,
				OptionOrder: d.SelectedOption.OptionOrder,
			}
		}
		if d.Evaluation != nil {
			rr.Feedback = d.Evaluation.Feedback
		}
		res.Responses = append(res.Responses, rr)
	}
	return res, nil
}

// Statistics aggregates the participation & scores of the contest candidates.
func (svc *Service) Statistics(ctx context.Context, contestID string) (Statistics, error) {
	tree, err := svc.contests.GetTree(ctx, contestID)
	if err != nil {
		return Statistics{}, err
	}
	cands, err := svc.repo.QueryCandidates(ctx, &QueryFilter{ContestID: contestID}, nil)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "querying candidates")
	}

	stats := Statistics{
		TotalCandidates: len(cands),
		ScoreDistribution: []ScoreRange{
			{Range: "0-5"}, {Range: "5-10"}, {Range: "10-15"}, {Range: "15-20"},
		},
		ModulePerformance: make([]ModulePerformance, 0, len(tree.Modules)),
	}

	maxPoints := tree.MaxPoints()
	done := make([]string, 0, len(cands))
	gradeSum := decimal.Zero
	var passed int
	for _, c := range cands {
		switch {
		case c.Status == StatusStarted:
			stats.InProgressCandidates++
		case HasSubmitted(c.Status):
			stats.CompletedCandidates++
			done = append(done, c.ID)

			g := ComputeGrade(c.TotalScore, maxPoints)
			gradeSum = gradeSum.Add(decimal.NewFromFloat(g))
			if g >= passGrade {
				passed++
			}
			bucket := int(g / 5)
			if bucket > 3 {
				bucket = 3
			}
			stats.ScoreDistribution[bucket].Count++
		}
	}
	if stats.CompletedCandidates > 0 {
		stats.AverageScore = round2(gradeSum.Div(decimal.NewFromInt(int64(stats.CompletedCandidates))))
	}
	stats.PassRate = percent(passed, stats.CompletedCandidates)
	stats.CompletionRate = percent(stats.CompletedCandidates, stats.TotalCandidates)

	// module performance over submitted participations
	moduleOf := make(map[string]string)
	for _, m := range tree.Modules {
		for _, q := range m.Questions {
			moduleOf[q.ID] = m.ID
		}
	}
	scoreByModule := make(map[string]decimal.Decimal)
	if len(done) > 0 {
		resps, err := svc.repo.QueryResponses(ctx, done...)
		if err != nil {
			return Statistics{}, errors.Wrap(err, "querying responses")
		}
		for _, r := range resps {
			if mID, ok := moduleOf[r.QuestionID]; ok {
				scoreByModule[mID] = scoreByModule[mID].Add(decimal.NewFromFloat(r.Score))
			}
		}
	}
	for _, m := range tree.Modules {
		mp := ModulePerformance{ModuleID: m.ID, ModuleTitle: m.Title}
		if len(done) > 0 {
			mp.AverageScore = round2(scoreByModule[m.ID].Div(decimal.NewFromInt(int64(len(done)))))
		}
		stats.ModulePerformance = append(stats.ModulePerformance, mp)
	}
	return stats, nil
}
