package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/rpconcours/concours/core"
	"github.com/rpconcours/concours/core/candidate"
)

const (
	candidateColumns = `id, contest_id, user_id, name, discord_username, email, identifier, password_hash, status,
	invitation_sent_at, started_at, completed_at, total_score, final_grade, current_module, module_started_at, created_at`

	responseColumns = `id, candidate_id, question_id, response_text, selected_option_id, score, is_correct, submitted_at`

	evaluationColumns = `id, response_id, evaluator_id, score, feedback, is_final, evaluated_at`
)

var candidateOrderColumns = map[string]string{
	"name":        "name",
	"total_score": "total_score",
	"created_at":  "created_at",
}

type (
	candidateRow struct {
		ID               string              `db:"id"`
		ContestID        string              `db:"contest_id"`
		UserID           null.String         `db:"user_id"`
		Name             string              `db:"name"`
		DiscordUsername  null.String         `db:"discord_username"`
		Email            null.String         `db:"email"`
		Identifier       string              `db:"identifier"`
		PasswordHash     []byte              `db:"password_hash"`
		Status           string              `db:"status"`
		InvitationSentAt null.Time           `db:"invitation_sent_at"`
		StartedAt        null.Time           `db:"started_at"`
		CompletedAt      null.Time           `db:"completed_at"`
		TotalScore       decimal.Decimal     `db:"total_score"`
		FinalGrade       decimal.NullDecimal `db:"final_grade"`
		CurrentModule    int                 `db:"current_module"`
		ModuleStartedAt  null.Time           `db:"module_started_at"`
		CreatedAt        time.Time           `db:"created_at"`
	}

	responseRow struct {
		ID               string          `db:"id"`
		CandidateID      string          `db:"candidate_id"`
		QuestionID       string          `db:"question_id"`
		ResponseText     null.String     `db:"response_text"`
		SelectedOptionID null.String     `db:"selected_option_id"`
		Score            decimal.Decimal `db:"score"`
		IsCorrect        null.Bool       `db:"is_correct"`
		SubmittedAt      time.Time       `db:"submitted_at"`
	}

	evaluationRow struct {
		ID          string          `db:"id"`
		ResponseID  string          `db:"response_id"`
		EvaluatorID null.String     `db:"evaluator_id"`
		Score       decimal.Decimal `db:"score"`
		Feedback    null.String     `db:"feedback"`
		IsFinal     bool            `db:"is_final"`
		EvaluatedAt time.Time       `db:"evaluated_at"`
	}
)

func candidateToRow(c candidate.Candidate) candidateRow {
	row := candidateRow{
		ID:               c.ID,
		ContestID:        c.ContestID,
		UserID:           nullString(c.UserID),
		Name:             c.Name,
		DiscordUsername:  nullString(c.DiscordUsername),
		Email:            nullString(c.Email),
		Identifier:       c.Identifier,
		PasswordHash:     c.PasswordHash,
		Status:           c.Status,
		InvitationSentAt: nullTimePtr(c.InvitationSentAt),
		StartedAt:        nullTimePtr(c.StartedAt),
		CompletedAt:      nullTimePtr(c.CompletedAt),
		TotalScore:       decimal.NewFromFloat(c.TotalScore),
		CurrentModule:    c.CurrentModule,
		ModuleStartedAt:  nullTimePtr(c.ModuleStartedAt),
		CreatedAt:        c.CreatedAt.UTC(),
	}
	if c.FinalGrade != nil {
		row.FinalGrade = decimal.NullDecimal{Decimal: decimal.NewFromFloat(*c.FinalGrade), Valid: true}
	}
	return row
}

func candidateFromRow(row candidateRow) candidate.Candidate {
	c := candidate.Candidate{
		ID:               row.ID,
		ContestID:        row.ContestID,
		UserID:           row.UserID.String,
		Name:             row.Name,
		DiscordUsername:  row.DiscordUsername.String,
		Email:            row.Email.String,
		Identifier:       row.Identifier,
		PasswordHash:     row.PasswordHash,
		Status:           row.Status,
		InvitationSentAt: timePtr(row.InvitationSentAt),
		StartedAt:        timePtr(row.StartedAt),
		CompletedAt:      timePtr(row.CompletedAt),
		TotalScore:       decimalFloat(row.TotalScore),
		CurrentModule:    row.CurrentModule,
		ModuleStartedAt:  timePtr(row.ModuleStartedAt),
		CreatedAt:        row.CreatedAt,
	}
	if row.FinalGrade.Valid {
		g := decimalFloat(row.FinalGrade.Decimal)
		c.FinalGrade = &g
	}
	return c
}

func responseToRow(r candidate.Response) responseRow {
	row := responseRow{
		ID:               r.ID,
		CandidateID:      r.CandidateID,
		QuestionID:       r.QuestionID,
		ResponseText:     nullString(r.ResponseText),
		SelectedOptionID: nullString(r.SelectedOptionID),
		Score:            decimal.NewFromFloat(r.Score),
		SubmittedAt:      r.SubmittedAt.UTC(),
	}
	if r.IsCorrect != nil {
		row.IsCorrect = null.BoolFrom(*r.IsCorrect)
	}
	return row
}

func responseFromRow(row responseRow) candidate.Response {
	r := candidate.Response{
		ID:               row.ID,
		CandidateID:      row.CandidateID,
		QuestionID:       row.QuestionID,
		ResponseText:     row.ResponseText.String,
		SelectedOptionID: row.SelectedOptionID.String,
		Score:            decimalFloat(row.Score),
		SubmittedAt:      row.SubmittedAt,
	}
	if row.IsCorrect.Valid {
		v := row.IsCorrect.Bool
		r.IsCorrect = &v
	}
	return r
}

func evaluationFromRow(row evaluationRow) candidate.Evaluation {
	return candidate.Evaluation{
		ID:          row.ID,
		ResponseID:  row.ResponseID,
		EvaluatorID: row.EvaluatorID.String,
		Score:       decimalFloat(row.Score),
		Feedback:    row.Feedback.String,
		IsFinal:     row.IsFinal,
		EvaluatedAt: row.EvaluatedAt,
	}
}

type candidateRepository struct {
	db *sqlx.DB
}

var _ candidate.Repository = (*candidateRepository)(nil) // interface compliance check

func NewCandidateRepository(db *sqlx.DB) *candidateRepository {
	return &candidateRepository{db: db}
}

func (repo candidateRepository) CreateCandidates(ctx context.Context, cands ...candidate.Candidate) ([]candidate.Candidate, error) {
	created := make([]candidate.Candidate, 0, len(cands))
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		for _, c := range cands {
			c.ID = uuid.New().String()
			_, err := tx.NamedExecContext(ctx, `INSERT INTO candidates (`+candidateColumns+`) VALUES (
				:id, :contest_id, :user_id, :name, :discord_username, :email, :identifier, :password_hash, :status,
				:invitation_sent_at, :started_at, :completed_at, :total_score, :final_grade, :current_module,
				:module_started_at, :created_at)`, candidateToRow(c))
			if err != nil {
				if isUniqueViolation(err) {
					return candidate.ErrIdentifierExists
				}
				return errors.Wrap(err, "inserting candidate")
			}
			created = append(created, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (repo candidateRepository) QueryCandidates(ctx context.Context, filter *candidate.QueryFilter, ordering []core.DBOrdering) ([]candidate.Candidate, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter != nil {
		if filter.ContestID != "" {
			where = append(where, "contest_id = ?")
			args = append(args, filter.ContestID)
		}
		if filter.Status != "" {
			where = append(where, "status = ?")
			args = append(args, filter.Status)
		}
		if filter.Identifier != "" {
			where = append(where, "identifier = ?")
			args = append(args, filter.Identifier)
		}
		if filter.UserID != "" {
			where = append(where, "user_id = ?")
			args = append(args, filter.UserID)
		}
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			where = append(where, "(name ILIKE ? OR identifier ILIKE ? OR discord_username ILIKE ? OR email ILIKE ?)")
			args = append(args, val, val, val, val)
		}
	}

	q := "SELECT " + candidateColumns + " FROM candidates"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY " + core.OrderByClause(ordering, candidateOrderColumns, "created_at DESC") + ", name"

	var rows []candidateRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying candidates")
	}
	cands := make([]candidate.Candidate, 0, len(rows))
	for _, row := range rows {
		cands = append(cands, candidateFromRow(row))
	}
	return cands, nil
}

func (repo candidateRepository) CountCandidates(ctx context.Context, contestID string) (int, error) {
	var n int
	if err := repo.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM candidates WHERE contest_id = $1", contestID); err != nil {
		return 0, errors.Wrap(err, "counting candidates")
	}
	return n, nil
}

func (repo candidateRepository) GetCandidate(ctx context.Context, filter candidate.GetFilter) (candidate.Candidate, error) {
	var (
		row candidateRow
		err error
	)
	switch {
	case filter.ID != "":
		if _, err = uuid.Parse(filter.ID); err != nil {
			return candidate.Candidate{}, candidate.ErrNotFound
		}
		err = repo.db.GetContext(ctx, &row, "SELECT "+candidateColumns+" FROM candidates WHERE id = $1", filter.ID)
	case filter.ContestID != "" && filter.Identifier != "":
		err = repo.db.GetContext(ctx, &row, "SELECT "+candidateColumns+" FROM candidates WHERE contest_id = $1 AND identifier = $2",
			filter.ContestID, filter.Identifier)
	case filter.ContestID != "" && filter.UserID != "":
		err = repo.db.GetContext(ctx, &row, "SELECT "+candidateColumns+" FROM candidates WHERE contest_id = $1 AND user_id = $2 LIMIT 1",
			filter.ContestID, filter.UserID)
	default:
		return candidate.Candidate{}, candidate.ErrNotFound
	}
	if err != nil {
		return candidate.Candidate{}, trapNoRowsErr(err, candidate.ErrNotFound, "finding candidate")
	}
	return candidateFromRow(row), nil
}

func (repo candidateRepository) UpdateCandidate(ctx context.Context, cand candidate.Candidate) (candidate.Candidate, error) {
	var row candidateRow
	q, args, err := repo.db.BindNamed(`UPDATE candidates SET
		name = :name, discord_username = :discord_username, email = :email, identifier = :identifier,
		password_hash = :password_hash, invitation_sent_at = :invitation_sent_at
		WHERE id = :id RETURNING `+candidateColumns, candidateToRow(cand))
	if err != nil {
		return candidate.Candidate{}, errors.Wrap(err, "binding candidate")
	}
	if err = repo.db.GetContext(ctx, &row, q, args...); err != nil {
		if isUniqueViolation(err) {
			return candidate.Candidate{}, candidate.ErrIdentifierExists
		}
		return candidate.Candidate{}, trapNoRowsErr(err, candidate.ErrNotFound, "updating candidate")
	}
	return candidateFromRow(row), nil
}

func (repo candidateRepository) TransitionCandidate(ctx context.Context, t candidate.Transition) (candidate.Candidate, error) {
	if !candidate.CanTransition(t.From, t.To) {
		return candidate.Candidate{}, candidate.ErrInvalidTransition
	}

	var row candidateRow
	err := repo.db.GetContext(ctx, &row, `UPDATE candidates SET
		status = $1,
		started_at = CASE WHEN $1 = 'started' THEN $2 ELSE started_at END,
		module_started_at = CASE WHEN $1 = 'started' THEN $2 ELSE module_started_at END,
		current_module = CASE WHEN $1 = 'started' THEN 0 ELSE current_module END,
		completed_at = CASE WHEN $1 = 'completed' THEN $2 ELSE completed_at END
		WHERE id = $3 AND status = $4
		RETURNING `+candidateColumns, t.To, t.At.UTC(), t.ID, t.From)
	if err != nil {
		return candidate.Candidate{}, trapNoRowsErr(err, candidate.ErrInvalidTransition, "moving candidate status")
	}
	return candidateFromRow(row), nil
}

func (repo candidateRepository) AdvanceModule(ctx context.Context, id string, from int, startedAt time.Time) (candidate.Candidate, bool, error) {
	var row candidateRow
	err := repo.db.GetContext(ctx, &row, `UPDATE candidates SET current_module = $1, module_started_at = $2
		WHERE id = $3 AND status = 'started' AND current_module = $4
		RETURNING `+candidateColumns, from+1, startedAt.UTC(), id, from)
	if err == nil {
		return candidateFromRow(row), true, nil
	}
	if err != sql.ErrNoRows {
		return candidate.Candidate{}, false, errors.Wrap(err, "advancing module")
	}

	// lost the race: hand back the current state
	cand, err := repo.GetCandidate(ctx, candidate.GetFilter{ID: id})
	if err != nil {
		return candidate.Candidate{}, false, err
	}
	return cand, false, nil
}

// recomputeScore sets the candidate total to the sum of its response scores, within tx.
func recomputeScore(ctx context.Context, tx *sqlx.Tx, id string, grade candidate.GradeFunc) (candidate.Candidate, error) {
	var row candidateRow
	if err := tx.GetContext(ctx, &row, "SELECT "+candidateColumns+" FROM candidates WHERE id = $1 FOR UPDATE", id); err != nil {
		return candidate.Candidate{}, trapNoRowsErr(err, candidate.ErrNotFound, "locking candidate")
	}
	var total decimal.Decimal
	if err := tx.GetContext(ctx, &total, "SELECT COALESCE(SUM(score), 0) FROM responses WHERE candidate_id = $1", id); err != nil {
		return candidate.Candidate{}, errors.Wrap(err, "summing scores")
	}

	row.TotalScore = total
	if grade != nil {
		row.FinalGrade = decimal.NullDecimal{}
		if g := grade(decimalFloat(total)); g != nil {
			row.FinalGrade = decimal.NullDecimal{Decimal: decimal.NewFromFloat(*g), Valid: true}
		}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE candidates SET total_score = $1, final_grade = $2 WHERE id = $3",
		row.TotalScore, row.FinalGrade, id); err != nil {
		return candidate.Candidate{}, errors.Wrap(err, "saving total score")
	}
	return candidateFromRow(row), nil
}

func (repo candidateRepository) RecomputeScore(ctx context.Context, id string, grade candidate.GradeFunc) (candidate.Candidate, error) {
	var cand candidate.Candidate
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) (err error) {
		cand, err = recomputeScore(ctx, tx, id, grade)
		return err
	})
	return cand, err
}

func (repo candidateRepository) DeleteCandidate(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, "DELETE FROM candidates WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting candidate")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return candidate.ErrNotFound
	}
	return nil
}

func (repo candidateRepository) UpsertResponse(ctx context.Context, resp candidate.Response) (candidate.Response, error) {
	resp.ID = uuid.New().String()
	q, args, err := repo.db.BindNamed(`INSERT INTO responses (`+responseColumns+`) VALUES (
		:id, :candidate_id, :question_id, :response_text, :selected_option_id, :score, :is_correct, :submitted_at)
		ON CONFLICT (candidate_id, question_id) DO UPDATE SET
		response_text = EXCLUDED.response_text, selected_option_id = EXCLUDED.selected_option_id,
		is_correct = EXCLUDED.is_correct, submitted_at = EXCLUDED.submitted_at
		RETURNING `+responseColumns, responseToRow(resp))
	if err != nil {
		return candidate.Response{}, errors.Wrap(err, "binding response")
	}
	var row responseRow
	if err = repo.db.GetContext(ctx, &row, q, args...); err != nil {
		return candidate.Response{}, errors.Wrap(err, "saving response")
	}
	return responseFromRow(row), nil
}

func (repo candidateRepository) GetResponse(ctx context.Context, id string) (candidate.Response, error) {
	if _, err := uuid.Parse(id); err != nil {
		return candidate.Response{}, candidate.ErrResponseNotFound
	}
	var row responseRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+responseColumns+" FROM responses WHERE id = $1", id); err != nil {
		return candidate.Response{}, trapNoRowsErr(err, candidate.ErrResponseNotFound, "finding response")
	}
	return responseFromRow(row), nil
}

func (repo candidateRepository) QueryResponses(ctx context.Context, candidateIDs ...string) ([]candidate.Response, error) {
	if len(candidateIDs) == 0 {
		return []candidate.Response{}, nil
	}
	var rows []responseRow
	if err := selectIn(ctx, repo.db, &rows,
		"SELECT "+responseColumns+" FROM responses WHERE candidate_id IN (?) ORDER BY submitted_at", candidateIDs); err != nil {
		return nil, errors.Wrap(err, "querying responses")
	}
	resps := make([]candidate.Response, 0, len(rows))
	for _, row := range rows {
		resps = append(resps, responseFromRow(row))
	}
	return resps, nil
}

func (repo candidateRepository) SaveEvaluation(ctx context.Context, eval candidate.Evaluation, grade candidate.GradeFunc) (candidate.Evaluation, candidate.Candidate, error) {
	var (
		saved candidate.Evaluation
		cand  candidate.Candidate
	)
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var candidateID string
		if err := tx.GetContext(ctx, &candidateID, "SELECT candidate_id FROM responses WHERE id = $1", eval.ResponseID); err != nil {
			return trapNoRowsErr(err, candidate.ErrResponseNotFound, "finding response")
		}
		// serialize the graders of the same candidate
		if _, err := tx.ExecContext(ctx, "SELECT id FROM candidates WHERE id = $1 FOR UPDATE", candidateID); err != nil {
			return errors.Wrap(err, "locking candidate")
		}

		var row evaluationRow
		err := tx.GetContext(ctx, &row, `INSERT INTO evaluations (`+evaluationColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (response_id) DO UPDATE SET
			evaluator_id = EXCLUDED.evaluator_id, score = EXCLUDED.score, feedback = EXCLUDED.feedback,
			is_final = EXCLUDED.is_final, evaluated_at = EXCLUDED.evaluated_at
			RETURNING `+evaluationColumns,
			uuid.New().String(), eval.ResponseID, nullString(eval.EvaluatorID), decimal.NewFromFloat(eval.Score),
			nullString(eval.Feedback), eval.IsFinal, eval.EvaluatedAt.UTC())
		if err != nil {
			return errors.Wrap(err, "saving evaluation")
		}
		saved = evaluationFromRow(row)

		if _, err = tx.ExecContext(ctx, "UPDATE responses SET score = $1 WHERE id = $2", row.Score, eval.ResponseID); err != nil {
			return errors.Wrap(err, "saving response score")
		}
		cand, err = recomputeScore(ctx, tx, candidateID, grade)
		return err
	})
	if err != nil {
		return candidate.Evaluation{}, candidate.Candidate{}, err
	}
	return saved, cand, nil
}

func (repo candidateRepository) QueryEvaluations(ctx context.Context, responseIDs ...string) ([]candidate.Evaluation, error) {
	if len(responseIDs) == 0 {
		return []candidate.Evaluation{}, nil
	}
	var rows []evaluationRow
	if err := selectIn(ctx, repo.db, &rows,
		"SELECT "+evaluationColumns+" FROM evaluations WHERE response_id IN (?)", responseIDs); err != nil {
		return nil, errors.Wrap(err, "querying evaluations")
	}
	evals := make([]candidate.Evaluation, 0, len(rows))
	for _, row := range rows {
		evals = append(evals, evaluationFromRow(row))
	}
	return evals, nil
}
