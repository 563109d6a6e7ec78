package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/rpconcours/concours/core"
	"github.com/rpconcours/concours/core/contest"
)

const (
	agencyColumns = `id, name, description, logo_url, director_name, deputy_director_name, specialties, created_at, updated_at`

	contestColumns = `id, name, description, start_date, end_date, type, status, logo_url, access_link,
	max_participants, is_recurring, recurring_interval, agency_id, academy_module_id, created_by, created_at, updated_at`

	moduleColumns = `id, contest_id, title, module_type, description, max_score, time_limit_minutes,
	order_position, is_required, created_at`

	questionColumns = `id, module_id, content, question_type, points, order_index, media_url, correct_answer,
	explanation, created_at`

	optionColumns = `id, question_id, option_text, is_correct, option_order`
)

var contestOrderColumns = map[string]string{
	"name":       "name",
	"start_date": "start_date",
	"end_date":   "end_date",
	"status":     "status",
	"created_at": "created_at",
}

type (
	agencyRow struct {
		ID                 string         `db:"id"`
		Name               string         `db:"name"`
		Description        null.String    `db:"description"`
		LogoURL            null.String    `db:"logo_url"`
		DirectorName       null.String    `db:"director_name"`
		DeputyDirectorName null.String    `db:"deputy_director_name"`
		Specialties        pq.StringArray `db:"specialties"`
		CreatedAt          time.Time      `db:"created_at"`
		UpdatedAt          time.Time      `db:"updated_at"`
	}

	contestRow struct {
		ID                string      `db:"id"`
		Name              string      `db:"name"`
		Description       null.String `db:"description"`
		StartDate         null.Time   `db:"start_date"`
		EndDate           null.Time   `db:"end_date"`
		Type              string      `db:"type"`
		Status            string      `db:"status"`
		LogoURL           null.String `db:"logo_url"`
		AccessLink        null.String `db:"access_link"`
		MaxParticipants   null.Int    `db:"max_participants"`
		IsRecurring       bool        `db:"is_recurring"`
		RecurringInterval null.String `db:"recurring_interval"`
		AgencyID          null.String `db:"agency_id"`
		AcademyModuleID   null.String `db:"academy_module_id"`
		CreatedBy         null.String `db:"created_by"`
		CreatedAt         time.Time   `db:"created_at"`
		UpdatedAt         time.Time   `db:"updated_at"`
	}

	moduleRow struct {
		ID               string          `db:"id"`
		ContestID        string          `db:"contest_id"`
		Title            string          `db:"title"`
		ModuleType       string          `db:"module_type"`
		Description      null.String     `db:"description"`
		MaxScore         decimal.Decimal `db:"max_score"`
		TimeLimitMinutes null.Int        `db:"time_limit_minutes"`
		OrderPosition    int             `db:"order_position"`
		IsRequired       bool            `db:"is_required"`
		CreatedAt        time.Time       `db:"created_at"`
	}

	questionRow struct {
		ID            string          `db:"id"`
		ModuleID      string          `db:"module_id"`
		Content       string          `db:"content"`
		QuestionType  string          `db:"question_type"`
		Points        decimal.Decimal `db:"points"`
		OrderIndex    int             `db:"order_index"`
		MediaURL      null.String     `db:"media_url"`
		CorrectAnswer null.String     `db:"correct_answer"`
		Explanation   null.String     `db:"explanation"`
		CreatedAt     time.Time       `db:"created_at"`
	}

	optionRow struct {
		ID          string `db:"id"`
		QuestionID  string `db:"question_id"`
		OptionText  string `db:"option_text"`
		IsCorrect   bool   `db:"is_correct"`
		OptionOrder int    `db:"option_order"`
	}
)

func decimalFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func nullInt(i int) null.Int {
	return null.NewInt(i, i != 0)
}

func timePtr(t null.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func agencyToRow(a contest.Agency) agencyRow {
	specs := a.Specialties
	if specs == nil {
		specs = []string{}
	}
	return agencyRow{
		ID:                 a.ID,
		Name:               a.Name,
		Description:        nullString(a.Description),
		LogoURL:            nullString(a.LogoURL),
		DirectorName:       nullString(a.DirectorName),
		DeputyDirectorName: nullString(a.DeputyDirectorName),
		Specialties:        specs,
		CreatedAt:          a.CreatedAt.UTC(),
		UpdatedAt:          a.UpdatedAt.UTC(),
	}
}

func agencyFromRow(row agencyRow) contest.Agency {
	specs := []string(row.Specialties)
	if specs == nil {
		specs = []string{}
	}
	return contest.Agency{
		ID:                 row.ID,
		Name:               row.Name,
		Description:        row.Description.String,
		LogoURL:            row.LogoURL.String,
		DirectorName:       row.DirectorName.String,
		DeputyDirectorName: row.DeputyDirectorName.String,
		Specialties:        specs,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
}

func contestToRow(c contest.Contest) contestRow {
	return contestRow{
		ID:                c.ID,
		Name:              c.Name,
		Description:       nullString(c.Description),
		StartDate:         nullTimePtr(c.StartDate),
		EndDate:           nullTimePtr(c.EndDate),
		Type:              c.Type,
		Status:            c.Status,
		LogoURL:           nullString(c.LogoURL),
		AccessLink:        nullString(c.AccessLink),
		MaxParticipants:   nullInt(c.MaxParticipants),
		IsRecurring:       c.IsRecurring,
		RecurringInterval: nullString(c.RecurringInterval),
		AgencyID:          nullString(c.AgencyID),
		AcademyModuleID:   nullString(c.AcademyModuleID),
		CreatedBy:         nullString(c.CreatedBy),
		CreatedAt:         c.CreatedAt.UTC(),
		UpdatedAt:         c.UpdatedAt.UTC(),
	}
}

func contestFromRow(row contestRow) contest.Contest {
	return contest.Contest{
		ID:                row.ID,
		Name:              row.Name,
		Description:       row.Description.String,
		StartDate:         timePtr(row.StartDate),
		EndDate:           timePtr(row.EndDate),
		Type:              row.Type,
		Status:            row.Status,
		LogoURL:           row.LogoURL.String,
		AccessLink:        row.AccessLink.String,
		MaxParticipants:   row.MaxParticipants.Int,
		IsRecurring:       row.IsRecurring,
		RecurringInterval: row.RecurringInterval.String,
		AgencyID:          row.AgencyID.String,
		AcademyModuleID:   row.AcademyModuleID.String,
		CreatedBy:         row.CreatedBy.String,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
}

func moduleToRow(m contest.Module) moduleRow {
	return moduleRow{
		ID:               m.ID,
		ContestID:        m.ContestID,
		Title:            m.Title,
		ModuleType:       m.ModuleType,
		Description:      nullString(m.Description),
		MaxScore:         decimal.NewFromFloat(m.MaxScore),
		TimeLimitMinutes: nullInt(m.TimeLimitMinutes),
		OrderPosition:    m.OrderPosition,
		IsRequired:       m.IsRequired,
		CreatedAt:        m.CreatedAt.UTC(),
	}
}

func moduleFromRow(row moduleRow) contest.Module {
	return contest.Module{
		ID:               row.ID,
		ContestID:        row.ContestID,
		Title:            row.Title,
		ModuleType:       row.ModuleType,
		Description:      row.Description.String,
		MaxScore:         decimalFloat(row.MaxScore),
		TimeLimitMinutes: row.TimeLimitMinutes.Int,
		OrderPosition:    row.OrderPosition,
		IsRequired:       row.IsRequired,
		CreatedAt:        row.CreatedAt,
	}
}

func questionToRow(q contest.Question) questionRow {
	return questionRow{
		ID:            q.ID,
		ModuleID:      q.ModuleID,
		Content:       q.Content,
		QuestionType:  q.QuestionType,
		Points:        decimal.NewFromFloat(q.Points),
		OrderIndex:    q.OrderIndex,
		MediaURL:      nullString(q.MediaURL),
		CorrectAnswer: nullString(q.CorrectAnswer),
		Explanation:   nullString(q.Explanation),
		CreatedAt:     q.CreatedAt.UTC(),
	}
}

func questionFromRow(row questionRow) contest.Question {
	return contest.Question{
		ID:            row.ID,
		ModuleID:      row.ModuleID,
		Content:       row.Content,
		QuestionType:  row.QuestionType,
		Points:        decimalFloat(row.Points),
		OrderIndex:    row.OrderIndex,
		MediaURL:      row.MediaURL.String,
		CorrectAnswer: row.CorrectAnswer.String,
		Explanation:   row.Explanation.String,
		CreatedAt:     row.CreatedAt,
	}
}

type contestRepository struct {
	db *sqlx.DB
}

var _ contest.Repository = (*contestRepository)(nil) // interface compliance check

func NewContestRepository(db *sqlx.DB) *contestRepository {
	return &contestRepository{db: db}
}

// Agencies

func (repo contestRepository) CreateAgency(ctx context.Context, agency contest.Agency) (contest.Agency, error) {
	agency.ID = uuid.New().String()
	_, err := repo.db.NamedExecContext(ctx, `INSERT INTO agencies (`+agencyColumns+`) VALUES (
		:id, :name, :description, :logo_url, :director_name, :deputy_director_name, :specialties, :created_at, :updated_at)`,
		agencyToRow(agency))
	if err != nil {
		return contest.Agency{}, errors.Wrap(err, "inserting agency")
	}
	return agency, nil
}

func (repo contestRepository) QueryAgencies(ctx context.Context) ([]contest.Agency, error) {
	var rows []agencyRow
	if err := repo.db.SelectContext(ctx, &rows, "SELECT "+agencyColumns+" FROM agencies ORDER BY name"); err != nil {
		return nil, errors.Wrap(err, "querying agencies")
	}
	agencies := make([]contest.Agency, 0, len(rows))
	for _, row := range rows {
		agencies = append(agencies, agencyFromRow(row))
	}
	return agencies, nil
}

func (repo contestRepository) GetAgency(ctx context.Context, id string) (contest.Agency, error) {
	if _, err := uuid.Parse(id); err != nil {
		return contest.Agency{}, contest.ErrAgencyNotFound
	}
	var row agencyRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+agencyColumns+" FROM agencies WHERE id = $1", id); err != nil {
		return contest.Agency{}, trapNoRowsErr(err, contest.ErrAgencyNotFound, "finding agency")
	}
	return agencyFromRow(row), nil
}

func (repo contestRepository) UpdateAgency(ctx context.Context, agency contest.Agency) (contest.Agency, error) {
	res, err := repo.db.NamedExecContext(ctx, `UPDATE agencies SET
		name = :name, description = :description, logo_url = :logo_url, director_name = :director_name,
		deputy_director_name = :deputy_director_name, specialties = :specialties, updated_at = :updated_at
		WHERE id = :id`, agencyToRow(agency))
	if err != nil {
		return contest.Agency{}, errors.Wrap(err, "updating agency")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return contest.Agency{}, contest.ErrAgencyNotFound
	}
	return agency, nil
}

func (repo contestRepository) DeleteAgency(ctx context.Context, id string) error {
	if _, err := repo.db.ExecContext(ctx, "DELETE FROM agencies WHERE id = $1", id); err != nil {
		return errors.Wrap(err, "deleting agency")
	}
	return nil
}

// Contests

func insertModule(ctx context.Context, tx *sqlx.Tx, m contest.Module) (contest.Module, error) {
	m.ID = uuid.New().String()
	_, err := tx.NamedExecContext(ctx, `INSERT INTO modules (`+moduleColumns+`) VALUES (
		:id, :contest_id, :title, :module_type, :description, :max_score, :time_limit_minutes,
		:order_position, :is_required, :created_at)`, moduleToRow(m))
	if err != nil {
		return contest.Module{}, errors.Wrap(err, "inserting module")
	}
	for i, q := range m.Questions {
		q.ModuleID = m.ID
		if m.Questions[i], err = insertQuestion(ctx, tx, q); err != nil {
			return contest.Module{}, err
		}
	}
	return m, nil
}

func insertQuestion(ctx context.Context, tx *sqlx.Tx, q contest.Question) (contest.Question, error) {
	q.ID = uuid.New().String()
	_, err := tx.NamedExecContext(ctx, `INSERT INTO questions (`+questionColumns+`) VALUES (
		:id, :module_id, :content, :question_type, :points, :order_index, :media_url, :correct_answer,
		:explanation, :created_at)`, questionToRow(q))
	if err != nil {
		return contest.Question{}, errors.Wrap(err, "inserting question")
	}
	if q.Options, err = insertOptions(ctx, tx, q.ID, q.Options); err != nil {
		return contest.Question{}, err
	}
	return q, nil
}

func insertOptions(ctx context.Context, tx *sqlx.Tx, questionID string, opts []contest.Option) ([]contest.Option, error) {
	res := make([]contest.Option, 0, len(opts))
	for _, o := range opts {
		o.ID = uuid.New().String()
		o.QuestionID = questionID
		_, err := tx.NamedExecContext(ctx, `INSERT INTO qcm_options (`+optionColumns+`) VALUES (
			:id, :question_id, :option_text, :is_correct, :option_order)`, optionRow(o))
		if err != nil {
			return nil, errors.Wrap(err, "inserting option")
		}
		res = append(res, o)
	}
	return res, nil
}

func (repo contestRepository) CreateContest(ctx context.Context, c contest.Contest) (contest.Contest, error) {
	c.ID = uuid.New().String()
	modules := c.Modules
	c.Modules = nil
	c.Agency = nil

	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `INSERT INTO contests (`+contestColumns+`) VALUES (
			:id, :name, :description, :start_date, :end_date, :type, :status, :logo_url, :access_link,
			:max_participants, :is_recurring, :recurring_interval, :agency_id, :academy_module_id, :created_by,
			:created_at, :updated_at)`, contestToRow(c))
		if err != nil {
			return errors.Wrap(err, "inserting contest")
		}
		for i, m := range modules {
			m.ContestID = c.ID
			if m.OrderPosition == 0 {
				m.OrderPosition = i + 1
			}
			for j := range m.Questions {
				if m.Questions[j].OrderIndex == 0 {
					m.Questions[j].OrderIndex = j + 1
				}
			}
			if _, err = insertModule(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return contest.Contest{}, err
	}
	return c, nil
}

func (repo contestRepository) QueryContests(ctx context.Context, filter *contest.QueryFilter, ordering []core.DBOrdering) ([]contest.Contest, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter != nil {
		if filter.Type != "" {
			where = append(where, "type = ?")
			args = append(args, filter.Type)
		}
		if filter.Status != "" {
			where = append(where, "status = ?")
			args = append(args, filter.Status)
		}
		if filter.AgencyID != "" {
			where = append(where, "agency_id = ?")
			args = append(args, filter.AgencyID)
		}
		if filter.CreatedBy != "" {
			where = append(where, "created_by = ?")
			args = append(args, filter.CreatedBy)
		}
		if filter.Search != "" {
			where = append(where, "name ILIKE ?")
			args = append(args, "%"+filter.Search+"%")
		}
		if filter.AcademyModuleIDs != nil {
			if len(filter.AcademyModuleIDs) == 0 {
				return []contest.Contest{}, nil
			}
			where = append(where, "academy_module_id IN (?)")
			args = append(args, filter.AcademyModuleIDs)
		}
	}

	q := "SELECT " + contestColumns + " FROM contests"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY " + core.OrderByClause(ordering, contestOrderColumns, "created_at DESC")

	var rows []contestRow
	if err := selectIn(ctx, repo.db, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying contests")
	}
	contests := make([]contest.Contest, 0, len(rows))
	for _, row := range rows {
		contests = append(contests, contestFromRow(row))
	}
	return contests, nil
}

func (repo contestRepository) GetContest(ctx context.Context, id string) (contest.Contest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return contest.Contest{}, contest.ErrNotFound
	}
	var row contestRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+contestColumns+" FROM contests WHERE id = $1", id); err != nil {
		return contest.Contest{}, trapNoRowsErr(err, contest.ErrNotFound, "finding contest")
	}
	return contestFromRow(row), nil
}

func (repo contestRepository) GetContestByAccessLink(ctx context.Context, link string) (contest.Contest, error) {
	var row contestRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+contestColumns+" FROM contests WHERE access_link = $1", link); err != nil {
		return contest.Contest{}, trapNoRowsErr(err, contest.ErrNotFound, "finding contest by access link")
	}
	return contestFromRow(row), nil
}

func (repo contestRepository) UpdateContest(ctx context.Context, c contest.Contest) (contest.Contest, error) {
	var row contestRow
	q, args, err := repo.db.BindNamed(`UPDATE contests SET
		name = :name, description = :description, start_date = :start_date, end_date = :end_date,
		type = :type, logo_url = :logo_url, access_link = :access_link, max_participants = :max_participants,
		is_recurring = :is_recurring, recurring_interval = :recurring_interval, agency_id = :agency_id,
		academy_module_id = :academy_module_id, updated_at = :updated_at
		WHERE id = :id RETURNING `+contestColumns, contestToRow(c))
	if err != nil {
		return contest.Contest{}, errors.Wrap(err, "binding contest")
	}
	if err = repo.db.GetContext(ctx, &row, q, args...); err != nil {
		return contest.Contest{}, trapNoRowsErr(err, contest.ErrNotFound, "updating contest")
	}
	return contestFromRow(row), nil
}

func (repo contestRepository) UpdateContestStatus(ctx context.Context, id, from, to string, updatedAt time.Time) (contest.Contest, error) {
	var row contestRow
	err := repo.db.GetContext(ctx, &row,
		"UPDATE contests SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4 RETURNING "+contestColumns,
		to, updatedAt.UTC(), id, from)
	if err != nil {
		return contest.Contest{}, trapNoRowsErr(err, contest.ErrInvalidStatus, "updating contest status")
	}
	return contestFromRow(row), nil
}

func (repo contestRepository) DeleteContest(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, "DELETE FROM contests WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting contest")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return contest.ErrNotFound
	}
	return nil
}

// Modules

func (repo contestRepository) CreateModule(ctx context.Context, m contest.Module) (contest.Module, error) {
	m.Questions = nil
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		// lock the contest row so that concurrent creations get distinct positions
		var id string
		if err := tx.GetContext(ctx, &id, "SELECT id FROM contests WHERE id = $1 FOR UPDATE", m.ContestID); err != nil {
			return trapNoRowsErr(err, contest.ErrNotFound, "locking contest")
		}
		if err := tx.GetContext(ctx, &m.OrderPosition,
			"SELECT COALESCE(MAX(order_position), 0) + 1 FROM modules WHERE contest_id = $1", m.ContestID); err != nil {
			return errors.Wrap(err, "getting next position")
		}
		var err error
		m, err = insertModule(ctx, tx, m)
		return err
	})
	if err != nil {
		return contest.Module{}, err
	}
	m.Questions = []contest.Question{}
	return m, nil
}

// fillQuestions loads the questions & options of the modules, in order.
func (repo contestRepository) fillQuestions(ctx context.Context, modules []contest.Module) error {
	if len(modules) == 0 {
		return nil
	}
	ids := make([]string, len(modules))
	idx := make(map[string]int, len(modules))
	for i, m := range modules {
		ids[i] = m.ID
		idx[m.ID] = i
		modules[i].Questions = make([]contest.Question, 0)
	}

	var qRows []questionRow
	if err := selectIn(ctx, repo.db, &qRows,
		"SELECT "+questionColumns+" FROM questions WHERE module_id IN (?) ORDER BY order_index", ids); err != nil {
		return errors.Wrap(err, "querying questions")
	}
	questions := make([]contest.Question, 0, len(qRows))
	for _, row := range qRows {
		questions = append(questions, questionFromRow(row))
	}
	if err := repo.fillOptions(ctx, questions); err != nil {
		return err
	}
	for _, q := range questions {
		i := idx[q.ModuleID]
		modules[i].Questions = append(modules[i].Questions, q)
	}
	return nil
}

func (repo contestRepository) fillOptions(ctx context.Context, questions []contest.Question) error {
	if len(questions) == 0 {
		return nil
	}
	ids := make([]string, len(questions))
	idx := make(map[string]int, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
		idx[q.ID] = i
		questions[i].Options = make([]contest.Option, 0)
	}

	var oRows []optionRow
	if err := selectIn(ctx, repo.db, &oRows,
		"SELECT "+optionColumns+" FROM qcm_options WHERE question_id IN (?) ORDER BY option_order", ids); err != nil {
		return errors.Wrap(err, "querying options")
	}
	for _, row := range oRows {
		i := idx[row.QuestionID]
		questions[i].Options = append(questions[i].Options, contest.Option(row))
	}
	return nil
}

func (repo contestRepository) QueryModules(ctx context.Context, contestID string) ([]contest.Module, error) {
	var rows []moduleRow
	if err := repo.db.SelectContext(ctx, &rows,
		"SELECT "+moduleColumns+" FROM modules WHERE contest_id = $1 ORDER BY order_position", contestID); err != nil {
		return nil, errors.Wrap(err, "querying modules")
	}
	modules := make([]contest.Module, 0, len(rows))
	for _, row := range rows {
		modules = append(modules, moduleFromRow(row))
	}
	if err := repo.fillQuestions(ctx, modules); err != nil {
		return nil, err
	}
	return modules, nil
}

func (repo contestRepository) GetModule(ctx context.Context, id string) (contest.Module, error) {
	if _, err := uuid.Parse(id); err != nil {
		return contest.Module{}, contest.ErrModuleNotFound
	}
	var row moduleRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+moduleColumns+" FROM modules WHERE id = $1", id); err != nil {
		return contest.Module{}, trapNoRowsErr(err, contest.ErrModuleNotFound, "finding module")
	}
	modules := []contest.Module{moduleFromRow(row)}
	if err := repo.fillQuestions(ctx, modules); err != nil {
		return contest.Module{}, err
	}
	return modules[0], nil
}

func (repo contestRepository) UpdateModule(ctx context.Context, m contest.Module) (contest.Module, error) {
	res, err := repo.db.NamedExecContext(ctx, `UPDATE modules SET
		title = :title, module_type = :module_type, description = :description, max_score = :max_score,
		time_limit_minutes = :time_limit_minutes, is_required = :is_required
		WHERE id = :id`, moduleToRow(m))
	if err != nil {
		return contest.Module{}, errors.Wrap(err, "updating module")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return contest.Module{}, contest.ErrModuleNotFound
	}
	return repo.GetModule(ctx, m.ID)
}

func (repo contestRepository) DeleteModule(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, "DELETE FROM modules WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting module")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return contest.ErrModuleNotFound
	}
	return nil
}

func (repo contestRepository) ReorderModules(ctx context.Context, contestID string, ids []string) error {
	return withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		for i, id := range ids {
			res, err := tx.ExecContext(ctx,
				"UPDATE modules SET order_position = $1 WHERE id = $2 AND contest_id = $3", i+1, id, contestID)
			if err != nil {
				return errors.Wrap(err, "updating module position")
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return contest.ErrModuleNotFound
			}
		}
		return nil
	})
}

// Questions

func (repo contestRepository) CreateQuestion(ctx context.Context, q contest.Question) (contest.Question, error) {
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var id string
		if err := tx.GetContext(ctx, &id, "SELECT id FROM modules WHERE id = $1 FOR UPDATE", q.ModuleID); err != nil {
			return trapNoRowsErr(err, contest.ErrModuleNotFound, "locking module")
		}
		if err := tx.GetContext(ctx, &q.OrderIndex,
			"SELECT COALESCE(MAX(order_index), 0) + 1 FROM questions WHERE module_id = $1", q.ModuleID); err != nil {
			return errors.Wrap(err, "getting next index")
		}
		var err error
		q, err = insertQuestion(ctx, tx, q)
		return err
	})
	if err != nil {
		return contest.Question{}, err
	}
	return q, nil
}

func (repo contestRepository) GetQuestion(ctx context.Context, id string) (contest.Question, error) {
	if _, err := uuid.Parse(id); err != nil {
		return contest.Question{}, contest.ErrQuestionNotFound
	}
	var row questionRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+questionColumns+" FROM questions WHERE id = $1", id); err != nil {
		return contest.Question{}, trapNoRowsErr(err, contest.ErrQuestionNotFound, "finding question")
	}
	questions := []contest.Question{questionFromRow(row)}
	if err := repo.fillOptions(ctx, questions); err != nil {
		return contest.Question{}, err
	}
	return questions[0], nil
}

func (repo contestRepository) UpdateQuestion(ctx context.Context, q contest.Question, replaceOptions bool) (contest.Question, error) {
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, `UPDATE questions SET
			content = :content, question_type = :question_type, points = :points, media_url = :media_url,
			correct_answer = :correct_answer, explanation = :explanation
			WHERE id = :id`, questionToRow(q))
		if err != nil {
			return errors.Wrap(err, "updating question")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return contest.ErrQuestionNotFound
		}
		if !replaceOptions {
			return nil
		}
		if _, err = tx.ExecContext(ctx, "DELETE FROM qcm_options WHERE question_id = $1", q.ID); err != nil {
			return errors.Wrap(err, "deleting options")
		}
		_, err = insertOptions(ctx, tx, q.ID, q.Options)
		return err
	})
	if err != nil {
		return contest.Question{}, err
	}
	return repo.GetQuestion(ctx, q.ID)
}

func (repo contestRepository) DeleteQuestion(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, "DELETE FROM questions WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting question")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return contest.ErrQuestionNotFound
	}
	return nil
}
